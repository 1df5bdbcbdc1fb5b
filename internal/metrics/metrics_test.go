package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.OrderPlaced("BUY", "MARKET")
	m.OrderPlaced("BUY", "MARKET")
	m.AdmissionRejected("low_confidence")
	m.TickDone("ok", 150*time.Millisecond)
	m.OCOPlacedInc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `spotpilot_orders_placed_total{side="BUY",type="MARKET"} 2`)
	assert.Contains(t, body, `spotpilot_admission_rejections_total{reason="low_confidence"} 1`)
	assert.Contains(t, body, "spotpilot_oco_placed_total 1")
	assert.Contains(t, body, "spotpilot_reconcile_tick_seconds_count 1")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.OrderPlaced("BUY", "LIMIT")
		m.RecordError("query")
		m.ObserveExchange("place_order", "ok", time.Second)
		m.SetBreakerState(1)
	})
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
