package livehttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"spotpilot/internal/decision"
	"spotpilot/internal/engine"
	"spotpilot/internal/executor"
	"spotpilot/internal/gateway/exchange"
	"spotpilot/internal/reconcile"
	"spotpilot/internal/store"
	"spotpilot/internal/store/eventlog"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSubmitter struct{ mock.Mock }

func (m *MockSubmitter) Submit(ctx context.Context, p decision.Proposal) (engine.Outcome, error) {
	args := m.Called(ctx, p)
	out, _ := args.Get(0).(engine.Outcome)
	return out, args.Error(1)
}

type MockReconciler struct{ mock.Mock }

func (m *MockReconciler) RunOnce(ctx context.Context) (reconcile.Report, error) {
	args := m.Called(ctx)
	rep, _ := args.Get(0).(reconcile.Report)
	return rep, args.Error(1)
}

type memRecs map[int64]store.Recommendation

func (m memRecs) Get(_ context.Context, id int64) (store.Recommendation, error) {
	if rec, ok := m[id]; ok {
		return rec, nil
	}
	return store.Recommendation{}, store.ErrNotFound
}

func (m memRecs) ListRecent(_ context.Context, limit int) ([]store.Recommendation, error) {
	out := make([]store.Recommendation, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	return out, nil
}

type fakeEvents struct{ last eventlog.Query }

func (f *fakeEvents) List(_ context.Context, q eventlog.Query) ([]eventlog.Record, error) {
	f.last = q
	return []eventlog.Record{{ID: 1}}, nil
}

func newTestServer(t *testing.T, r Router) http.Handler {
	t.Helper()
	srv, err := NewServer(ServerConfig{Router: NewRouter(r), Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("spotpilot_up 1\n"))
	})})
	require.NoError(t, err)
	return srv.Handler()
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzAndMetrics(t *testing.T) {
	h := newTestServer(t, Router{})
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "").Code)
	res := do(h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), "spotpilot_up 1")
}

func TestRecommendationByID(t *testing.T) {
	recs := memRecs{5: {ID: 5, Proposal: decision.Proposal{Symbol: "BTCUSDT", Signal: decision.SignalBuy}}}
	h := newTestServer(t, Router{Recommendations: recs})

	res := do(h, http.MethodGet, "/api/recommendations/5", "")
	require.Equal(t, http.StatusOK, res.Code)
	var got store.Recommendation
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &got))
	assert.Equal(t, int64(5), got.ID)

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/api/recommendations/9", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/recommendations/abc", "").Code)

	res = do(h, http.MethodGet, "/api/recommendations?symbol=ethusdt", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"count":0`)
}

func TestSubmitProposal(t *testing.T) {
	sub := new(MockSubmitter)
	sub.On("Submit", mock.Anything, mock.MatchedBy(func(p decision.Proposal) bool {
		return p.Symbol == "BTCUSDT" && p.Signal == decision.SignalBuy && p.Amount.Decimal.Equal(decimal.NewFromInt(100))
	})).Return(engine.Outcome{RecordID: 3, Admitted: true, Executed: true}, nil).Once()
	h := newTestServer(t, Router{Submitter: sub, DefaultSymbol: "BTCUSDT"})

	body := `{"signal":"BUY","confidence":"HIGH","amount":100,"amountUnit":"QUOTE","entryType":"MARKET",
		"stopLoss":1900,"takeProfit1":2100,"expectedRiskReward":3}`
	res := do(h, http.MethodPost, "/api/proposals", body)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Contains(t, res.Body.String(), `"recordId":3`)
	sub.AssertExpectations(t)
}

func TestSubmitProposalErrors(t *testing.T) {
	sub := new(MockSubmitter)
	h := newTestServer(t, Router{Submitter: sub, DefaultSymbol: "BTCUSDT"})

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/proposals", `{"signal":"MAYBE","confidence":"HIGH"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/proposals", `not json`).Code)
	sub.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)

	cases := []struct {
		err  error
		want int
	}{
		{executor.ErrMissingCredentials, http.StatusServiceUnavailable},
		{&exchange.RejectedError{Code: -2010, Message: "insufficient balance"}, http.StatusUnprocessableEntity},
		{fmt.Errorf("place: %w", exchange.ErrTransient), http.StatusBadGateway},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, submitStatus(tc.err), tc.err.Error())
	}
}

func TestReconcileConflict(t *testing.T) {
	rc := new(MockReconciler)
	rc.On("RunOnce", mock.Anything).Return(reconcile.Report{Checked: 2}, nil).Once()
	rc.On("RunOnce", mock.Anything).Return(reconcile.Report{}, reconcile.ErrTickRunning).Once()
	h := newTestServer(t, Router{Reconciler: rc})

	res := do(h, http.MethodPost, "/api/reconcile", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Body.String(), `"checked":2`)
	assert.Equal(t, http.StatusConflict, do(h, http.MethodPost, "/api/reconcile", "").Code)
}

func TestEventsQuery(t *testing.T) {
	ev := &fakeEvents{}
	h := newTestServer(t, Router{Events: ev})
	res := do(h, http.MethodGet, "/api/events?kind=oco_placed&symbol=btcusdt&limit=900&recommendation_id=4", "")
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "oco_placed", string(ev.last.Kind))
	assert.Equal(t, "BTCUSDT", ev.last.Symbol)
	assert.Equal(t, 500, ev.last.Limit)
	assert.Equal(t, int64(4), ev.last.RecommendationID)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/api/events?since=yesterday", "").Code)
}

func TestUnconfiguredRoutes(t *testing.T) {
	h := newTestServer(t, Router{})
	assert.Equal(t, http.StatusServiceUnavailable, do(h, http.MethodGet, "/api/account", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(h, http.MethodPost, "/api/reconcile", "").Code)
}
