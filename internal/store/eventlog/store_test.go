package eventlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"spotpilot/internal/gateway/notifier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndList(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Notify(ctx, notifier.Event{Kind: notifier.KindTradeSkipped, Symbol: "ethusdt", Message: "confidence too low", At: base}))
	_, err = s.Append(ctx, notifier.Event{
		Kind: notifier.KindTradeExecuted, Symbol: "ETHUSDT", RecommendationID: 3,
		Fields: map[string]string{"orderId": "42"}, At: base.Add(time.Minute),
	})
	require.NoError(t, err)

	all, err := s.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, notifier.KindTradeExecuted, all[0].Kind)
	assert.Equal(t, "42", all[0].Fields["orderId"])
	assert.Equal(t, "ETHUSDT", all[1].Symbol)
	assert.Equal(t, base, all[1].At)

	skipped, err := s.List(ctx, Query{Kind: notifier.KindTradeSkipped})
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, "confidence too low", skipped[0].Message)

	byRec, err := s.List(ctx, Query{RecommendationID: 3})
	require.NoError(t, err)
	assert.Len(t, byRec, 1)

	recent, err := s.List(ctx, Query{Since: base.Add(30 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, recent, 1)
}

func TestClosedStoreErrors(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, err = s.Append(context.Background(), notifier.Event{Kind: notifier.KindError})
	assert.Error(t, err)
	assert.Error(t, (&Store{}).UseExternalDB(nil))
}
