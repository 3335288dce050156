package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"qxtrader/model"
)

type recordingSubscriber struct {
	mu   sync.Mutex
	seen []Entry
	fail map[Entry]bool
}

func (r *recordingSubscriber) SubscribeEntry(ctx context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, e)
	if r.fail[e] {
		return errors.New("boom")
	}
	return nil
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	e := Entry{Asset: "EURUSD_otc", Period: 60, Kind: KindCandle}

	require.True(t, r.Register(e))
	require.False(t, r.Register(e))
	require.True(t, r.Register(Entry{Asset: "EURUSD_otc", Period: 60, Kind: KindPrice}))
	require.Equal(t, 2, r.Len())

	require.True(t, r.Unregister(e))
	require.False(t, r.Unregister(e))
	require.False(t, r.Has(e))
	require.Equal(t, 1, r.Len())
}

func TestRegistry_ReplayAllOncePerEntry(t *testing.T) {
	r := NewRegistry()
	entries := []Entry{
		{Asset: "EURUSD", Period: 60, Kind: KindCandle},
		{Asset: "EURUSD", Period: 0, Kind: KindPrice},
		{Asset: "USDBRL_otc", Period: 5, Kind: KindCandle},
		{Asset: "USDBRL_otc", Period: 0, Kind: KindSentiment},
	}
	for _, e := range entries {
		r.Register(e)
		r.Register(e)
	}

	sub := &recordingSubscriber{}
	require.NoError(t, r.ReplayAll(context.Background(), sub))
	require.ElementsMatch(t, entries, sub.seen)
}

func TestRegistry_ReplayContinuesPastFailures(t *testing.T) {
	r := NewRegistry()
	bad := Entry{Asset: "BAD", Period: 60, Kind: KindCandle}
	good := Entry{Asset: "GOOD", Period: 60, Kind: KindCandle}
	r.Register(bad)
	r.Register(good)

	sub := &recordingSubscriber{fail: map[Entry]bool{bad: true}}
	err := r.ReplayAll(context.Background(), sub)
	require.Error(t, err)
	require.Contains(t, err.Error(), "BAD")
	require.Equal(t, []Entry{bad, good}, sub.seen)
}

func TestOperationFeed_DeliversOnceAndWildcard(t *testing.T) {
	f := NewOperationFeed()

	var (
		mu       sync.Mutex
		byAsset  []string
		wildcard []string
	)
	f.Subscribe("EURUSD", func(op model.Operation) {
		mu.Lock()
		byAsset = append(byAsset, op.ID)
		mu.Unlock()
	})
	f.Subscribe(AllAssets, func(op model.Operation) {
		mu.Lock()
		wildcard = append(wildcard, op.ID)
		mu.Unlock()
	})
	f.Start()
	defer f.Stop()

	op := model.Operation{LocalID: uuid.New(), ID: "1", Asset: "EURUSD"}
	f.Publish(op)
	f.Publish(op)
	f.Publish(model.Operation{LocalID: uuid.New(), ID: "2", Asset: "GBPUSD"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(byAsset) == 1 && len(wildcard) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"1"}, byAsset)
	require.Equal(t, []string{"1", "2"}, wildcard)
}
