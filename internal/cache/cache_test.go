package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/townbasket/liveops/internal/metrics"
)

func newTestStore() *Store {
	return NewStore(zap.NewNop(), metrics.New(nil))
}

// waitFor вычитывает снимки до выполнения условия или таймаута.
func waitFor(t *testing.T, ch <-chan Snapshot, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-ch:
			if cond(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("condition not reached before timeout")
			return Snapshot{}
		}
	}
}

func TestStore_UnknownKey(t *testing.T) {
	s := newTestStore()

	_, err := s.Get(NewKey("admin", "nope"))
	assert.ErrorIs(t, err, ErrUnknownKey)

	_, _, err = s.Subscribe(NewKey("admin", "nope"))
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestStore_SubscribeFetchesAndDelivers(t *testing.T) {
	s := newTestStore()
	key := NewKey("admin", "overview")
	var calls atomic.Int32
	s.RegisterWithPolicy(key, func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "payload", nil
	}, Policy{Staleness: time.Minute})

	ch, cancel, err := s.Subscribe(key)
	require.NoError(t, err)
	defer cancel()

	snap := waitFor(t, ch, func(s Snapshot) bool { return s.Status == StatusSuccess })
	assert.Equal(t, "payload", snap.Value)
	assert.False(t, snap.Stale)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStore_FreshValueServedWithoutRefetch(t *testing.T) {
	s := newTestStore()
	key := NewKey("admin", "overview")
	var calls atomic.Int32
	s.RegisterWithPolicy(key, func(ctx context.Context) (any, error) {
		calls.Add(1)
		return calls.Load(), nil
	}, Policy{Staleness: time.Minute})

	ch, cancel, err := s.Subscribe(key)
	require.NoError(t, err)
	waitFor(t, ch, func(s Snapshot) bool { return s.Status == StatusSuccess })
	cancel()

	// Второй подписчик в окне свежести — данные из кэша, без сети
	ch2, cancel2, err := s.Subscribe(key)
	require.NoError(t, err)
	defer cancel2()
	snap := <-ch2
	assert.Equal(t, StatusSuccess, snap.Status)
	assert.False(t, snap.Stale)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStore_ErrorKeepsPriorValue(t *testing.T) {
	s := newTestStore()
	key := NewKey("admin", "overview")
	var fail atomic.Bool
	s.RegisterWithPolicy(key, func(ctx context.Context) (any, error) {
		if fail.Load() {
			return nil, errors.New("upstream 500")
		}
		return "good", nil
	}, Policy{Staleness: time.Minute})

	ch, cancel, err := s.Subscribe(key)
	require.NoError(t, err)
	defer cancel()
	waitFor(t, ch, func(s Snapshot) bool { return s.Status == StatusSuccess })

	fail.Store(true)
	s.Invalidate(key)

	snap := waitFor(t, ch, func(s Snapshot) bool { return s.Status == StatusError })
	// Ошибка видима, но прежнее значение не вытеснено
	assert.Equal(t, "good", snap.Value)
	assert.Error(t, snap.Err)
	assert.True(t, snap.Stale)
}

func TestStore_InvalidationsCoalesce(t *testing.T) {
	s := newTestStore()
	key := NewKey("admin", "overview")
	var calls atomic.Int32
	s.RegisterWithPolicy(key, func(ctx context.Context) (any, error) {
		calls.Add(1)
		return calls.Load(), nil
	}, Policy{Staleness: time.Minute})

	ch, cancel, err := s.Subscribe(key)
	require.NoError(t, err)
	defer cancel()
	waitFor(t, ch, func(s Snapshot) bool { return s.Status == StatusSuccess })

	// Шквал хинтов одного тика: мутация + роутер кадров
	s.Invalidate(key)
	s.Invalidate(key)
	s.Invalidate(key, key)

	waitFor(t, ch, func(s Snapshot) bool {
		return s.Status == StatusSuccess && s.Value == int32(2)
	})
	// Подождем дольше окна схлопывания: дозагрузка должна быть одна
	time.Sleep(5 * coalesceWindow)
	assert.Equal(t, int32(2), calls.Load())
}

func TestStore_InvalidateWithoutSubscribersDefersFetch(t *testing.T) {
	s := newTestStore()
	key := NewKey("admin", "overview")
	var calls atomic.Int32
	s.RegisterWithPolicy(key, func(ctx context.Context) (any, error) {
		calls.Add(1)
		return "v", nil
	}, Policy{Staleness: time.Minute})

	s.Invalidate(key)
	time.Sleep(5 * coalesceWindow)

	// Никто не смотрит — сеть не трогаем
	assert.Equal(t, int32(0), calls.Load())

	snap, err := s.Get(key)
	require.NoError(t, err)
	assert.True(t, snap.Stale)
}

func TestStore_UnsubscribeCancelsInFlightFetch(t *testing.T) {
	s := newTestStore()
	key := NewKey("admin", "overview")
	started := make(chan struct{})
	canceled := make(chan struct{})
	s.RegisterWithPolicy(key, func(ctx context.Context) (any, error) {
		close(started)
		select {
		case <-ctx.Done():
			close(canceled)
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
			return "late", nil
		}
	}, Policy{Staleness: time.Minute})

	_, cancel, err := s.Subscribe(key)
	require.NoError(t, err)

	<-started
	cancel() // последний подписчик уходит

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("in-flight fetch was not canceled")
	}
}

func TestStore_RunMutationInvalidatesOnSuccessOnly(t *testing.T) {
	s := newTestStore()
	key := NewKey("admin", "shops")
	var calls atomic.Int32
	s.RegisterWithPolicy(key, func(ctx context.Context) (any, error) {
		calls.Add(1)
		return calls.Load(), nil
	}, Policy{Staleness: time.Minute})

	ch, cancel, err := s.Subscribe(key)
	require.NoError(t, err)
	defer cancel()
	waitFor(t, ch, func(s Snapshot) bool { return s.Status == StatusSuccess })

	// Провал мутации кэш не трогает
	err = s.RunMutation(context.Background(), Mutation{
		Name:        "bulk-shops",
		Invalidates: []Key{key},
		Do:          func(ctx context.Context) error { return errors.New("verify declined") },
	})
	require.Error(t, err)
	time.Sleep(5 * coalesceWindow)
	assert.Equal(t, int32(1), calls.Load())

	// Успех — декларированные ключи протухают и дозагружаются
	err = s.RunMutation(context.Background(), Mutation{
		Name:        "bulk-shops",
		Invalidates: []Key{key},
		Do:          func(ctx context.Context) error { return nil },
	})
	require.NoError(t, err)
	waitFor(t, ch, func(s Snapshot) bool {
		return s.Status == StatusSuccess && s.Value == int32(2)
	})
}

func TestKey_NoCollisionBetweenArgSplits(t *testing.T) {
	// Склейка через запятую дала бы один и тот же ключ
	a := NewKey("admin", "audit-logs", "a", "b,c")
	b := NewKey("admin", "audit-logs", "a,b", "c")
	assert.NotEqual(t, a, b)
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "admin/overview", KeyOverview.String())
	assert.Equal(t, "admin/revenue?week", KeyRevenue("week").String())
	assert.Equal(t, "admin/analytics?top-shops,30", KeyAnalytics("top-shops", 30).String())
}

func TestPolicyFor_FreshnessTable(t *testing.T) {
	cases := []struct {
		key       Key
		staleness time.Duration
		refetch   time.Duration
	}{
		{KeyOverview, 30 * time.Second, 60 * time.Second},
		{KeySystemHealth, 15 * time.Second, 30 * time.Second},
		{KeyFraudAlerts, 15 * time.Second, 30 * time.Second},
		{KeyRevenue("today"), 60 * time.Second, 0},
		{KeyUserGrowth, 120 * time.Second, 0},
		{KeyAnalytics("clv", 30), 120 * time.Second, 0},
		{KeyAuditLogs(1), 30 * time.Second, 0},
		{KeyPermissions, 5 * time.Minute, 0},
		{KeyShops, 30 * time.Second, 0},
	}
	for _, tc := range cases {
		p := PolicyFor(tc.key)
		assert.Equal(t, tc.staleness, p.Staleness, tc.key.String())
		assert.Equal(t, tc.refetch, p.RefetchInterval, tc.key.String())
	}
}
