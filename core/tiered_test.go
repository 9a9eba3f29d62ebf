package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T, store *memStore, snap *schema.Snapshot) {
	t.Helper()
	blob, err := json.Marshal(snap)
	require.NoError(t, err)
	require.NoError(t, store.Write(context.Background(), snap.CollectionType, snap.Project, blob))
}

func capturedSnapshot(clock *fakeClock, age time.Duration) *schema.Snapshot {
	snap := buildSnapshot(20, 20, 20)
	snap.CapturedAt = schema.TimePtr(clock.Now().Add(-age))
	return snap
}

func TestTieredCacheGetEmptyStoreTriggersEmergencyRefresh(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC))
	tc := testCache(newMemStore(), clock)
	trigger := &recordingTrigger{}
	tc.RegisterRefresher(schema.ActivitiesCollection, "p", trigger)

	res := tc.Get(context.Background(), schema.ActivitiesCollection, "p")

	assert.Equal(t, schema.FromEmpty, res.Source)
	require.NotNil(t, res.Snapshot)
	assert.NotNil(t, res.Snapshot.Items)
	assert.Empty(t, res.Snapshot.Items)
	assert.Nil(t, res.Snapshot.CapturedAt)
	assert.True(t, res.Stale)
	assert.Equal(t, "no stored snapshot", res.Reason)
	assert.Equal(t, []bool{true}, trigger.triggered())
	assert.True(t, tc.isEmergency(schema.ActivitiesCollection, "p"))
}

func TestTieredCacheGetFromStoreThenMemory(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC))
	store := newMemStore()
	seedStore(t, store, capturedSnapshot(clock, time.Hour))
	tc := testCache(store, clock)
	trigger := &recordingTrigger{}
	tc.RegisterRefresher(schema.ActivitiesCollection, "p", trigger)

	first := tc.Get(context.Background(), schema.ActivitiesCollection, "p")
	assert.Equal(t, schema.FromStore, first.Source)
	assert.False(t, first.Stale)
	assert.Len(t, first.Snapshot.Items, 20)

	second := tc.Get(context.Background(), schema.ActivitiesCollection, "p")
	assert.Equal(t, schema.FromMemory, second.Source)
	assert.Len(t, second.Snapshot.Items, 20)
	assert.Empty(t, trigger.triggered())

	// Callers get copies.
	second.Snapshot.Items[0].Name = "mutated"
	third := tc.Get(context.Background(), schema.ActivitiesCollection, "p")
	assert.NotEqual(t, "mutated", third.Snapshot.Items[0].Name)
}

func TestTieredCacheGetInvalidStoredSnapshot(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC))
	store := newMemStore()
	snap := buildSnapshot(20, 16, 20) // 80% complete
	snap.CapturedAt = schema.TimePtr(clock.Now())
	seedStore(t, store, snap)
	tc := testCache(store, clock)
	trigger := &recordingTrigger{}
	tc.RegisterRefresher(schema.ActivitiesCollection, "p", trigger)

	res := tc.Get(context.Background(), schema.ActivitiesCollection, "p")

	assert.Equal(t, schema.FromEmpty, res.Source)
	assert.Empty(t, res.Snapshot.Items)
	assert.Contains(t, res.Reason, "stored snapshot invalid")
	assert.Equal(t, []bool{true}, trigger.triggered())
}

func TestTieredCacheGetStoreUnavailable(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC))
	store := newMemStore()
	store.failReads = true
	tc := testCache(store, clock)

	res := tc.Get(context.Background(), schema.ActivitiesCollection, "p")
	assert.Equal(t, schema.FromEmpty, res.Source)
	assert.Equal(t, "store read failed", res.Reason)
}

func TestTieredCacheGetStaleTriggersBackgroundRefresh(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC))
	store := newMemStore()
	seedStore(t, store, capturedSnapshot(clock, 7*time.Hour))
	tc := testCache(store, clock)
	trigger := &recordingTrigger{}
	tc.RegisterRefresher(schema.ActivitiesCollection, "p", trigger)

	res := tc.Get(context.Background(), schema.ActivitiesCollection, "p")

	assert.Equal(t, schema.FromStore, res.Source)
	assert.True(t, res.Stale)
	assert.Len(t, res.Snapshot.Items, 20)
	assert.Equal(t, []bool{false}, trigger.triggered())
	assert.False(t, tc.isEmergency(schema.ActivitiesCollection, "p"))
}

func TestTieredCacheSaveRejectsInvalidSnapshot(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC))
	store := newMemStore()
	tc := testCache(store, clock)
	ctx := context.Background()

	good := capturedSnapshot(clock, 0)
	require.NoError(t, tc.Save(ctx, good))
	writes := store.writeCount()

	bad := buildSnapshot(20, 10, 20)
	bad.CapturedAt = schema.TimePtr(clock.Now())
	err := tc.Save(ctx, bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, contract.ErrIntegrity))
	assert.Equal(t, writes, store.writeCount(), "rejected snapshot must not reach the store")

	res := tc.Get(ctx, schema.ActivitiesCollection, "p")
	assert.Equal(t, schema.FromMemory, res.Source)
	for _, it := range res.Snapshot.Items {
		assert.NotEmpty(t, it.Name)
	}
	require.NotNil(t, res.Snapshot.LastSaved)
	assert.Equal(t, clock.Now(), *res.Snapshot.LastSaved)
}

func TestTieredCacheSaveQueuesRetryWhenStoreFails(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC))
	store := newMemStore()
	store.setFailWrites(true)
	tc := testCache(store, clock)
	ctx := context.Background()

	require.NoError(t, tc.Save(ctx, capturedSnapshot(clock, 0)), "store failure is not the caller's problem")
	assert.Equal(t, 1, tc.retry.Pending())
	assert.False(t, store.has(schema.ActivitiesCollection, "p"))

	// Served from memory meanwhile.
	res := tc.Get(ctx, schema.ActivitiesCollection, "p")
	assert.Equal(t, schema.FromMemory, res.Source)

	store.setFailWrites(false)
	tc.Start(ctx)
	defer tc.Stop()

	assert.Eventually(t, func() bool {
		return store.has(schema.ActivitiesCollection, "p") && tc.retry.Pending() == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTieredCacheRetryGivesUp(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC))
	store := newMemStore()
	store.setFailWrites(true)
	tc := testCache(store, clock)
	ctx := context.Background()

	require.NoError(t, tc.Save(ctx, capturedSnapshot(clock, 0)))
	tc.Start(ctx)
	defer tc.Stop()

	assert.Eventually(t, func() bool { return tc.retry.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1+3, store.writeCount(), "one direct write plus three retries")
	assert.False(t, store.has(schema.ActivitiesCollection, "p"))
}

func TestTieredCacheRetryKeepsLatestBlob(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC))
	store := newMemStore()
	store.setFailWrites(true)
	tc := testCache(store, clock)
	ctx := context.Background()

	first := capturedSnapshot(clock, 0)
	require.NoError(t, tc.Save(ctx, first))
	second := capturedSnapshot(clock, 0)
	second.Items = second.Items[:19]
	require.NoError(t, tc.Save(ctx, second))
	assert.Equal(t, 1, tc.retry.Pending())

	// A fresh process would read the pending blob, not the older one.
	blob, ok := tc.retry.Latest(schema.ActivitiesCollection, "p")
	require.True(t, ok)
	snap, err := schema.DecodeSnapshot(blob)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 19)
}

func TestTieredCacheUpdate(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC))
	store := newMemStore()
	seedStore(t, store, capturedSnapshot(clock, time.Hour))
	tc := testCache(store, clock)
	ctx := context.Background()

	saved, err := tc.Update(ctx, schema.ActivitiesCollection, "p", func(s *schema.Snapshot) error {
		s.Items[0].Name = "Renamed"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", saved.Items[0].Name)
	assert.Equal(t, "Renamed", tc.Peek(ctx, schema.ActivitiesCollection, "p").Items[0].Name)

	boom := errors.New("boom")
	_, err = tc.Update(ctx, schema.ActivitiesCollection, "p", func(s *schema.Snapshot) error {
		s.Items[0].Name = "Lost"
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "Renamed", tc.Peek(ctx, schema.ActivitiesCollection, "p").Items[0].Name)
}

func TestTieredCacheStatus(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC))
	store := newMemStore()
	snap := buildSnapshot(10, 10, 4)
	snap.CapturedAt = schema.TimePtr(clock.Now().Add(-8 * time.Hour))
	corrupted := 2
	snap.CorruptedCount = &corrupted
	seedStore(t, store, snap)
	tc := testCache(store, clock)
	trigger := &recordingTrigger{}
	tc.RegisterRefresher(schema.ActivitiesCollection, "p", trigger)

	health := tc.Status(context.Background(), schema.ActivitiesCollection, "p")

	assert.Equal(t, schema.FromStore, health.Source)
	assert.True(t, health.Valid, health.Reason)
	assert.True(t, health.ShouldRefresh)
	assert.Equal(t, 10, health.ItemCount)
	assert.Equal(t, 10, health.CompleteCount)
	assert.Equal(t, 4, health.EnrichedCount)
	assert.InDelta(t, 0.4, health.Coverage, 1e-9)
	assert.Equal(t, 8*time.Hour, health.Age)
	assert.Equal(t, schema.StateIdle, health.RefreshState)
	assert.Equal(t, 2, health.CorruptedCount)
	assert.Empty(t, trigger.triggered(), "status never triggers a refresh")

	// Never audited
	other := tc.Status(context.Background(), schema.RunsCollection, "p")
	assert.Equal(t, schema.FromEmpty, other.Source)
	assert.Zero(t, other.CorruptedCount)
}

func TestTieredCacheInvalidate(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC))
	store := newMemStore()
	tc := testCache(store, clock)
	ctx := context.Background()

	require.NoError(t, tc.Save(ctx, capturedSnapshot(clock, 0)))
	require.NoError(t, tc.Invalidate(ctx, schema.ActivitiesCollection, "p"))

	assert.False(t, store.has(schema.ActivitiesCollection, "p"))
	res := tc.Get(ctx, schema.ActivitiesCollection, "p")
	assert.Equal(t, schema.FromEmpty, res.Source)
}

func TestTieredCacheTriggerRefreshNow(t *testing.T) {
	clock := newFakeClock(time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC))
	tc := testCache(newMemStore(), clock)

	assert.False(t, tc.TriggerRefreshNow(schema.RunsCollection, "p"), "no refresher registered")

	trigger := &recordingTrigger{}
	tc.RegisterRefresher(schema.RunsCollection, "p", trigger)
	assert.True(t, tc.TriggerRefreshNow(schema.RunsCollection, "p"))
	assert.Equal(t, []bool{false}, trigger.triggered())
}
