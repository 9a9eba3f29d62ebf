package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/internal/logging"
	"github.com/huangsam/feedmirror/schema"
)

// fakeClock is a manually advanced clock safe for concurrent use.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStore is an in-memory SnapshotStore with switchable write failures.
type memStore struct {
	mu         sync.Mutex
	data       map[string][]byte
	failWrites bool
	failReads  bool
	writes     int
}

var _ contract.SnapshotStore = &memStore{}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Read(_ context.Context, ct schema.CollectionType, project string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads {
		return nil, fmt.Errorf("store offline")
	}
	blob, ok := s.data[storeKey(ct, project)]
	if !ok {
		return nil, contract.ErrSnapshotNotFound
	}
	return blob, nil
}

func (s *memStore) Write(_ context.Context, ct schema.CollectionType, project string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failWrites {
		return fmt.Errorf("store offline")
	}
	s.data[storeKey(ct, project)] = blob
	return nil
}

func (s *memStore) Delete(_ context.Context, ct schema.CollectionType, project string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, storeKey(ct, project))
	return nil
}

func (s *memStore) GetStatus() (schema.StoreStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return schema.StoreStatus{Backend: "memory", Connected: true, TotalEntries: len(s.data)}, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) setFailWrites(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = v
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *memStore) has(ct schema.CollectionType, project string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[storeKey(ct, project)]
	return ok
}

// fakeTokens hands out "token-N" where N counts invalidations.
type fakeTokens struct {
	mu            sync.Mutex
	err           error
	calls         int
	invalidations int
}

var _ contract.TokenGuard = &fakeTokens{}

func (f *fakeTokens) GetValidToken(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("token-%d", f.invalidations), nil
}

func (f *fakeTokens) InvalidateToken() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidations++
}

// fakeRemote serves a fixed listing and computes enrichment per call.
type fakeRemote struct {
	mu sync.Mutex

	items   []schema.Item
	listErr error
	// enrich builds the answer for one fetch. Nil returns one photo,
	// one comment, a description and a route.
	enrich func(id int64, kind schema.EnrichmentKind, token string) (schema.Enrichment, error)
	// listGate, when set, blocks ListBasic until closed. listEntered is
	// closed on the first ListBasic call.
	listGate    chan struct{}
	listEntered chan struct{}
	enteredOnce sync.Once

	listCalls  int
	fetchCalls map[schema.EnrichmentKind]int
}

var _ contract.RemoteSource = &fakeRemote{}

func newFakeRemote(items []schema.Item) *fakeRemote {
	return &fakeRemote{items: items, fetchCalls: make(map[schema.EnrichmentKind]int)}
}

func (f *fakeRemote) ListBasic(ctx context.Context, _ string, page, pageSize int) ([]schema.Item, error) {
	f.mu.Lock()
	f.listCalls++
	gate, entered := f.listGate, f.listEntered
	f.mu.Unlock()

	if entered != nil {
		f.enteredOnce.Do(func() { close(entered) })
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	start := (page - 1) * pageSize
	if start >= len(f.items) {
		return []schema.Item{}, nil
	}
	end := min(start+pageSize, len(f.items))
	out := make([]schema.Item, 0, end-start)
	for _, it := range f.items[start:end] {
		out = append(out, it.Clone())
	}
	return out, nil
}

func (f *fakeRemote) FetchEnrichment(_ context.Context, id int64, kind schema.EnrichmentKind, token string) (schema.Enrichment, error) {
	f.mu.Lock()
	f.fetchCalls[kind]++
	enrich := f.enrich
	f.mu.Unlock()

	if enrich != nil {
		return enrich(id, kind, token)
	}
	return richEnrichment(id, kind), nil
}

func (f *fakeRemote) fetches(kind schema.EnrichmentKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[kind]
}

func (f *fakeRemote) totalFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.fetchCalls {
		n += c
	}
	return n
}

func richEnrichment(id int64, kind schema.EnrichmentKind) schema.Enrichment {
	e := schema.Enrichment{Kind: kind}
	switch kind {
	case schema.PhotosKind:
		e.Photos = []schema.Photo{{UniqueID: fmt.Sprintf("p-%d", id), URL: "https://img.example/p.jpg"}}
	case schema.CommentsKind:
		e.Comments = []schema.Comment{{ID: id * 10, Author: "kim", Text: "nice"}}
	case schema.DescriptionKind:
		e.Description = fmt.Sprintf("activity %d", id)
	case schema.GeoKind:
		e.Geo = &schema.Geo{Polyline: fmt.Sprintf("poly-%d", id)}
	}
	return e
}

// recordingTrigger stands in for a refresher when testing the cache alone.
type recordingTrigger struct {
	mu    sync.Mutex
	calls []bool
}

var _ RefreshTrigger = &recordingTrigger{}

func (r *recordingTrigger) Trigger(emergency bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, emergency)
	return true
}

func (r *recordingTrigger) State() schema.RefreshState { return schema.StateIdle }

func (r *recordingTrigger) triggered() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.calls...)
}

// recordingSleep replaces pacing sleeps: it records each duration and
// advances the clock instead of waiting.
type recordingSleep struct {
	mu     sync.Mutex
	clock  *fakeClock
	sleeps []time.Duration
}

func (s *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	if s.clock != nil {
		s.clock.Advance(d)
	}
	return ctx.Err()
}

func (s *recordingSleep) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

// basicItem returns an item with every core field set.
func basicItem(id int64, typ string, start time.Time) schema.Item {
	return schema.Item{
		ID:                 id,
		Name:               fmt.Sprintf("%s %d", typ, id),
		Type:               typ,
		StartDate:          start,
		Distance:           5000 + float64(id),
		MovingTime:         1500,
		ElapsedTime:        1600,
		TotalElevationGain: 42,
	}
}

// testCache builds a TieredCache over store with stock thresholds.
func testCache(store contract.SnapshotStore, clock *fakeClock) *TieredCache {
	return NewTieredCache(
		CacheConfig{MemoryTTL: time.Minute, RefreshInterval: 6 * time.Hour, RetryAttempts: 3, RetryBackoff: time.Millisecond},
		store,
		NewValidator(DefaultValidatorConfig(), clock.Now),
		logging.Discard(),
		clock.Now,
	)
}
