package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/internal/logging"
	"github.com/huangsam/feedmirror/schema"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// CacheConfig holds the TieredCache settings.
type CacheConfig struct {
	MemoryTTL       time.Duration
	RefreshInterval time.Duration
	RetryAttempts   int
	RetryBackoff    time.Duration
	RetryQueueSize  int
}

// Result is what a cache read hands back to callers.
type Result struct {
	Snapshot *schema.Snapshot  `json:"snapshot"`
	Source   schema.ReadSource `json:"source"`
	Stale    bool              `json:"stale"`
	Reason   string            `json:"reason,omitempty"`
}

// RefreshTrigger is the part of a refresher the cache needs.
type RefreshTrigger interface {
	// Trigger asks for a background run and reports whether it was accepted.
	Trigger(emergency bool) bool
	State() schema.RefreshState
}

// TieredCache serves snapshots from memory, then the persistent store, then
// an explicit empty snapshot. Reads never touch the network.
type TieredCache struct {
	cfg       CacheConfig
	store     contract.SnapshotStore
	validator *Validator
	memory    *cache.Cache
	retry     *writeRetrier
	log       *logrus.Entry
	now       func() time.Time

	// mu serializes Save and Update.
	mu sync.Mutex

	refMu      sync.RWMutex
	refreshers map[string]RefreshTrigger
	emergency  map[string]bool
}

// NewTieredCache creates a cache over the given store.
func NewTieredCache(cfg CacheConfig, store contract.SnapshotStore, validator *Validator, logger logrus.FieldLogger, now func() time.Time) *TieredCache {
	if now == nil {
		now = time.Now
	}
	if cfg.MemoryTTL <= 0 {
		cfg.MemoryTTL = contract.DefaultMemoryTTL
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = contract.DefaultRefreshInterval
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = contract.DefaultRetryAttempts
	}
	log := logging.Component(logger, "cache")
	return &TieredCache{
		cfg:        cfg,
		store:      store,
		validator:  validator,
		memory:     cache.New(cfg.MemoryTTL, 2*cfg.MemoryTTL),
		retry:      newWriteRetrier(store, cfg.RetryAttempts, cfg.RetryBackoff, cfg.RetryQueueSize, log.WithField("worker", "store-retry")),
		log:        log,
		now:        now,
		refreshers: make(map[string]RefreshTrigger),
		emergency:  make(map[string]bool),
	}
}

// Start launches the persistent write retry worker.
func (c *TieredCache) Start(ctx context.Context) {
	c.retry.Start(ctx)
}

// Stop halts the retry worker. Writes still waiting are dropped.
func (c *TieredCache) Stop() {
	c.retry.Stop()
	if n := c.retry.Pending(); n > 0 {
		c.log.WithField("pending", n).Warn("Stopping with snapshot writes still pending")
	}
}

// RegisterRefresher attaches the refresher that serves a collection.
func (c *TieredCache) RegisterRefresher(ct schema.CollectionType, project string, r RefreshTrigger) {
	c.refMu.Lock()
	defer c.refMu.Unlock()
	c.refreshers[storeKey(ct, project)] = r
}

// Get returns the best snapshot available right now.
func (c *TieredCache) Get(ctx context.Context, ct schema.CollectionType, project string) Result {
	key := storeKey(ct, project)
	now := c.now()
	log := c.log.WithFields(logrus.Fields{"collection": ct, "project": project})

	if v, ok := c.memory.Get(key); ok {
		snap := v.(*schema.Snapshot).Clone()
		res := Result{Snapshot: snap, Source: schema.FromMemory}
		c.markStale(&res, ct, project, now)
		metrics.CacheReads.WithLabelValues(string(ct), string(res.Source)).Inc()
		log.WithFields(logrus.Fields{"items": len(snap.Items), "age": snap.Age(now).Round(time.Second)}).Debug("Served from memory")
		return res
	}

	snap, err := c.readStore(ctx, ct, project)
	switch {
	case err == nil:
		verdict := c.validator.Check(snap, CheckOptions{})
		if verdict.Valid {
			c.memory.Set(key, snap.Clone(), cache.DefaultExpiration)
			res := Result{Snapshot: snap, Source: schema.FromStore}
			c.markStale(&res, ct, project, now)
			metrics.CacheReads.WithLabelValues(string(ct), string(res.Source)).Inc()
			log.WithFields(logrus.Fields{"items": len(snap.Items), "age": snap.Age(now).Round(time.Second)}).Info("Served from store")
			return res
		}
		log.WithField("reason", verdict.Reason).Warn("Stored snapshot failed validation")
		return c.emptyResult(ct, project, "stored snapshot invalid: "+verdict.Reason)
	case errors.Is(err, contract.ErrSnapshotNotFound):
		return c.emptyResult(ct, project, "no stored snapshot")
	default:
		log.WithError(err).Warn("Failed to read snapshot store")
		return c.emptyResult(ct, project, "store read failed")
	}
}

// Peek returns the newest snapshot held anywhere without validating it or
// triggering a refresh. It never returns nil.
func (c *TieredCache) Peek(ctx context.Context, ct schema.CollectionType, project string) *schema.Snapshot {
	snap, _ := c.peek(ctx, ct, project)
	return snap
}

// Save validates and stores a complete snapshot.
// An invalid snapshot is rejected with ErrIntegrity and the previous one stays.
func (c *TieredCache) Save(ctx context.Context, snap *schema.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.saveLocked(ctx, snap.Clone())
	return err
}

// Update applies fn to a copy of the newest snapshot and saves the result.
// The read, modify and write happen under the cache lock.
func (c *TieredCache) Update(ctx context.Context, ct schema.CollectionType, project string, fn func(s *schema.Snapshot) error) (*schema.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	working, _ := c.peek(ctx, ct, project)
	if err := fn(working); err != nil {
		return nil, err
	}
	working.CollectionType = ct
	working.Project = project
	return c.saveLocked(ctx, working)
}

// Invalidate drops the memory entry and the stored snapshot.
func (c *TieredCache) Invalidate(ctx context.Context, ct schema.CollectionType, project string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memory.Delete(storeKey(ct, project))
	c.retry.Cancel(ct, project)
	return c.store.Delete(ctx, ct, project)
}

// Status reports the health of a collection without triggering anything.
func (c *TieredCache) Status(ctx context.Context, ct schema.CollectionType, project string) schema.CacheHealth {
	now := c.now()
	snap, source := c.peek(ctx, ct, project)
	verdict := c.validator.Check(snap, CheckOptions{Emergency: c.isEmergency(ct, project)})

	health := schema.CacheHealth{
		CollectionType:        ct,
		Project:               project,
		Source:                source,
		Valid:                 verdict.Valid,
		Reason:                verdict.Reason,
		ItemCount:             len(snap.Items),
		Coverage:              verdict.Coverage,
		RecentCoverage:        verdict.RecentCoverage,
		Age:                   snap.Age(now),
		BatchingInProgress:    snap.BatchingInProgress,
		RefreshState:          schema.StateIdle,
		LastCorruptionCheckAt: snap.LastCorruptionCheckAt,
	}
	if snap.CorruptedCount != nil {
		health.CorruptedCount = *snap.CorruptedCount
	}
	for i := range snap.Items {
		if snap.Items[i].IsComplete() {
			health.CompleteCount++
		}
		if snap.Items[i].HasEnrichment() {
			health.EnrichedCount++
		}
	}
	health.ShouldRefresh = !verdict.Valid || snap.CapturedAt == nil || health.Age > c.cfg.RefreshInterval

	if r := c.refresher(ct, project); r != nil {
		health.RefreshState = r.State()
	}
	return health
}

// TriggerRefreshNow asks the collection's refresher for a run.
func (c *TieredCache) TriggerRefreshNow(ct schema.CollectionType, project string) bool {
	return c.trigger(ct, project, false)
}

// MarkEmergency relaxes coverage rules on saves until the next run finishes.
func (c *TieredCache) MarkEmergency(ct schema.CollectionType, project string) {
	c.refMu.Lock()
	defer c.refMu.Unlock()
	c.emergency[storeKey(ct, project)] = true
}

// ClearEmergency ends emergency mode for a collection, called when a run finishes.
func (c *TieredCache) ClearEmergency(ct schema.CollectionType, project string) {
	c.refMu.Lock()
	defer c.refMu.Unlock()
	delete(c.emergency, storeKey(ct, project))
}

func (c *TieredCache) isEmergency(ct schema.CollectionType, project string) bool {
	c.refMu.RLock()
	defer c.refMu.RUnlock()
	return c.emergency[storeKey(ct, project)]
}

func (c *TieredCache) refresher(ct schema.CollectionType, project string) RefreshTrigger {
	c.refMu.RLock()
	defer c.refMu.RUnlock()
	return c.refreshers[storeKey(ct, project)]
}

func (c *TieredCache) trigger(ct schema.CollectionType, project string, emergency bool) bool {
	r := c.refresher(ct, project)
	if r == nil {
		return false
	}
	if emergency {
		c.MarkEmergency(ct, project)
	}
	return r.Trigger(emergency)
}

func (c *TieredCache) emptyResult(ct schema.CollectionType, project, reason string) Result {
	accepted := c.trigger(ct, project, true)
	metrics.CacheReads.WithLabelValues(string(ct), string(schema.FromEmpty)).Inc()
	c.log.WithFields(logrus.Fields{
		"collection":        ct,
		"project":           project,
		"reason":            reason,
		"refresh_triggered": accepted,
	}).Warn("Serving empty snapshot")
	return Result{
		Snapshot: schema.NewEmptySnapshot(ct, project),
		Source:   schema.FromEmpty,
		Stale:    true,
		Reason:   reason,
	}
}

func (c *TieredCache) markStale(res *Result, ct schema.CollectionType, project string, now time.Time) {
	if res.Snapshot.CapturedAt != nil && res.Snapshot.Age(now) <= c.cfg.RefreshInterval {
		return
	}
	res.Stale = true
	res.Reason = "older than refresh interval"
	c.trigger(ct, project, false)
}

// peek returns the newest snapshot from memory, the retry queue or the store.
// Missing data yields an empty snapshot tagged FromEmpty.
func (c *TieredCache) peek(ctx context.Context, ct schema.CollectionType, project string) (*schema.Snapshot, schema.ReadSource) {
	key := storeKey(ct, project)
	if v, ok := c.memory.Get(key); ok {
		return v.(*schema.Snapshot).Clone(), schema.FromMemory
	}
	if blob, ok := c.retry.Latest(ct, project); ok {
		if snap, err := schema.DecodeSnapshot(blob); err == nil {
			return snap, schema.FromStore
		}
	}
	snap, err := c.readStore(ctx, ct, project)
	if err != nil {
		return schema.NewEmptySnapshot(ct, project), schema.FromEmpty
	}
	return snap, schema.FromStore
}

func (c *TieredCache) readStore(ctx context.Context, ct schema.CollectionType, project string) (*schema.Snapshot, error) {
	blob, err := c.store.Read(ctx, ct, project)
	if err != nil {
		return nil, err
	}
	snap, err := schema.DecodeSnapshot(blob)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", storeKey(ct, project), err)
	}
	return snap, nil
}

func (c *TieredCache) saveLocked(ctx context.Context, snap *schema.Snapshot) (*schema.Snapshot, error) {
	ct, project := snap.CollectionType, snap.Project
	log := c.log.WithFields(logrus.Fields{"collection": ct, "project": project})

	verdict := c.validator.Check(snap, CheckOptions{Emergency: c.isEmergency(ct, project)})
	if !verdict.Valid {
		metrics.SavesRejected.WithLabelValues(string(ct)).Inc()
		log.WithField("reason", verdict.Reason).Warn("Rejected snapshot save")
		return nil, fmt.Errorf("%w: %s", contract.ErrIntegrity, verdict.Reason)
	}

	snap.LastSaved = schema.TimePtr(c.now())
	blob, err := schema.EncodeSnapshot(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	c.memory.Set(storeKey(ct, project), snap.Clone(), cache.DefaultExpiration)

	if err := c.store.Write(ctx, ct, project, blob); err != nil {
		log.WithError(err).Warn("Snapshot write failed, queued for retry")
		c.retry.Enqueue(ct, project, blob)
	} else {
		c.retry.Cancel(ct, project)
	}

	log.WithFields(logrus.Fields{
		"items":    len(snap.Items),
		"coverage": verdict.Coverage,
		"batching": snap.BatchingInProgress,
	}).Debug("Saved snapshot")
	return snap.Clone(), nil
}
