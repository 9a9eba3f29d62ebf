// Package core mirrors remote activity collections into a tiered cache and
// keeps them fresh with paced refresh runs and a daily corruption audit.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/internal/logging"
	"github.com/huangsam/feedmirror/schema"
	"github.com/sirupsen/logrus"
)

// Dependencies are the collaborators an Engine runs against.
type Dependencies struct {
	Store  contract.SnapshotStore
	Ledger contract.RunLedger // optional
	Remote contract.RemoteSource
	Tokens contract.TokenGuard
	Budget *RateLimiter // optional, reported by Usage
	Logger logrus.FieldLogger
	Now    func() time.Time
}

// Engine owns the cache, one refresher per collection and the auditor for
// a single project.
type Engine struct {
	cfg        *contract.Config
	cache      *TieredCache
	refreshers map[schema.CollectionType]*Refresher
	filters    map[schema.CollectionType]Filter
	auditor    *Auditor
	budget     *RateLimiter
	log        *logrus.Entry
	started    bool
}

// NewEngine wires the engine from validated configuration.
func NewEngine(cfg *contract.Config, deps Dependencies) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("snapshot store is required")
	}
	if deps.Remote == nil || deps.Tokens == nil {
		return nil, errors.New("remote source and token guard are required")
	}
	if len(cfg.Collections) == 0 {
		return nil, errors.New("no collections configured")
	}

	validator := NewValidator(ValidatorConfig{
		MinCompleteness:   cfg.MinCompleteness,
		MinCoverage:       cfg.MinCoverage,
		MinRecentCoverage: cfg.MinRecentCoverage,
		FreshWindow:       cfg.FreshWindow,
	}, deps.Now)

	tc := NewTieredCache(CacheConfig{
		MemoryTTL:       cfg.MemoryTTL,
		RefreshInterval: cfg.RefreshInterval,
		RetryAttempts:   cfg.RetryAttempts,
		RetryBackoff:    cfg.RetryBackoff,
	}, deps.Store, validator, deps.Logger, deps.Now)

	auditor, err := NewAuditor(AuditConfig{
		Hour:        cfg.AuditHour,
		Minute:      cfg.AuditMinute,
		PageSize:    cfg.PageSize,
		BatchSize:   cfg.BatchSize,
		BatchPacing: cfg.BatchPacing,
	}, tc, deps.Remote, deps.Tokens, deps.Ledger, deps.Logger, deps.Now)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		cache:      tc,
		refreshers: make(map[schema.CollectionType]*Refresher, len(cfg.Collections)),
		filters:    make(map[schema.CollectionType]Filter, len(cfg.Collections)),
		auditor:    auditor,
		budget:     deps.Budget,
		log:        logging.Component(deps.Logger, "engine"),
	}
	for _, ct := range cfg.Collections {
		filter := Filter{Types: cfg.TypesFor(ct), Cutoff: cfg.CutoffDate}
		e.filters[ct] = filter
		e.refreshers[ct] = NewRefresher(ct, cfg.Project, RefreshConfig{
			PageSize:        cfg.PageSize,
			BatchSize:       cfg.BatchSize,
			BatchPacing:     cfg.BatchPacing,
			FailureCooldown: cfg.FailureCooldown,
			Filter:          filter,
			TTLs:            cfg.EnrichmentTTLs,
		}, tc, deps.Remote, deps.Tokens, deps.Ledger, deps.Logger, deps.Now)
		auditor.AddTarget(ct, cfg.Project, filter)
	}
	return e, nil
}

// Start launches the retry worker, every refresher and the audit schedule.
func (e *Engine) Start(ctx context.Context) error {
	if e.started {
		return errors.New("engine already started")
	}
	e.cache.Start(ctx)
	for _, ct := range e.cfg.Collections {
		e.refreshers[ct].Start(ctx)
	}
	if err := e.auditor.Start(ctx); err != nil {
		e.stopWorkers()
		return err
	}
	e.started = true
	e.log.WithFields(logrus.Fields{
		"project":     e.cfg.Project,
		"collections": e.cfg.Collections,
	}).Info("Engine started")
	return nil
}

// Stop halts the audit schedule, the refreshers and the retry worker.
func (e *Engine) Stop() error {
	if !e.started {
		return nil
	}
	e.started = false
	err := e.auditor.Stop()
	e.stopWorkers()
	e.log.Info("Engine stopped")
	return err
}

func (e *Engine) stopWorkers() {
	for _, ct := range e.cfg.Collections {
		e.refreshers[ct].Stop()
	}
	e.cache.Stop()
}

// Project returns the project this engine serves.
func (e *Engine) Project() string {
	return e.cfg.Project
}

// Collections returns the configured collection types in order.
func (e *Engine) Collections() []schema.CollectionType {
	return append([]schema.CollectionType(nil), e.cfg.Collections...)
}

// Cache returns the tiered cache.
func (e *Engine) Cache() *TieredCache {
	return e.cache
}

// Auditor returns the corruption auditor.
func (e *Engine) Auditor() *Auditor {
	return e.auditor
}

// Refresher returns the refresher of a configured collection.
func (e *Engine) Refresher(ct schema.CollectionType) (*Refresher, error) {
	r, ok := e.refreshers[ct]
	if !ok {
		return nil, fmt.Errorf("collection %q is not configured", ct)
	}
	return r, nil
}

// Audit runs the auditor against one configured collection now.
func (e *Engine) Audit(ctx context.Context, ct schema.CollectionType) (AuditReport, error) {
	filter, ok := e.filters[ct]
	if !ok {
		return AuditReport{}, fmt.Errorf("collection %q is not configured", ct)
	}
	return e.auditor.AuditCollection(ctx, ct, e.cfg.Project, filter)
}

// Status reports cache health for every configured collection.
func (e *Engine) Status(ctx context.Context) []schema.CacheHealth {
	out := make([]schema.CacheHealth, 0, len(e.cfg.Collections))
	for _, ct := range e.cfg.Collections {
		out = append(out, e.cache.Status(ctx, ct, e.cfg.Project))
	}
	return out
}

// Usage reports the call budget counters, if the engine was given one.
func (e *Engine) Usage() (LimiterUsage, bool) {
	if e.budget == nil {
		return LimiterUsage{}, false
	}
	return e.budget.Snapshot(), true
}
