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
	"github.com/sirupsen/logrus"
)

// openKinds can receive data long after the item was recorded.
var openKinds = []schema.EnrichmentKind{schema.PhotosKind, schema.CommentsKind}

// RefreshConfig holds the settings for one collection's refresher.
type RefreshConfig struct {
	PageSize        int
	BatchSize       int
	BatchPacing     time.Duration
	FailureCooldown time.Duration
	Filter          Filter
	TTLs            map[schema.EnrichmentKind]time.Duration
}

// RunReport summarizes one refresh run.
type RunReport struct {
	RunID       int64               `json:"run_id"`
	Listed      int                 `json:"listed"`
	Kept        int                 `json:"kept"`
	Candidates  int                 `json:"candidates"`
	TopUp       bool                `json:"top_up"`
	Batches     int                 `json:"batches"`
	Enriched    int                 `json:"enriched"`
	RateLimited bool                `json:"rate_limited"`
	RetryAfter  time.Duration       `json:"retry_after,omitempty"`
	Pages       int                 `json:"pages"`
	Calls       int                 `json:"calls"`
	State       schema.RefreshState `json:"state"`
	Duration    time.Duration       `json:"duration"`
}

// candidate is an item and the enrichment kinds still to fetch for it.
type candidate struct {
	id    int64
	kinds []schema.EnrichmentKind
}

// Refresher keeps one collection of one project in sync with the remote source.
// Runs are single-flight: triggers arriving while a run is active are dropped.
type Refresher struct {
	ct      schema.CollectionType
	project string
	cfg     RefreshConfig
	cache   *TieredCache
	remote  contract.RemoteSource
	tokens  contract.TokenGuard
	ledger  contract.RunLedger
	log     *logrus.Entry
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	triggers chan bool

	mu          sync.Mutex
	running     bool
	pending     bool
	state       schema.RefreshState
	lastFailure time.Time
	notBefore   time.Time
	runsStarted int
	cancel      context.CancelFunc
	done        chan struct{}
}

var _ RefreshTrigger = &Refresher{}

// NewRefresher creates a refresher and registers it with the cache.
// A nil ledger disables run recording.
func NewRefresher(ct schema.CollectionType, project string, cfg RefreshConfig, tc *TieredCache,
	remote contract.RemoteSource, tokens contract.TokenGuard, ledger contract.RunLedger,
	logger logrus.FieldLogger, now func() time.Time,
) *Refresher {
	if now == nil {
		now = time.Now
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = contract.DefaultPageSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = contract.DefaultBatchSize
	}
	r := &Refresher{
		ct:       ct,
		project:  project,
		cfg:      cfg,
		cache:    tc,
		remote:   remote,
		tokens:   tokens,
		ledger:   ledger,
		log:      logging.ForCollection(logger, "refresher", ct, project),
		now:      now,
		sleep:    sleepCtx,
		triggers: make(chan bool, 1),
		state:    schema.StateIdle,
	}
	tc.RegisterRefresher(ct, project, r)
	return r
}

// Start launches the long-lived worker that serves triggers.
func (r *Refresher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case emergency := <-r.triggers:
				_, err := r.RunNow(ctx, emergency)
				if err != nil && ctx.Err() == nil && !errors.Is(err, contract.ErrRefreshInProgress) {
					r.log.WithError(err).Warn("Refresh run failed")
				}
			}
		}
	}()
}

// Stop cancels the worker and waits for an active run to wind down.
func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Trigger queues a background run unless one is active or already queued.
// It also refuses while the last failure is within the cooldown and while the
// remote has asked the refresher to back off.
func (r *Refresher) Trigger(emergency bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		metrics.RefreshTriggers.WithLabelValues(string(r.ct), "running").Inc()
		return false
	}
	if r.pending {
		metrics.RefreshTriggers.WithLabelValues(string(r.ct), "queued").Inc()
		return false
	}
	if !r.lastFailure.IsZero() && r.now().Sub(r.lastFailure) < r.cfg.FailureCooldown {
		metrics.RefreshTriggers.WithLabelValues(string(r.ct), "cooldown").Inc()
		return false
	}
	if r.now().Before(r.notBefore) {
		metrics.RefreshTriggers.WithLabelValues(string(r.ct), "backoff").Inc()
		return false
	}
	select {
	case r.triggers <- emergency:
		r.pending = true
		metrics.RefreshTriggers.WithLabelValues(string(r.ct), "accepted").Inc()
		return true
	default:
		metrics.RefreshTriggers.WithLabelValues(string(r.ct), "queued").Inc()
		return false
	}
}

// State returns the current step of the state machine.
func (r *Refresher) State() schema.RefreshState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// RunsStarted returns how many runs this refresher has begun.
func (r *Refresher) RunsStarted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runsStarted
}

// RunNow performs a run synchronously. It fails with ErrRefreshInProgress
// when another run is active.
func (r *Refresher) RunNow(ctx context.Context, emergency bool) (RunReport, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return RunReport{}, contract.ErrRefreshInProgress
	}
	r.running = true
	r.pending = false
	r.runsStarted++
	r.mu.Unlock()
	if emergency {
		r.cache.MarkEmergency(r.ct, r.project)
	}
	metrics.RefreshInProgress.WithLabelValues(string(r.ct)).Set(1)

	start := r.now()
	report := RunReport{}
	if r.ledger != nil {
		id, err := r.ledger.BeginRun(r.ct, r.project, schema.RefreshRun, start)
		if err != nil {
			r.log.WithError(err).Warn("Failed to record run start")
		}
		report.RunID = id
	}
	r.log.WithFields(logrus.Fields{"run_id": report.RunID, "emergency": emergency}).Info("Refresh run started")

	session, err := r.run(ctx, &report)
	if session != nil {
		report.Pages, report.Calls = session.listedPages, session.callsMade
	}
	if errors.Is(err, contract.ErrRateLimited) {
		report.RateLimited = true
		report.RetryAfter = contract.RetryAfterHint(err)
	}

	interrupted := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	finalState := schema.StateIdle
	result := "success"
	switch {
	case interrupted:
		finalState = schema.StateFailed
		result = "interrupted"
	case err != nil:
		finalState = schema.StateFailed
		result = "failed"
	case report.RateLimited:
		result = "rate_limited"
	}
	report.State = finalState
	report.Duration = r.now().Sub(start)

	r.mu.Lock()
	r.running = false
	r.state = finalState
	switch {
	case interrupted:
	case err != nil:
		r.lastFailure = r.now()
	default:
		r.lastFailure = time.Time{}
	}
	if report.RateLimited {
		wait := report.RetryAfter
		if wait <= 0 {
			wait = r.cfg.FailureCooldown
		}
		r.notBefore = r.now().Add(wait)
	}
	r.mu.Unlock()
	r.cache.ClearEmergency(r.ct, r.project)
	metrics.RefreshInProgress.WithLabelValues(string(r.ct)).Set(0)
	metrics.RefreshRuns.WithLabelValues(string(r.ct), result).Inc()
	metrics.ItemsEnriched.WithLabelValues(string(r.ct)).Add(float64(report.Enriched))

	if r.ledger != nil && report.RunID != 0 {
		outcome := schema.RunOutcome{
			EndTime:       r.now(),
			State:         finalState,
			ItemsListed:   report.Kept,
			ItemsEnriched: report.Enriched,
			Err:           err,
		}
		if lerr := r.ledger.EndRun(report.RunID, outcome); lerr != nil {
			r.log.WithError(lerr).Warn("Failed to record run end")
		}
	}

	fields := logrus.Fields{
		"run_id":       report.RunID,
		"listed":       report.Listed,
		"kept":         report.Kept,
		"candidates":   report.Candidates,
		"batches":      report.Batches,
		"enriched":     report.Enriched,
		"rate_limited": report.RateLimited,
		"pages":        report.Pages,
		"calls":        report.Calls,
		"duration":     report.Duration.Round(time.Millisecond),
	}
	if report.RetryAfter > 0 {
		fields["retry_after"] = report.RetryAfter
	}
	if interrupted {
		r.log.WithFields(fields).WithError(err).Warn("Refresh run interrupted")
		return report, err
	}
	if err != nil {
		r.log.WithFields(fields).WithError(err).Error("Refresh run failed")
		return report, err
	}
	r.log.WithFields(fields).Info("Refresh run finished")
	return report, nil
}

func (r *Refresher) setState(s schema.RefreshState) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// run performs the steps of one run. The session is returned, when one was
// opened, so the caller can report its usage.
func (r *Refresher) run(ctx context.Context, report *RunReport) (*remoteSession, error) {
	r.setState(schema.StateAcquiringToken)
	session, err := newRemoteSession(ctx, r.remote, r.tokens)
	if err != nil {
		return nil, err
	}

	r.setState(schema.StateFetchingBasicList)
	listed, err := session.listAll(ctx, r.cfg.PageSize)
	if err != nil {
		return session, err
	}
	kept := FilterItems(listed, r.cfg.Filter)
	report.Listed, report.Kept = len(listed), len(kept)
	if len(kept) == 0 {
		return session, fmt.Errorf("listing returned no %s items", r.ct)
	}

	r.setState(schema.StateIdentifyingNewOrStale)
	var candidates []candidate
	_, err = r.cache.Update(ctx, r.ct, r.project, func(s *schema.Snapshot) error {
		now := r.now()
		s.Items = MergeBasics(s.Items, kept)
		RecomputeExpiration(s.Items, r.cfg.TTLs, now)
		s.CapturedAt = schema.TimePtr(now)

		candidates = selectCandidates(s.Items)
		if len(candidates) == 0 {
			candidates = selectTopUp(s.Items, r.cfg.BatchSize)
			report.TopUp = len(candidates) > 0
		}
		s.BatchingInProgress = len(candidates) > 0
		return nil
	})
	if err != nil {
		return session, fmt.Errorf("save basic listing: %w", err)
	}
	report.Candidates = len(candidates)
	if len(candidates) == 0 {
		return session, nil
	}

	enrichErr := r.enrich(ctx, session, candidates, report)

	// Finalize even when the run was cancelled so the batching flag clears.
	r.setState(schema.StateMerging)
	_, err = r.cache.Update(context.WithoutCancel(ctx), r.ct, r.project, func(s *schema.Snapshot) error {
		now := r.now()
		RecomputeExpiration(s.Items, r.cfg.TTLs, now)
		s.BatchingInProgress = false
		if report.Enriched > 0 {
			s.LastEnrichmentAt = schema.TimePtr(now)
		}
		return nil
	})
	if err != nil {
		r.log.WithError(err).Warn("Final merge rejected, keeping last batch")
	}
	return session, enrichErr
}

// enrich fetches candidates batch by batch, merging after every batch. Being
// rate limited ends enrichment without failing the run; cancellation does not.
func (r *Refresher) enrich(ctx context.Context, session *remoteSession, candidates []candidate, report *RunReport) error {
	for start := 0; start < len(candidates); start += r.cfg.BatchSize {
		if start > 0 {
			r.log.WithField("pacing", r.cfg.BatchPacing).Debug("Pacing between batches")
			if err := r.sleep(ctx, r.cfg.BatchPacing); err != nil {
				return fmt.Errorf("enrichment interrupted after %d batches: %w", report.Batches, err)
			}
		}
		end := min(start+r.cfg.BatchSize, len(candidates))

		r.setState(schema.StateEnrichingBatch)
		fresh, limitErr := r.fetchBatch(ctx, session, candidates[start:end])
		report.Batches++

		r.setState(schema.StateMerging)
		_, err := r.cache.Update(context.WithoutCancel(ctx), r.ct, r.project, func(s *schema.Snapshot) error {
			MergeEnrichedItems(s.Items, fresh)
			RecomputeExpiration(s.Items, r.cfg.TTLs, r.now())
			return nil
		})
		if err != nil {
			r.log.WithError(err).Warn("Batch merge rejected")
		} else {
			report.Enriched += len(fresh)
		}
		r.log.WithFields(logrus.Fields{"batch": report.Batches, "size": end - start, "enriched": len(fresh)}).Info("Batch merged")

		if limitErr != nil {
			report.RateLimited = true
			report.RetryAfter = contract.RetryAfterHint(limitErr)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("enrichment interrupted after %d batches: %w", report.Batches, err)
		}
	}
	return nil
}

// fetchBatch fetches every missing kind of the batch. The error is the rate
// limit response when one ended the batch early.
func (r *Refresher) fetchBatch(ctx context.Context, session *remoteSession, batch []candidate) ([]schema.Item, error) {
	var fresh []schema.Item
	for _, c := range batch {
		if ctx.Err() != nil {
			return fresh, nil
		}
		it := schema.Item{ID: c.id}
		fetched := 0
		for _, kind := range c.kinds {
			e, err := session.fetch(ctx, c.id, kind)
			if err != nil {
				if errors.Is(err, contract.ErrRateLimited) {
					r.log.WithError(err).Warn("Rate limited, stopping enrichment")
					if fetched > 0 {
						it.EnrichedAt = schema.TimePtr(r.now())
						fresh = append(fresh, it)
					}
					return fresh, err
				}
				r.log.WithFields(logrus.Fields{"item": c.id, "kind": kind}).WithError(err).Warn("Enrichment fetch failed")
				continue
			}
			ApplyEnrichment(&it, e)
			fetched++
		}
		if fetched > 0 {
			it.EnrichedAt = schema.TimePtr(r.now())
			fresh = append(fresh, it)
		}
	}
	return fresh, nil
}

// selectCandidates lists items with at least one kind never fetched. An item
// that was never enriched gets every kind once, whatever its age; expiry only
// stops further fetches for items already enriched.
func selectCandidates(items []schema.Item) []candidate {
	var out []candidate
	for i := range items {
		it := &items[i]
		initial := !it.HasEnrichment()
		var kinds []schema.EnrichmentKind
		for _, kind := range schema.AllEnrichmentKinds {
			if !it.Fetched(kind) && (initial || !it.Expired(kind)) {
				kinds = append(kinds, kind)
			}
		}
		if len(kinds) > 0 {
			out = append(out, candidate{id: it.ID, kinds: kinds})
		}
	}
	return out
}

// selectTopUp picks up to limit items whose open kinds came back empty.
func selectTopUp(items []schema.Item, limit int) []candidate {
	var out []candidate
	for i := range items {
		if len(out) >= limit {
			break
		}
		it := &items[i]
		var kinds []schema.EnrichmentKind
		for _, kind := range openKinds {
			if it.Fetched(kind) && !it.HasData(kind) && !it.Expired(kind) {
				kinds = append(kinds, kind)
			}
		}
		if len(kinds) > 0 {
			out = append(out, candidate{id: it.ID, kinds: kinds})
		}
	}
	return out
}
