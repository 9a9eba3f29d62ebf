package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/internal/logging"
	"github.com/huangsam/feedmirror/schema"
	"github.com/sirupsen/logrus"
)

// AuditConfig holds the CorruptionAuditor settings.
type AuditConfig struct {
	Hour        uint // UTC
	Minute      uint
	PageSize    int
	BatchSize   int
	BatchPacing time.Duration
}

// AuditReport summarizes one audit of one collection.
type AuditReport struct {
	RunID       int64                    `json:"run_id"`
	Checked     int                      `json:"checked"`
	Missing     int                      `json:"missing"`
	GeoFetched  int                      `json:"geo_fetched"`
	RateLimited bool                     `json:"rate_limited"`
	RetryAfter  time.Duration            `json:"retry_after,omitempty"`
	Corrupted   []schema.CorruptionEntry `json:"corrupted"`
	Duration    time.Duration            `json:"duration"`
}

// Err reports ErrCorruption when the audit repaired anything.
func (r AuditReport) Err() error {
	if len(r.Corrupted) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d items repaired", contract.ErrCorruption, len(r.Corrupted))
}

type auditTarget struct {
	ct      schema.CollectionType
	project string
	filter  Filter
}

// Auditor compares stored snapshots against the remote source once a day
// and repairs items that drifted.
type Auditor struct {
	cfg       AuditConfig
	cache     *TieredCache
	remote    contract.RemoteSource
	tokens    contract.TokenGuard
	ledger    contract.RunLedger
	log       *logrus.Entry
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	scheduler gocron.Scheduler

	// running is held for the whole of an audit pass.
	running sync.Mutex

	targetsMu sync.RWMutex
	targets   []auditTarget

	// notBefore defers audits after the remote rate limited one.
	backoffMu sync.Mutex
	notBefore time.Time
}

// NewAuditor creates an auditor with its own UTC scheduler. A nil ledger
// disables run recording.
func NewAuditor(cfg AuditConfig, tc *TieredCache, remote contract.RemoteSource, tokens contract.TokenGuard,
	ledger contract.RunLedger, logger logrus.FieldLogger, now func() time.Time,
) (*Auditor, error) {
	if now == nil {
		now = time.Now
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = contract.DefaultPageSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = contract.DefaultBatchSize
	}
	if cfg.Hour > 23 || cfg.Minute > 59 {
		return nil, fmt.Errorf("invalid audit time %02d:%02d", cfg.Hour, cfg.Minute)
	}

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Auditor{
		cfg:       cfg,
		cache:     tc,
		remote:    remote,
		tokens:    tokens,
		ledger:    ledger,
		log:       logging.Component(logger, "auditor"),
		now:       now,
		sleep:     sleepCtx,
		scheduler: scheduler,
	}, nil
}

// AddTarget registers a collection for the daily audit.
func (a *Auditor) AddTarget(ct schema.CollectionType, project string, filter Filter) {
	a.targetsMu.Lock()
	defer a.targetsMu.Unlock()
	a.targets = append(a.targets, auditTarget{ct: ct, project: project, filter: filter})
}

// Start registers the daily job and starts the scheduler.
func (a *Auditor) Start(ctx context.Context) error {
	spec := fmt.Sprintf("%d %d * * *", a.cfg.Minute, a.cfg.Hour)
	_, err := a.scheduler.NewJob(
		gocron.CronJob(spec, false),
		gocron.NewTask(func() {
			a.RunScheduled(ctx)
		}),
		gocron.WithName("corruption_audit"),
	)
	if err != nil {
		return fmt.Errorf("failed to register audit job: %w", err)
	}
	a.scheduler.Start()
	a.log.WithField("at", fmt.Sprintf("%02d:%02d UTC", a.cfg.Hour, a.cfg.Minute)).Info("Audit scheduler started")
	return nil
}

// Stop shuts the scheduler down, waiting for a running audit.
func (a *Auditor) Stop() error {
	return a.scheduler.Shutdown()
}

// RunScheduled audits every registered collection. A pass already running
// makes this a no-op.
func (a *Auditor) RunScheduled(ctx context.Context) {
	if !a.running.TryLock() {
		a.log.Warn("Audit already running, skipping scheduled pass")
		return
	}
	defer a.running.Unlock()

	a.targetsMu.RLock()
	targets := append([]auditTarget(nil), a.targets...)
	a.targetsMu.RUnlock()

	for _, t := range targets {
		if ctx.Err() != nil {
			return
		}
		if _, err := a.audit(ctx, t); err != nil {
			if errors.Is(err, contract.ErrRateLimited) {
				a.log.WithError(err).Warn("Audit pass deferred")
				return
			}
			a.log.WithFields(logrus.Fields{"collection": t.ct, "project": t.project}).WithError(err).Error("Audit failed")
		}
	}
}

// AuditCollection audits one collection right away.
func (a *Auditor) AuditCollection(ctx context.Context, ct schema.CollectionType, project string, filter Filter) (AuditReport, error) {
	if !a.running.TryLock() {
		return AuditReport{}, contract.ErrAuditInProgress
	}
	defer a.running.Unlock()
	return a.audit(ctx, auditTarget{ct: ct, project: project, filter: filter})
}

func (a *Auditor) audit(ctx context.Context, t auditTarget) (AuditReport, error) {
	log := logging.ForCollection(a.log, "auditor", t.ct, t.project)
	start := a.now()
	report := AuditReport{}

	a.backoffMu.Lock()
	notBefore := a.notBefore
	a.backoffMu.Unlock()
	if start.Before(notBefore) {
		report.RateLimited = true
		report.RetryAfter = notBefore.Sub(start)
		return report, fmt.Errorf("audit deferred until %s: %w",
			notBefore.UTC().Format(time.RFC3339), contract.ErrRateLimited)
	}

	if a.ledger != nil {
		id, err := a.ledger.BeginRun(t.ct, t.project, schema.AuditRun, start)
		if err != nil {
			log.WithError(err).Warn("Failed to record run start")
		}
		report.RunID = id
	}

	err := a.compareAndRepair(ctx, t, &report, log)
	report.Duration = a.now().Sub(start)
	if errors.Is(err, contract.ErrRateLimited) {
		report.RateLimited = true
		report.RetryAfter = contract.RetryAfterHint(err)
	}
	if report.RateLimited {
		wait := report.RetryAfter
		if wait <= 0 {
			wait = contract.DefaultShortWindow
		}
		a.backoffMu.Lock()
		a.notBefore = a.now().Add(wait)
		a.backoffMu.Unlock()
	}

	if len(report.Corrupted) > 0 {
		metrics.CorruptionsFound.WithLabelValues(string(t.ct)).Add(float64(len(report.Corrupted)))
	}
	if a.ledger != nil && report.RunID != 0 {
		if len(report.Corrupted) > 0 {
			if lerr := a.ledger.RecordCorruptions(report.RunID, t.ct, t.project, start, report.Corrupted); lerr != nil {
				log.WithError(lerr).Warn("Failed to record corruption entries")
			}
		}
		outcome := schema.RunOutcome{
			EndTime:     a.now(),
			State:       schema.StateIdle,
			ItemsListed: report.Checked,
			Err:         err,
		}
		if err != nil {
			outcome.State = schema.StateFailed
		} else {
			outcome.Err = report.Err()
		}
		if lerr := a.ledger.EndRun(report.RunID, outcome); lerr != nil {
			log.WithError(lerr).Warn("Failed to record run end")
		}
	}

	fields := logrus.Fields{
		"run_id":    report.RunID,
		"checked":   report.Checked,
		"missing":   report.Missing,
		"corrupted": len(report.Corrupted),
		"duration":  report.Duration.Round(time.Millisecond),
	}
	if report.RateLimited {
		fields["retry_after"] = report.RetryAfter
	}
	if err != nil {
		log.WithFields(fields).WithError(err).Error("Audit run failed")
		return report, err
	}
	log.WithFields(fields).Info("Audit run finished")
	return report, nil
}

func (a *Auditor) compareAndRepair(ctx context.Context, t auditTarget, report *AuditReport, log *logrus.Entry) error {
	stored := a.cache.Peek(ctx, t.ct, t.project)
	if stored.IsEmpty() {
		log.Info("Nothing stored yet, skipping audit")
		return nil
	}

	session, err := newRemoteSession(ctx, a.remote, a.tokens)
	if err != nil {
		return err
	}
	listed, err := session.listAll(ctx, a.cfg.PageSize)
	if err != nil {
		return err
	}
	canonical := FilterItems(listed, t.filter)

	index := stored.ItemIndex()
	var present []schema.Item
	for _, it := range canonical {
		if _, ok := index[it.ID]; ok {
			present = append(present, it)
		} else {
			report.Missing++
		}
	}
	report.Checked = len(present)

	geo := a.fetchGeo(ctx, session, present, report, log)

	var entries []schema.CorruptionEntry
	repairs := make(map[int64]schema.Item)
	for _, canon := range present {
		old := stored.Items[index[canon.ID]]
		g, geoOK := geo[canon.ID]
		reasons := diffItem(old, canon, g, geoOK)
		if len(reasons) == 0 {
			continue
		}
		entries = append(entries, schema.CorruptionEntry{ID: canon.ID, Name: canon.Name, Reasons: reasons})
		if geoOK && g.Polyline != "" {
			canon.Geo = g
		}
		repairs[canon.ID] = canon
		log.WithFields(logrus.Fields{"item": canon.ID, "reasons": reasons}).Warn("Corrupted item found")
	}
	report.Corrupted = entries

	now := a.now()
	_, err = a.cache.Update(ctx, t.ct, t.project, func(s *schema.Snapshot) error {
		for i := range s.Items {
			if fix, ok := repairs[s.Items[i].ID]; ok {
				repairItem(&s.Items[i], fix)
			}
		}
		s.LastCorruptionCheckAt = schema.TimePtr(now)
		if len(entries) > 0 {
			s.LastCorruptionDetectedAt = schema.TimePtr(now)
			n := len(entries)
			s.CorruptedCount = &n
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save audit result: %w", err)
	}
	return nil
}

// fetchGeo pulls canonical routes in paced batches. Items whose fetch failed
// are left out of the result and only their core fields get compared.
func (a *Auditor) fetchGeo(ctx context.Context, session *remoteSession, items []schema.Item, report *AuditReport, log *logrus.Entry) map[int64]*schema.Geo {
	out := make(map[int64]*schema.Geo, len(items))
	for start := 0; start < len(items); start += a.cfg.BatchSize {
		if start > 0 {
			if err := a.sleep(ctx, a.cfg.BatchPacing); err != nil {
				return out
			}
		}
		end := min(start+a.cfg.BatchSize, len(items))
		for _, it := range items[start:end] {
			e, err := session.fetch(ctx, it.ID, schema.GeoKind)
			if errors.Is(err, contract.ErrRateLimited) {
				report.RateLimited = true
				report.RetryAfter = contract.RetryAfterHint(err)
				log.WithError(err).Warn("Rate limited, comparing remaining items without routes")
				return out
			}
			if err != nil {
				log.WithField("item", it.ID).WithError(err).Debug("Route fetch failed")
				continue
			}
			geo := e.Geo
			if geo == nil {
				geo = &schema.Geo{}
			}
			out[it.ID] = geo
			report.GeoFetched++
		}
	}
	return out
}

// diffItem lists the fields where the stored item disagrees with canonical data.
// The route is compared only when both sides hold one.
func diffItem(stored, canon schema.Item, geo *schema.Geo, geoOK bool) []string {
	var reasons []string
	if stored.Name != canon.Name {
		reasons = append(reasons, fmt.Sprintf("name %q != %q", stored.Name, canon.Name))
	}
	if stored.Type != canon.Type {
		reasons = append(reasons, fmt.Sprintf("type %q != %q", stored.Type, canon.Type))
	}
	if !stored.StartDate.Equal(canon.StartDate) {
		reasons = append(reasons, fmt.Sprintf("start_date %s != %s",
			stored.StartDate.UTC().Format(time.RFC3339), canon.StartDate.UTC().Format(time.RFC3339)))
	}
	if !floatEqual(stored.Distance, canon.Distance) {
		reasons = append(reasons, fmt.Sprintf("distance %.1f != %.1f", stored.Distance, canon.Distance))
	}
	if stored.MovingTime != canon.MovingTime {
		reasons = append(reasons, fmt.Sprintf("moving_time %d != %d", stored.MovingTime, canon.MovingTime))
	}
	if stored.ElapsedTime != canon.ElapsedTime {
		reasons = append(reasons, fmt.Sprintf("elapsed_time %d != %d", stored.ElapsedTime, canon.ElapsedTime))
	}
	if !floatEqual(stored.TotalElevationGain, canon.TotalElevationGain) {
		reasons = append(reasons, fmt.Sprintf("elevation_gain %.1f != %.1f", stored.TotalElevationGain, canon.TotalElevationGain))
	}
	if geoOK && stored.HasData(schema.GeoKind) && geo.Polyline != "" && stored.Geo.Polyline != geo.Polyline {
		reasons = append(reasons, "geo polyline differs")
	}
	return reasons
}

// repairItem overwrites core fields and the route, keeping other enrichment.
// An empty canonical route never replaces a stored one.
func repairItem(dst *schema.Item, canon schema.Item) {
	dst.Name = canon.Name
	dst.Type = canon.Type
	dst.StartDate = canon.StartDate
	dst.Distance = canon.Distance
	dst.MovingTime = canon.MovingTime
	dst.ElapsedTime = canon.ElapsedTime
	dst.TotalElevationGain = canon.TotalElevationGain
	if canon.Geo != nil && canon.Geo.Polyline != "" {
		g := *canon.Geo
		dst.Geo = &g
	}
}

func floatEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}
