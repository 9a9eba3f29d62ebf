package core

import (
	"fmt"
	"time"

	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/schema"
)

// ValidatorConfig holds the integrity thresholds. Fractions are in [0, 1].
type ValidatorConfig struct {
	MinCompleteness   float64
	MinCoverage       float64
	MinRecentCoverage float64
	FreshWindow       time.Duration
}

// DefaultValidatorConfig returns the stock thresholds.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MinCompleteness:   contract.DefaultMinCompleteness,
		MinCoverage:       contract.DefaultMinCoverage,
		MinRecentCoverage: contract.DefaultMinRecentCoverage,
		FreshWindow:       contract.DefaultFreshWindow,
	}
}

// CheckOptions tweaks a single validation.
type CheckOptions struct {
	// Emergency skips the enrichment coverage rules, used while rebuilding
	// a collection from nothing.
	Emergency bool
}

// Verdict is the detailed outcome of a validation.
type Verdict struct {
	Valid           bool    `json:"valid"`
	Reason          string  `json:"reason,omitempty"`
	Completeness    float64 `json:"completeness"`
	Coverage        float64 `json:"coverage"`
	RecentCoverage  float64 `json:"recent_coverage"`
	RecentItems     int     `json:"recent_items"`
	CoverageSkipped bool    `json:"coverage_skipped"`
}

// Validator decides whether a snapshot is trustworthy enough to serve and persist.
type Validator struct {
	cfg ValidatorConfig
	now func() time.Time
}

// NewValidator creates a validator. A nil clock means time.Now.
func NewValidator(cfg ValidatorConfig, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{cfg: cfg, now: now}
}

// Validate reports whether the snapshot passes every rule.
func (v *Validator) Validate(s *schema.Snapshot) bool {
	return v.Check(s, CheckOptions{}).Valid
}

// Check runs the rules in order and returns the first failure, if any.
func (v *Validator) Check(s *schema.Snapshot, opts CheckOptions) Verdict {
	if s.IsEmpty() {
		return Verdict{Reason: "snapshot has no items"}
	}

	now := v.now().UTC()
	monthStart := contract.StartOfUTCMonth(now)
	total := len(s.Items)

	var complete, covered, recent, recentCovered int
	for i := range s.Items {
		it := &s.Items[i]
		if it.IsComplete() {
			complete++
		}
		hasEnrichment := it.HasEnrichment()
		if hasEnrichment {
			covered++
		}
		if !it.StartDate.Before(monthStart) {
			recent++
			if hasEnrichment {
				recentCovered++
			}
		}
	}

	verdict := Verdict{
		Completeness: ratio(complete, total),
		Coverage:     ratio(covered, total),
		RecentItems:  recent,
	}
	if recent > 0 {
		verdict.RecentCoverage = ratio(recentCovered, recent)
	}

	if verdict.Completeness < v.cfg.MinCompleteness {
		verdict.Reason = fmt.Sprintf("basic completeness %.2f below %.2f", verdict.Completeness, v.cfg.MinCompleteness)
		return verdict
	}

	fresh := s.CapturedAt != nil && now.Sub(*s.CapturedAt) < v.cfg.FreshWindow
	if s.BatchingInProgress || fresh || opts.Emergency {
		verdict.CoverageSkipped = true
		verdict.Valid = true
		return verdict
	}

	if verdict.Coverage < v.cfg.MinCoverage {
		verdict.Reason = fmt.Sprintf("enrichment coverage %.2f below %.2f", verdict.Coverage, v.cfg.MinCoverage)
		return verdict
	}
	if recent > 0 && verdict.RecentCoverage < v.cfg.MinRecentCoverage {
		verdict.Reason = fmt.Sprintf("current month coverage %.2f below %.2f across %d items",
			verdict.RecentCoverage, v.cfg.MinRecentCoverage, recent)
		return verdict
	}

	verdict.Valid = true
	return verdict
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
