package outwriter

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/huangsam/feedmirror/core"
	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/schema"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// writeJSONStatus marshals cache health with labels added.
func writeJSONStatus(w io.Writer, health []schema.CacheHealth, usage *core.LimiterUsage) error {
	type JSONHealth struct {
		Label string `json:"label"`
		schema.CacheHealth
	}

	output := struct {
		Collections []JSONHealth       `json:"collections"`
		Budget      *core.LimiterUsage `json:"budget,omitempty"`
	}{
		Collections: make([]JSONHealth, len(health)),
		Budget:      usage,
	}
	for i, h := range health {
		output.Collections[i] = JSONHealth{Label: contract.GetPlainLabel(h), CacheHealth: h}
	}
	return writeJSON(w, output)
}

// writeStatusTable renders one row per collection using the tablewriter API.
func writeStatusTable(w io.Writer, health []schema.CacheHealth, usage *core.LimiterUsage, cfg *contract.Config) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Collection", "Project", "Health", "Source", "Items", "Enriched", "Coverage", "Recent", "Age", "State", "Reason"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	reasonWidth := getMaxReasonWidth(cfg)
	var data [][]string
	for _, h := range health {
		label := contract.GetPlainLabel(h)
		if cfg.UseColors {
			label = contract.GetColorLabel(h)
		}
		reason := h.Reason
		if reason == "" {
			reason = "-"
		}
		data = append(data, []string{
			string(h.CollectionType),
			h.Project,
			label,
			string(h.Source),
			strconv.Itoa(h.ItemCount),
			strconv.Itoa(h.EnrichedCount),
			formatPercent(h.Coverage),
			formatPercent(h.RecentCoverage),
			formatAge(h.Age),
			string(h.RefreshState),
			truncate(reason, reasonWidth),
		})
	}

	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	for _, h := range health {
		if h.BatchingInProgress {
			_, _ = fmt.Fprintf(w, "%s: enrichment batching in progress\n", h.CollectionType)
		}
		if h.LastCorruptionCheckAt != nil {
			_, _ = fmt.Fprintf(w, "%s: last audit %s, %d corrupted\n", h.CollectionType, formatTime(h.LastCorruptionCheckAt), h.CorruptedCount)
		}
	}
	if usage != nil {
		_, _ = fmt.Fprintf(w, "Call budget: %d/%d in window (resets %s), %d/%d today (resets %s)\n",
			usage.ShortCount, usage.ShortLimit, usage.ShortResetAt.UTC().Format(time.TimeOnly),
			usage.DailyCount, usage.DailyLimit, usage.DailyResetAt.UTC().Format(contract.DateTimeFormat))
	}
	return nil
}

// writeRefreshReport prints a refresh run summary.
func writeRefreshReport(w io.Writer, ct schema.CollectionType, r core.RunReport) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Refresh of %s finished in state %s after %v\n", ct, r.State, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "  Run ID:      %d\n", r.RunID)
	fmt.Fprintf(&b, "  Listed:      %d (kept %d)\n", r.Listed, r.Kept)
	fmt.Fprintf(&b, "  Candidates:  %d", r.Candidates)
	if r.TopUp {
		b.WriteString(" (coverage top-up)")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Batches:     %d\n", r.Batches)
	fmt.Fprintf(&b, "  Enriched:    %d\n", r.Enriched)
	fmt.Fprintf(&b, "  Remote:      %d calls, %d listing pages\n", r.Calls, r.Pages)
	if r.RateLimited {
		b.WriteString("  Stopped early: call budget exhausted")
		if r.RetryAfter > 0 {
			fmt.Fprintf(&b, ", retry after %v", r.RetryAfter)
		}
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// writeAuditReport prints an audit summary and a table of repaired items.
func writeAuditReport(w io.Writer, ct schema.CollectionType, r core.AuditReport, cfg *contract.Config) error {
	if _, err := fmt.Fprintf(w, "Audit of %s checked %d items in %v (run %d, %d missing remotely, %d geo fetched)\n",
		ct, r.Checked, r.Duration.Round(time.Millisecond), r.RunID, r.Missing, r.GeoFetched); err != nil {
		return err
	}
	if r.RateLimited {
		msg := "Geo comparison stopped early: call budget exhausted"
		if r.RetryAfter > 0 {
			msg += fmt.Sprintf(", next audit after %v", r.RetryAfter)
		}
		_, _ = fmt.Fprintln(w, msg)
	}
	if len(r.Corrupted) == 0 {
		_, err := fmt.Fprintln(w, "No corruption detected")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header([]string{"ID", "Name", "Reasons"})
	reasonWidth := getMaxReasonWidth(cfg) + 20
	var data [][]string
	for _, e := range r.Corrupted {
		data = append(data, []string{
			strconv.FormatInt(e.ID, 10),
			truncate(e.Name, 30),
			truncate(strings.Join(e.Reasons, "; "), reasonWidth),
		})
	}
	if err := table.Bulk(data); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Repaired %d corrupted items\n", len(r.Corrupted))
	return err
}
