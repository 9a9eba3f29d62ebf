package outwriter

import (
	"fmt"
	"io"

	"github.com/huangsam/feedmirror/core"
	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/schema"
)

// PrintStatus outputs cache health, dispatching based on the output format configured.
func PrintStatus(health []schema.CacheHealth, usage *core.LimiterUsage, cfg *contract.Config) error {
	switch cfg.Output {
	case schema.JSONOut:
		if err := writeWithFile(cfg.OutputFile, func(w io.Writer) error {
			return writeJSONStatus(w, health, usage)
		}, "Wrote JSON"); err != nil {
			return fmt.Errorf("error writing JSON output: %w", err)
		}
	default:
		if err := writeWithFile(cfg.OutputFile, func(w io.Writer) error {
			return writeStatusTable(w, health, usage, cfg)
		}, "Wrote table"); err != nil {
			return fmt.Errorf("error writing table output: %w", err)
		}
	}
	return nil
}

// PrintRefreshReport outputs one refresh run report.
func PrintRefreshReport(ct schema.CollectionType, report core.RunReport, cfg *contract.Config) error {
	if cfg.Output == schema.JSONOut {
		return writeWithFile(cfg.OutputFile, func(w io.Writer) error {
			return writeJSON(w, struct {
				Collection schema.CollectionType `json:"collection"`
				core.RunReport
			}{ct, report})
		}, "Wrote JSON")
	}
	return writeWithFile(cfg.OutputFile, func(w io.Writer) error {
		return writeRefreshReport(w, ct, report)
	}, "Wrote report")
}

// PrintAuditReport outputs one audit run report.
func PrintAuditReport(ct schema.CollectionType, report core.AuditReport, cfg *contract.Config) error {
	if cfg.Output == schema.JSONOut {
		return writeWithFile(cfg.OutputFile, func(w io.Writer) error {
			return writeJSON(w, struct {
				Collection schema.CollectionType `json:"collection"`
				core.AuditReport
			}{ct, report})
		}, "Wrote JSON")
	}
	return writeWithFile(cfg.OutputFile, func(w io.Writer) error {
		return writeAuditReport(w, ct, report, cfg)
	}, "Wrote report")
}
