// Package outwriter has output and writer logic.
package outwriter

import (
	"github.com/huangsam/feedmirror/core"
	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/schema"
)

// OutWriter provides a unified interface for all output operations.
// It encapsulates the various output formats and provides a clean API for the commands.
type OutWriter struct{}

// NewOutWriter creates a new instance of the output writer.
func NewOutWriter() *OutWriter {
	return &OutWriter{}
}

// WriteStatus prints cache health and call budget usage using the configured output format.
func (ow *OutWriter) WriteStatus(health []schema.CacheHealth, usage *core.LimiterUsage, cfg *contract.Config) error {
	return PrintStatus(health, usage, cfg)
}

// WriteRefresh prints the report of a foreground refresh run.
func (ow *OutWriter) WriteRefresh(ct schema.CollectionType, report core.RunReport, cfg *contract.Config) error {
	return PrintRefreshReport(ct, report, cfg)
}

// WriteAudit prints the report of a foreground audit run.
func (ow *OutWriter) WriteAudit(ct schema.CollectionType, report core.AuditReport, cfg *contract.Config) error {
	return PrintAuditReport(ct, report, cfg)
}
