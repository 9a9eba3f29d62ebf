// Package parquet provides data structures and functions for exporting run
// history and mirrored items to Parquet files using github.com/parquet-go/parquet-go.
package parquet

import (
	"fmt"
	"os"
	"time"

	"github.com/huangsam/feedmirror/schema"
	"github.com/parquet-go/parquet-go"
)

// Run represents a single refresh or audit run.
// This struct maps to the feedmirror_runs database table.
type Run struct {
	// RunID is the unique identifier for this run
	RunID int64 `parquet:"run_id,snappy"`

	CollectionType string `parquet:"collection_type,snappy,dict"`
	Project        string `parquet:"project,snappy,dict"`

	// Kind is either refresh or audit
	Kind string `parquet:"run_kind,snappy,dict"`

	// StartTime is when the run began (stored as TIMESTAMP with nanosecond precision)
	StartTime time.Time `parquet:"start_time,snappy"`

	// EndTime is when the run completed (nullable while the run is active)
	EndTime *time.Time `parquet:"end_time,optional,snappy"`

	// DurationMs is the duration of the run in milliseconds (nullable)
	DurationMs *int32 `parquet:"run_duration_ms,optional,snappy"`

	// State is the last refresher state reached
	State string `parquet:"state,snappy,dict"`

	ItemsListed   int32 `parquet:"items_listed,snappy"`
	ItemsEnriched int32 `parquet:"items_enriched,snappy"`

	// Error holds the failure message of a failed run (nullable)
	Error *string `parquet:"error_message,optional,snappy"`
}

// Corruption represents one item flagged by an audit run.
// This struct maps to the feedmirror_corruptions database table.
type Corruption struct {
	RunID          int64     `parquet:"run_id,snappy"`
	CollectionType string    `parquet:"collection_type,snappy,dict"`
	Project        string    `parquet:"project,snappy,dict"`
	ItemID         int64     `parquet:"item_id,snappy"`
	ItemName       string    `parquet:"item_name,snappy"`
	Reasons        string    `parquet:"reasons,snappy"`
	DetectedAt     time.Time `parquet:"detected_at,snappy"`
}

// SnapshotItem is one mirrored item flattened for analytics.
type SnapshotItem struct {
	CollectionType     string     `parquet:"collection_type,snappy,dict"`
	Project            string     `parquet:"project,snappy,dict"`
	ItemID             int64      `parquet:"item_id,snappy"`
	Name               string     `parquet:"name,snappy"`
	Type               string     `parquet:"type,snappy,dict"`
	StartDate          time.Time  `parquet:"start_date,snappy"`
	Distance           float64    `parquet:"distance,snappy"`
	MovingTime         int32      `parquet:"moving_time,snappy"`
	ElapsedTime        int32      `parquet:"elapsed_time,snappy"`
	TotalElevationGain float64    `parquet:"total_elevation_gain,snappy"`
	PhotoCount         *int32     `parquet:"photo_count,optional,snappy"`
	CommentCount       *int32     `parquet:"comment_count,optional,snappy"`
	Description        *string    `parquet:"description,optional,snappy"`
	Polyline           *string    `parquet:"polyline,optional,snappy"`
	EnrichedAt         *time.Time `parquet:"enriched_at,optional,snappy"`
}

// writeRows writes rows to a Parquet file with a schema inferred from T.
func writeRows[T any](data []T, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = file.Close() }()

	writer := parquet.NewGenericWriter[T](file)
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write data to parquet file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return nil
}

// WriteRunsParquet writes a slice of Run structs to a Parquet file.
func WriteRunsParquet(data []Run, outputPath string) error {
	return writeRows(data, outputPath)
}

// WriteCorruptionsParquet writes a slice of Corruption structs to a Parquet file.
func WriteCorruptionsParquet(data []Corruption, outputPath string) error {
	return writeRows(data, outputPath)
}

// WriteSnapshotItemsParquet writes a slice of SnapshotItem structs to a Parquet file.
func WriteSnapshotItemsParquet(data []SnapshotItem, outputPath string) error {
	return writeRows(data, outputPath)
}

// ConvertRunRecords converts schema.RunRecord to Run for Parquet export.
func ConvertRunRecords(records []schema.RunRecord) []Run {
	result := make([]Run, len(records))
	for i, record := range records {
		result[i] = Run{
			RunID:          record.RunID,
			CollectionType: record.CollectionType,
			Project:        record.Project,
			Kind:           record.Kind,
			StartTime:      record.StartTime,
			EndTime:        record.EndTime,
			DurationMs:     record.DurationMs,
			State:          record.State,
			ItemsListed:    record.ItemsListed,
			ItemsEnriched:  record.ItemsEnriched,
			Error:          record.Error,
		}
	}
	return result
}

// ConvertCorruptionRecords converts schema.CorruptionRecord to Corruption for Parquet export.
func ConvertCorruptionRecords(records []schema.CorruptionRecord) []Corruption {
	result := make([]Corruption, len(records))
	for i, record := range records {
		result[i] = Corruption(record)
	}
	return result
}

// ConvertSnapshot flattens the items of a snapshot. Enrichment columns stay
// null for kinds that were never fetched.
func ConvertSnapshot(snap *schema.Snapshot) []SnapshotItem {
	result := make([]SnapshotItem, len(snap.Items))
	for i, item := range snap.Items {
		row := SnapshotItem{
			CollectionType:     string(snap.CollectionType),
			Project:            snap.Project,
			ItemID:             item.ID,
			Name:               item.Name,
			Type:               item.Type,
			StartDate:          item.StartDate,
			Distance:           item.Distance,
			MovingTime:         int32(item.MovingTime),
			ElapsedTime:        int32(item.ElapsedTime),
			TotalElevationGain: item.TotalElevationGain,
			Description:        item.Description,
			EnrichedAt:         item.EnrichedAt,
		}
		if item.Photos != nil {
			n := int32(len(item.Photos))
			row.PhotoCount = &n
		}
		if item.Comments != nil {
			n := int32(len(item.Comments))
			row.CommentCount = &n
		}
		if item.Geo != nil {
			poly := item.Geo.Polyline
			row.Polyline = &poly
		}
		result[i] = row
	}
	return result
}
