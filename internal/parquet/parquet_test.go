package parquet

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/huangsam/feedmirror/schema"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRows[T any](t *testing.T, path string) []T {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = file.Close() }()

	reader := parquet.NewGenericReader[T](file)
	defer func() { _ = reader.Close() }()

	rows := make([]T, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		require.NoError(t, err)
	}
	return rows[:n]
}

func sampleRuns() []Run {
	start := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	duration := int32(90000)
	msg := "rate limited: short window exhausted"
	return []Run{
		{RunID: 1, CollectionType: "runs", Project: "p", Kind: "refresh", StartTime: start, EndTime: &end, DurationMs: &duration, State: "idle", ItemsListed: 50, ItemsEnriched: 20},
		{RunID: 2, CollectionType: "runs", Project: "p", Kind: "audit", StartTime: start, EndTime: &end, DurationMs: &duration, State: "failed", Error: &msg},
		{RunID: 3, CollectionType: "rides", Project: "p", Kind: "refresh", StartTime: start, State: "fetching_basic_list"},
	}
}

func TestRunStructTags(t *testing.T) {
	s := parquet.SchemaOf(new(Run))
	for _, col := range []string{
		"run_id", "collection_type", "project", "run_kind", "start_time", "end_time",
		"run_duration_ms", "state", "items_listed", "items_enriched", "error_message",
	} {
		_, ok := s.Lookup(col)
		assert.True(t, ok, "Column %s should exist in schema", col)
	}
}

func TestWriteRunsParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.parquet")
	data := sampleRuns()
	require.NoError(t, WriteRunsParquet(data, path))

	got := readRows[Run](t, path)
	require.Len(t, got, len(data))
	for i := range data {
		assert.Equal(t, data[i].RunID, got[i].RunID)
		assert.Equal(t, data[i].Kind, got[i].Kind)
		assert.Equal(t, data[i].State, got[i].State)
		assert.Equal(t, data[i].ItemsListed, got[i].ItemsListed)
		assert.WithinDuration(t, data[i].StartTime, got[i].StartTime, time.Nanosecond)
	}

	// Nullable columns survive as nil
	assert.Nil(t, got[2].EndTime)
	assert.Nil(t, got[2].DurationMs)
	assert.Nil(t, got[0].Error)
	require.NotNil(t, got[1].Error)
	assert.Equal(t, *data[1].Error, *got[1].Error)
}

func TestWriteCorruptionsParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corruptions.parquet")
	detected := time.Date(2025, 6, 21, 3, 30, 0, 0, time.UTC)
	records := []schema.CorruptionRecord{
		{RunID: 4, CollectionType: "runs", Project: "p", ItemID: 11, ItemName: "run 11", Reasons: "distance 5000.0 != 5100.0", DetectedAt: detected},
		{RunID: 4, CollectionType: "runs", Project: "p", ItemID: 12, ItemName: "run 12", Reasons: "geo polyline differs", DetectedAt: detected},
	}

	require.NoError(t, WriteCorruptionsParquet(ConvertCorruptionRecords(records), path))

	got := readRows[Corruption](t, path)
	require.Len(t, got, 2)
	assert.Equal(t, int64(12), got[1].ItemID)
	assert.Equal(t, "geo polyline differs", got[1].Reasons)
	assert.WithinDuration(t, detected, got[0].DetectedAt, time.Nanosecond)
}

func TestConvertRunRecords(t *testing.T) {
	end := time.Now()
	records := []schema.RunRecord{{RunID: 9, CollectionType: "activities", Kind: "refresh", EndTime: &end, State: "idle", ItemsListed: 3}}

	got := ConvertRunRecords(records)
	require.Len(t, got, 1)
	assert.Equal(t, int64(9), got[0].RunID)
	assert.Equal(t, "activities", got[0].CollectionType)
	assert.Equal(t, &end, got[0].EndTime)
	assert.Equal(t, int32(3), got[0].ItemsListed)
}

func TestConvertSnapshot(t *testing.T) {
	desc := "easy loop"
	enriched := time.Now()
	snap := &schema.Snapshot{
		CollectionType: schema.RunsCollection,
		Project:        "p",
		Items: []schema.Item{
			{ID: 1, Name: "basic only", Type: "Run", Distance: 5000, MovingTime: 1500},
			{
				ID: 2, Name: "enriched", Type: "Run",
				Photos:      []schema.Photo{{UniqueID: "a"}, {UniqueID: "b"}},
				Comments:    []schema.Comment{},
				Description: &desc,
				Geo:         &schema.Geo{Polyline: "abc"},
				EnrichedAt:  &enriched,
			},
		},
	}

	rows := ConvertSnapshot(snap)
	require.Len(t, rows, 2)

	assert.Equal(t, "runs", rows[0].CollectionType)
	assert.Equal(t, int32(1500), rows[0].MovingTime)
	assert.Nil(t, rows[0].PhotoCount)
	assert.Nil(t, rows[0].CommentCount)
	assert.Nil(t, rows[0].Polyline)

	require.NotNil(t, rows[1].PhotoCount)
	assert.Equal(t, int32(2), *rows[1].PhotoCount)
	require.NotNil(t, rows[1].CommentCount)
	assert.Equal(t, int32(0), *rows[1].CommentCount)
	assert.Equal(t, "abc", *rows[1].Polyline)
	assert.Equal(t, "easy loop", *rows[1].Description)

	path := filepath.Join(t.TempDir(), "items.parquet")
	require.NoError(t, WriteSnapshotItemsParquet(rows, path))
	assert.Len(t, readRows[SnapshotItem](t, path), 2)
}

func TestWriteParquet_EmptyData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.parquet")
	require.NoError(t, WriteRunsParquet([]Run{}, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0), "Output file should contain schema even if empty")
}

func TestWriteParquet_InvalidPath(t *testing.T) {
	err := WriteCorruptionsParquet(nil, "/nonexistent/directory/output.parquet")
	require.Error(t, err)
}
