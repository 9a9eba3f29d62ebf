// Package schema has the models and constants shared by all parts of feedmirror.
package schema

import "time"

// Photo is a single image attached to an activity.
type Photo struct {
	UniqueID string `json:"unique_id"`
	URL      string `json:"url"`
	Caption  string `json:"caption,omitempty"`
}

// Comment is a single comment left on an activity.
type Comment struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Bounds is the bounding box of a route.
type Bounds struct {
	SWLat float64 `json:"sw_lat"`
	SWLng float64 `json:"sw_lng"`
	NELat float64 `json:"ne_lat"`
	NELng float64 `json:"ne_lng"`
}

// Geo holds the route data of an activity.
type Geo struct {
	Polyline string  `json:"polyline"`
	Bounds   *Bounds `json:"bounds"`
}

// Item represents one remote activity.
//
// Enrichment fields distinguish "never fetched" (nil) from "fetched, nothing there"
// (empty slice or empty value). Slices are serialized without omitempty so that the
// distinction survives a round trip through the persistent store.
type Item struct {
	// Core fields, present after a basic listing fetch.
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Type               string    `json:"type"`
	StartDate          time.Time `json:"start_date"`
	Distance           float64   `json:"distance"`     // metres
	MovingTime         int       `json:"moving_time"`  // seconds
	ElapsedTime        int       `json:"elapsed_time"` // seconds
	TotalElevationGain float64   `json:"total_elevation_gain"`

	// Enrichment fields, fetched lazily.
	Photos      []Photo   `json:"photos"`
	Comments    []Comment `json:"comments"`
	Description *string   `json:"description"`
	Geo         *Geo      `json:"geo"`

	// Per-kind expiration flags, recomputed on every merge.
	PhotosExpired      bool `json:"photos_expired"`
	CommentsExpired    bool `json:"comments_expired"`
	DescriptionExpired bool `json:"description_expired"`
	GeoExpired         bool `json:"geo_expired"`

	EnrichedAt *time.Time `json:"enriched_at,omitempty"`
}

// Enrichment is the payload returned for a single enrichment fetch.
// Only the field matching Kind is meaningful.
type Enrichment struct {
	Kind        EnrichmentKind
	Photos      []Photo
	Comments    []Comment
	Description string
	Geo         *Geo
}

// Snapshot is the unit of storage per collection type and project.
type Snapshot struct {
	CollectionType           CollectionType `json:"collection_type"`
	Project                  string         `json:"project"`
	CapturedAt               *time.Time     `json:"captured_at"`
	LastEnrichmentAt         *time.Time     `json:"last_enrichment_at"`
	LastSaved                *time.Time     `json:"last_saved,omitempty"`
	Items                    []Item         `json:"items"`
	BatchingInProgress       bool           `json:"batching_in_progress"`
	LastCorruptionCheckAt    *time.Time     `json:"last_corruption_check_at,omitempty"`
	LastCorruptionDetectedAt *time.Time     `json:"last_corruption_detected_at,omitempty"`
	CorruptedCount           *int           `json:"corrupted_count,omitempty"`
}

// CorruptionEntry describes one item whose stored data disagreed with canonical data.
type CorruptionEntry struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Reasons []string `json:"reasons"`
}
