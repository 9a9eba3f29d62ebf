package schema

import (
	"strings"
	"time"
)

// IsComplete reports whether all core fields of the item are populated.
func (it *Item) IsComplete() bool {
	return it.ID != 0 && strings.TrimSpace(it.Name) != "" && it.Type != "" && !it.StartDate.IsZero()
}

// Fetched reports whether the given enrichment kind was ever fetched successfully.
func (it *Item) Fetched(kind EnrichmentKind) bool {
	switch kind {
	case PhotosKind:
		return it.Photos != nil
	case CommentsKind:
		return it.Comments != nil
	case DescriptionKind:
		return it.Description != nil
	case GeoKind:
		return it.Geo != nil
	default:
		return false
	}
}

// HasData reports whether the given enrichment kind holds non-empty data.
func (it *Item) HasData(kind EnrichmentKind) bool {
	switch kind {
	case PhotosKind:
		return len(it.Photos) > 0
	case CommentsKind:
		return len(it.Comments) > 0
	case DescriptionKind:
		return it.Description != nil && *it.Description != ""
	case GeoKind:
		return it.Geo != nil && it.Geo.Polyline != ""
	default:
		return false
	}
}

// Expired reports the stored expiration flag for the given enrichment kind.
func (it *Item) Expired(kind EnrichmentKind) bool {
	switch kind {
	case PhotosKind:
		return it.PhotosExpired
	case CommentsKind:
		return it.CommentsExpired
	case DescriptionKind:
		return it.DescriptionExpired
	case GeoKind:
		return it.GeoExpired
	default:
		return true
	}
}

// HasEnrichment reports whether at least one enrichment kind was fetched.
func (it *Item) HasEnrichment() bool {
	for _, kind := range AllEnrichmentKinds {
		if it.Fetched(kind) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the item.
func (it Item) Clone() Item {
	out := it
	if it.Photos != nil {
		out.Photos = make([]Photo, len(it.Photos))
		copy(out.Photos, it.Photos)
	}
	if it.Comments != nil {
		out.Comments = make([]Comment, len(it.Comments))
		copy(out.Comments, it.Comments)
	}
	if it.Description != nil {
		d := *it.Description
		out.Description = &d
	}
	if it.Geo != nil {
		g := *it.Geo
		if it.Geo.Bounds != nil {
			b := *it.Geo.Bounds
			g.Bounds = &b
		}
		out.Geo = &g
	}
	out.EnrichedAt = cloneTime(it.EnrichedAt)
	return out
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.CapturedAt = cloneTime(s.CapturedAt)
	out.LastEnrichmentAt = cloneTime(s.LastEnrichmentAt)
	out.LastSaved = cloneTime(s.LastSaved)
	out.LastCorruptionCheckAt = cloneTime(s.LastCorruptionCheckAt)
	out.LastCorruptionDetectedAt = cloneTime(s.LastCorruptionDetectedAt)
	if s.CorruptedCount != nil {
		n := *s.CorruptedCount
		out.CorruptedCount = &n
	}
	out.Items = make([]Item, len(s.Items))
	for i := range s.Items {
		out.Items[i] = s.Items[i].Clone()
	}
	return &out
}

// ItemIndex maps item IDs to their position in Items.
func (s *Snapshot) ItemIndex() map[int64]int {
	idx := make(map[int64]int, len(s.Items))
	for i, it := range s.Items {
		idx[it.ID] = i
	}
	return idx
}

// Age returns how long ago the basic listing was captured.
// A snapshot that was never captured has an age of zero and IsEmpty reports true.
func (s *Snapshot) Age(now time.Time) time.Duration {
	if s == nil || s.CapturedAt == nil {
		return 0
	}
	return now.Sub(*s.CapturedAt)
}

// IsEmpty reports whether the snapshot carries no items.
func (s *Snapshot) IsEmpty() bool {
	return s == nil || len(s.Items) == 0
}

// NewEmptySnapshot returns the explicit degraded-empty snapshot for a collection.
func NewEmptySnapshot(ct CollectionType, project string) *Snapshot {
	return &Snapshot{
		CollectionType: ct,
		Project:        project,
		Items:          []Item{},
	}
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
