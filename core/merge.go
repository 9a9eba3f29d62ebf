package core

import (
	"slices"
	"time"

	"github.com/huangsam/feedmirror/schema"
)

// Filter narrows the remote listing down to one collection.
type Filter struct {
	Types  []string  // nil keeps every type
	Cutoff time.Time // zero keeps every date
}

// Keep reports whether the item belongs to the collection.
func (f Filter) Keep(it schema.Item) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, it.Type) {
		return false
	}
	if !f.Cutoff.IsZero() && it.StartDate.Before(f.Cutoff) {
		return false
	}
	return true
}

// FilterItems applies the filter and collapses duplicate IDs. The first
// position of an ID is kept while its core fields come from the last copy.
func FilterItems(items []schema.Item, f Filter) []schema.Item {
	out := make([]schema.Item, 0, len(items))
	seen := make(map[int64]int, len(items))
	for _, it := range items {
		if !f.Keep(it) {
			continue
		}
		if idx, ok := seen[it.ID]; ok {
			mergeItem(&out[idx], it)
			continue
		}
		seen[it.ID] = len(out)
		out = append(out, it.Clone())
	}
	return out
}

// MergeBasics builds the item list from the canonical listing, carrying over
// enrichment already held for the same IDs. Items missing from the listing are dropped.
func MergeBasics(prev []schema.Item, listed []schema.Item) []schema.Item {
	index := make(map[int64]int, len(prev))
	for i, it := range prev {
		index[it.ID] = i
	}

	out := make([]schema.Item, 0, len(listed))
	for _, it := range listed {
		merged := it.Clone()
		if idx, ok := index[it.ID]; ok {
			old := prev[idx].Clone()
			fillEnrichment(&merged, old)
			if merged.EnrichedAt == nil {
				merged.EnrichedAt = old.EnrichedAt
			}
		}
		out = append(out, merged)
	}
	return out
}

// ApplyEnrichment folds one fetched enrichment into the item without ever
// replacing populated data with an empty value.
func ApplyEnrichment(it *schema.Item, e schema.Enrichment) {
	switch e.Kind {
	case schema.PhotosKind:
		if len(e.Photos) > 0 {
			it.Photos = slices.Clone(e.Photos)
		} else if it.Photos == nil {
			it.Photos = []schema.Photo{}
		}
	case schema.CommentsKind:
		if len(e.Comments) > 0 {
			it.Comments = slices.Clone(e.Comments)
		} else if it.Comments == nil {
			it.Comments = []schema.Comment{}
		}
	case schema.DescriptionKind:
		if e.Description != "" {
			d := e.Description
			it.Description = &d
		} else if it.Description == nil {
			empty := ""
			it.Description = &empty
		}
	case schema.GeoKind:
		if e.Geo != nil && e.Geo.Polyline != "" {
			g := *e.Geo
			if e.Geo.Bounds != nil {
				b := *e.Geo.Bounds
				g.Bounds = &b
			}
			it.Geo = &g
		} else if it.Geo == nil {
			it.Geo = &schema.Geo{}
		}
	}
}

// MergeEnrichedItems merges the enrichment of fresh into the matching items of dst.
// Items of fresh that are no longer in dst are ignored.
func MergeEnrichedItems(dst []schema.Item, fresh []schema.Item) int {
	index := make(map[int64]int, len(dst))
	for i, it := range dst {
		index[it.ID] = i
	}
	merged := 0
	for _, it := range fresh {
		idx, ok := index[it.ID]
		if !ok {
			continue
		}
		mergeEnrichment(&dst[idx], it)
		if it.EnrichedAt != nil {
			dst[idx].EnrichedAt = schema.TimePtr(*it.EnrichedAt)
		}
		merged++
	}
	return merged
}

// RecomputeExpiration sets every per-kind expiration flag from the TTLs.
// A kind without a TTL never expires.
func RecomputeExpiration(items []schema.Item, ttls map[schema.EnrichmentKind]time.Duration, now time.Time) {
	expired := func(it *schema.Item, kind schema.EnrichmentKind) bool {
		ttl, ok := ttls[kind]
		if !ok || it.StartDate.IsZero() {
			return false
		}
		return now.After(it.StartDate.Add(ttl))
	}
	for i := range items {
		it := &items[i]
		it.PhotosExpired = expired(it, schema.PhotosKind)
		it.CommentsExpired = expired(it, schema.CommentsKind)
		it.DescriptionExpired = expired(it, schema.DescriptionKind)
		it.GeoExpired = expired(it, schema.GeoKind)
	}
}

// mergeItem folds a later copy of the same item into dst: core fields from
// src win, enrichment is additive.
func mergeItem(dst *schema.Item, src schema.Item) {
	earlier := dst.Clone()
	*dst = src.Clone()
	fillEnrichment(dst, earlier)
}

// fillEnrichment copies kinds from src only where dst has nothing better.
func fillEnrichment(dst *schema.Item, src schema.Item) {
	for _, kind := range schema.AllEnrichmentKinds {
		switch {
		case src.HasData(kind) && !dst.HasData(kind):
			copyKind(dst, src, kind)
		case src.Fetched(kind) && !dst.Fetched(kind):
			copyKind(dst, src, kind)
		}
	}
}

// mergeEnrichment copies each enrichment kind of src into dst when src has
// data for it, or when dst never fetched it and src did.
func mergeEnrichment(dst *schema.Item, src schema.Item) {
	for _, kind := range schema.AllEnrichmentKinds {
		if !src.Fetched(kind) {
			continue
		}
		if !src.HasData(kind) && dst.Fetched(kind) {
			continue
		}
		copyKind(dst, src, kind)
	}
}

func copyKind(dst *schema.Item, src schema.Item, kind schema.EnrichmentKind) {
	c := src.Clone()
	switch kind {
	case schema.PhotosKind:
		dst.Photos = c.Photos
	case schema.CommentsKind:
		dst.Comments = c.Comments
	case schema.DescriptionKind:
		dst.Description = c.Description
	case schema.GeoKind:
		dst.Geo = c.Geo
	}
}
