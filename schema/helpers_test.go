package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemIsComplete(t *testing.T) {
	start := time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		item Item
		want bool
	}{
		{"all core fields", Item{ID: 1, Name: "Morning Run", Type: "Run", StartDate: start}, true},
		{"missing id", Item{Name: "Morning Run", Type: "Run", StartDate: start}, false},
		{"blank name", Item{ID: 1, Name: "  ", Type: "Run", StartDate: start}, false},
		{"missing type", Item{ID: 1, Name: "Morning Run", StartDate: start}, false},
		{"missing start date", Item{ID: 1, Name: "Morning Run", Type: "Run"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.item.IsComplete())
		})
	}
}

func TestItemFetchedVersusHasData(t *testing.T) {
	empty := ""
	it := Item{ID: 1, Photos: []Photo{}, Description: &empty}

	assert.True(t, it.Fetched(PhotosKind), "empty slice means fetched")
	assert.False(t, it.HasData(PhotosKind), "empty slice carries no data")
	assert.True(t, it.Fetched(DescriptionKind))
	assert.False(t, it.HasData(DescriptionKind))
	assert.False(t, it.Fetched(CommentsKind))
	assert.False(t, it.Fetched(GeoKind))
	assert.True(t, it.HasEnrichment())

	assert.False(t, (&Item{ID: 2}).HasEnrichment())
}

func TestFetchedSurvivesJSON(t *testing.T) {
	it := Item{ID: 7, Name: "Ride", Type: "Ride", StartDate: time.Now().UTC(), Photos: []Photo{}}

	data, err := json.Marshal(it)
	require.NoError(t, err)

	var back Item
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Fetched(PhotosKind), "fetched-empty photos must round trip as []")
	assert.False(t, back.Fetched(CommentsKind), "never-fetched comments must round trip as null")
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	desc := "easy spin"
	n := 2
	s := &Snapshot{
		CollectionType: ActivitiesCollection,
		Project:        "default",
		CapturedAt:     TimePtr(time.Now()),
		CorruptedCount: &n,
		Items: []Item{{
			ID:          1,
			Description: &desc,
			Photos:      []Photo{{UniqueID: "a"}},
			Geo:         &Geo{Polyline: "abc", Bounds: &Bounds{SWLat: 1}},
		}},
	}

	c := s.Clone()
	*c.Items[0].Description = "changed"
	c.Items[0].Photos[0].UniqueID = "b"
	c.Items[0].Geo.Bounds.SWLat = 9
	*c.CorruptedCount = 5

	assert.Equal(t, "easy spin", *s.Items[0].Description)
	assert.Equal(t, "a", s.Items[0].Photos[0].UniqueID)
	assert.Equal(t, 1.0, s.Items[0].Geo.Bounds.SWLat)
	assert.Equal(t, 2, *s.CorruptedCount)
}

func TestNewEmptySnapshot(t *testing.T) {
	s := NewEmptySnapshot(RunsCollection, "p")
	assert.True(t, s.IsEmpty())
	assert.Nil(t, s.CapturedAt)
	assert.NotNil(t, s.Items)
	assert.Zero(t, s.Age(time.Now()))
}

func TestDefaultActivityTypes(t *testing.T) {
	assert.Nil(t, DefaultActivityTypes(ActivitiesCollection))
	assert.Contains(t, DefaultActivityTypes(RunsCollection), "TrailRun")
	assert.Contains(t, DefaultActivityTypes(RidesCollection), "GravelRide")
}
