package remote

import (
	"strings"
	"time"

	"github.com/huangsam/feedmirror/schema"
)

// summaryActivity is one entry of the activity listing.
type summaryActivity struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Type               string    `json:"type"`
	SportType          string    `json:"sport_type"`
	StartDate          time.Time `json:"start_date"`
	Distance           float64   `json:"distance"`
	MovingTime         int       `json:"moving_time"`
	ElapsedTime        int       `json:"elapsed_time"`
	TotalElevationGain float64   `json:"total_elevation_gain"`
}

func (a summaryActivity) toItem() schema.Item {
	kind := a.SportType
	if kind == "" {
		kind = a.Type
	}
	return schema.Item{
		ID:                 a.ID,
		Name:               a.Name,
		Type:               kind,
		StartDate:          a.StartDate.UTC(),
		Distance:           a.Distance,
		MovingTime:         a.MovingTime,
		ElapsedTime:        a.ElapsedTime,
		TotalElevationGain: a.TotalElevationGain,
	}
}

// detailedActivity carries the fields of the detail endpoint used for
// description and geo enrichment.
type detailedActivity struct {
	ID          int64       `json:"id"`
	Description *string     `json:"description"`
	Map         activityMap `json:"map"`
	StartLatLng []float64   `json:"start_latlng"`
	EndLatLng   []float64   `json:"end_latlng"`
}

type activityMap struct {
	Polyline        string `json:"polyline"`
	SummaryPolyline string `json:"summary_polyline"`
}

// description returns an empty string for activities without one.
func (d *detailedActivity) description() string {
	if d.Description == nil {
		return ""
	}
	return strings.TrimSpace(*d.Description)
}

// geo prefers the full polyline. An activity without a route yields an
// empty Geo so the item counts as fetched.
func (d *detailedActivity) geo() *schema.Geo {
	poly := d.Map.Polyline
	if poly == "" {
		poly = d.Map.SummaryPolyline
	}
	return &schema.Geo{Polyline: poly, Bounds: boundsOf(d.StartLatLng, d.EndLatLng)}
}

// boundsOf spans the start and end points. Both must be lat/lng pairs.
func boundsOf(start, end []float64) *schema.Bounds {
	if len(start) != 2 || len(end) != 2 {
		return nil
	}
	return &schema.Bounds{
		SWLat: min(start[0], end[0]),
		SWLng: min(start[1], end[1]),
		NELat: max(start[0], end[0]),
		NELng: max(start[1], end[1]),
	}
}

type photo struct {
	UniqueID string            `json:"unique_id"`
	URLs     map[string]string `json:"urls"`
	Caption  string            `json:"caption"`
}

// photoSize is the rendition requested from the photos endpoint.
const photoSize = "600"

func (p photo) toPhoto() schema.Photo {
	url := p.URLs[photoSize]
	if url == "" {
		for _, u := range p.URLs {
			url = u
			break
		}
	}
	return schema.Photo{UniqueID: p.UniqueID, URL: url, Caption: p.Caption}
}

type comment struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Athlete   struct {
		FirstName string `json:"firstname"`
		LastName  string `json:"lastname"`
	} `json:"athlete"`
}

func (c comment) toComment() schema.Comment {
	return schema.Comment{
		ID:        c.ID,
		Author:    strings.TrimSpace(c.Athlete.FirstName + " " + c.Athlete.LastName),
		Text:      c.Text,
		CreatedAt: c.CreatedAt.UTC(),
	}
}
