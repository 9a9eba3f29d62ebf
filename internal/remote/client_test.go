package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/internal/logging"
	"github.com/huangsam/feedmirror/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBudget counts acquisitions and can be told to deny.
type fakeBudget struct {
	mu      sync.Mutex
	deny    string
	records int
}

func (b *fakeBudget) TryAcquire() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deny != "" {
		return false, b.deny
	}
	return true, ""
}

func (b *fakeBudget) RecordCall() {
	b.mu.Lock()
	b.records++
	b.mu.Unlock()
}

// newTestClient points a client at handler and records back-off sleeps.
func newTestClient(t *testing.T, handler http.Handler, budget contract.CallBudget) (*Client, *[]time.Duration) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := NewClient(ClientConfig{BaseURL: server.URL + "/", BaseBackoff: 10 * time.Millisecond}, budget, logging.Discard())
	var sleeps []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return c, &sleeps
}

func TestListBasic(t *testing.T) {
	var gotAuth, gotPage, gotPerPage string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/athlete/activities", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotPage = r.URL.Query().Get("page")
		gotPerPage = r.URL.Query().Get("per_page")
		_, _ = w.Write([]byte(`[
			{"id": 2, "name": "Evening Ride", "type": "Ride", "sport_type": "GravelRide", "start_date": "2025-06-20T18:00:00Z", "distance": 40000.5, "moving_time": 5400, "elapsed_time": 6000, "total_elevation_gain": 420},
			{"id": 1, "name": "Morning Run", "type": "Run", "start_date": "2025-06-20T06:00:00Z", "distance": 8000, "moving_time": 2400, "elapsed_time": 2500}
		]`))
	})
	budget := &fakeBudget{}
	c, _ := newTestClient(t, handler, budget)

	items, err := c.ListBasic(context.Background(), "tok", 3, 50)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "3", gotPage)
	assert.Equal(t, "50", gotPerPage)
	assert.Equal(t, 1, budget.records)

	assert.Equal(t, int64(2), items[0].ID)
	assert.Equal(t, "GravelRide", items[0].Type, "sport_type wins over type")
	assert.Equal(t, 5400, items[0].MovingTime)
	assert.Equal(t, "Run", items[1].Type)
	assert.Equal(t, time.Date(2025, 6, 20, 6, 0, 0, 0, time.UTC), items[1].StartDate)
	assert.Nil(t, items[1].Photos, "listing never marks enrichments as fetched")
}

func TestGetJSON_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, contract.ErrUnauthorized},
		{"forbidden is per resource", http.StatusForbidden, contract.ErrNotFound},
		{"not found", http.StatusNotFound, contract.ErrNotFound},
		{"bad request is permanent", http.StatusBadRequest, contract.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message": "nope"}`))
			})
			c, sleeps := newTestClient(t, handler, nil)

			_, err := c.ListBasic(context.Background(), "tok", 1, 10)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int32(1), calls.Load(), "non-transient errors are not retried")
			assert.Empty(t, *sleeps)

			var remoteErr *contract.RemoteError
			require.True(t, errors.As(err, &remoteErr))
			assert.Equal(t, tt.status, remoteErr.StatusCode)
			assert.Equal(t, "nope", remoteErr.Message)
		})
	}
}

func TestGetJSON_RateLimitedWithRetryAfter(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c, _ := newTestClient(t, handler, nil)

	_, err := c.ListBasic(context.Background(), "tok", 1, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrRateLimited)
	assert.Equal(t, 7*time.Second, contract.RetryAfterHint(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetJSON_TransientRetry(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	budget := &fakeBudget{}
	c, sleeps := newTestClient(t, handler, budget)

	items, err := c.ListBasic(context.Background(), "tok", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, budget.records, "every attempt counts against the budget")
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *sleeps)
}

func TestGetJSON_TransientExhausted(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c, _ := newTestClient(t, handler, nil)

	_, err := c.ListBasic(context.Background(), "tok", 1, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrTransient)
	assert.Equal(t, int32(contract.DefaultTransientAttempts), calls.Load())
}

func TestGetJSON_BudgetDenied(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`[]`))
	})
	budget := &fakeBudget{deny: "short window exhausted"}
	c, _ := newTestClient(t, handler, budget)

	_, err := c.ListBasic(context.Background(), "tok", 1, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrRateLimited)
	assert.Contains(t, err.Error(), "short window exhausted")
	assert.Equal(t, int32(0), calls.Load(), "a denied call never reaches the network")
	assert.Equal(t, 0, budget.records)
}

func TestGetJSON_MalformedBody(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	})
	c, _ := newTestClient(t, handler, nil)

	_, err := c.ListBasic(context.Background(), "tok", 1, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse JSON response")
}

func TestFetchEnrichment_DetailSharedByDescriptionAndGeo(t *testing.T) {
	var detailCalls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/activities/42", r.URL.Path)
		detailCalls.Add(1)
		_, _ = w.Write([]byte(`{
			"id": 42,
			"description": "  tempo intervals ",
			"map": {"polyline": "", "summary_polyline": "abc"},
			"start_latlng": [37.5, -122.3],
			"end_latlng": [37.4, -122.1]
		}`))
	})
	c, _ := newTestClient(t, handler, nil)
	ctx := context.Background()

	desc, err := c.FetchEnrichment(ctx, 42, schema.DescriptionKind, "tok")
	require.NoError(t, err)
	assert.Equal(t, schema.DescriptionKind, desc.Kind)
	assert.Equal(t, "tempo intervals", desc.Description)

	geo, err := c.FetchEnrichment(ctx, 42, schema.GeoKind, "tok")
	require.NoError(t, err)
	require.NotNil(t, geo.Geo)
	assert.Equal(t, "abc", geo.Geo.Polyline, "falls back to the summary polyline")
	require.NotNil(t, geo.Geo.Bounds)
	assert.Equal(t, 37.4, geo.Geo.Bounds.SWLat)
	assert.Equal(t, -122.1, geo.Geo.Bounds.NELng)

	assert.Equal(t, int32(1), detailCalls.Load())
}

func TestFetchEnrichment_NoRoute(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id": 5, "description": null, "map": {}}`))
	})
	c, _ := newTestClient(t, handler, nil)

	geo, err := c.FetchEnrichment(context.Background(), 5, schema.GeoKind, "tok")
	require.NoError(t, err)
	require.NotNil(t, geo.Geo, "an empty route still counts as fetched")
	assert.Empty(t, geo.Geo.Polyline)
	assert.Nil(t, geo.Geo.Bounds)

	desc, err := c.FetchEnrichment(context.Background(), 5, schema.DescriptionKind, "tok")
	require.NoError(t, err)
	assert.Empty(t, desc.Description)
}

func TestFetchEnrichment_PhotosAndComments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/activities/7/photos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "600", r.URL.Query().Get("size"))
		_, _ = w.Write([]byte(`[
			{"unique_id": "p1", "urls": {"600": "https://img/p1-600.jpg"}, "caption": "summit"},
			{"unique_id": "p2", "urls": {"100": "https://img/p2-100.jpg"}}
		]`))
	})
	mux.HandleFunc("/activities/7/comments", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id": 9, "text": "nice", "created_at": "2025-06-21T08:00:00Z", "athlete": {"firstname": "Ada", "lastname": "L."}}]`))
	})
	mux.HandleFunc("/activities/8/comments", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	c, _ := newTestClient(t, mux, nil)
	ctx := context.Background()

	photos, err := c.FetchEnrichment(ctx, 7, schema.PhotosKind, "tok")
	require.NoError(t, err)
	require.Len(t, photos.Photos, 2)
	assert.Equal(t, "https://img/p1-600.jpg", photos.Photos[0].URL)
	assert.Equal(t, "summit", photos.Photos[0].Caption)
	assert.Equal(t, "https://img/p2-100.jpg", photos.Photos[1].URL)

	comments, err := c.FetchEnrichment(ctx, 7, schema.CommentsKind, "tok")
	require.NoError(t, err)
	require.Len(t, comments.Comments, 1)
	assert.Equal(t, "Ada L.", comments.Comments[0].Author)
	assert.Equal(t, "nice", comments.Comments[0].Text)

	none, err := c.FetchEnrichment(ctx, 8, schema.CommentsKind, "tok")
	require.NoError(t, err)
	assert.NotNil(t, none.Comments, "fetched but empty is an empty slice")
	assert.Empty(t, none.Comments)
}

func TestFetchEnrichment_UnknownKind(t *testing.T) {
	c, _ := newTestClient(t, http.NotFoundHandler(), nil)
	_, err := c.FetchEnrichment(context.Background(), 1, schema.EnrichmentKind("kudos"), "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown enrichment kind")
}

func TestGetJSON_ContextCancelled(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c, _ := newTestClient(t, handler, nil)
	c.sleep = sleepCtx

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ListBasic(ctx, "tok", 1, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "30", 30 * time.Second},
		{"negative", "-5", 0},
		{"http date", now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"garbage", "soon", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseRetryAfter(tt.value, now))
		})
	}
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, "ok", outcomeOf(nil))
	assert.Equal(t, "rate_limited", outcomeOf(&contract.RemoteError{Kind: contract.ErrRateLimited}))
	assert.Equal(t, "transient", outcomeOf(&contract.RemoteError{Kind: contract.ErrTransient}))
	assert.Equal(t, "error", outcomeOf(errors.New("boom")))
}

func TestConfigFromSettings(t *testing.T) {
	cfg := &contract.Config{APIBaseURL: "https://api.example.com", RequestRate: 1.5, RequestTimeout: 5 * time.Second}
	got := ConfigFromSettings(cfg)
	assert.Equal(t, "https://api.example.com", got.BaseURL)
	assert.Equal(t, 1.5, got.RequestRate)
	assert.Equal(t, 5*time.Second, got.Timeout)

	c := NewClient(got, nil, nil)
	assert.NotNil(t, c.spacing)
	assert.Equal(t, time.Second, c.cfg.BaseBackoff)

	c = NewClient(ClientConfig{BaseURL: "https://api.example.com"}, nil, nil)
	assert.Nil(t, c.spacing, "zero rate disables spacing")
	assert.Equal(t, contract.DefaultRequestTimeout, c.httpClient.Timeout)
}
