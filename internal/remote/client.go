// Package remote talks to the activity feed over HTTP.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/internal/logging"
	"github.com/huangsam/feedmirror/schema"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ClientConfig holds the HTTP client settings.
type ClientConfig struct {
	BaseURL     string
	Timeout     time.Duration
	RequestRate float64 // requests per second, 0 disables spacing
	MaxAttempts int     // attempts per request for transient failures
	BaseBackoff time.Duration
	DetailTTL   time.Duration // how long a fetched activity detail is reused
}

// Client implements contract.RemoteSource against the REST API.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	budget     contract.CallBudget
	spacing    *rate.Limiter
	details    *cache.Cache
	log        *logrus.Entry
	sleep      func(ctx context.Context, d time.Duration) error
}

var _ contract.RemoteSource = &Client{} // Compile-time check

// NewClient creates a new API client. budget may be nil to skip call accounting.
func NewClient(cfg ClientConfig, budget contract.CallBudget, logger logrus.FieldLogger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = contract.DefaultRequestTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = contract.DefaultTransientAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.DetailTTL <= 0 {
		cfg.DetailTTL = 5 * time.Minute
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		budget:     budget,
		details:    cache.New(cfg.DetailTTL, 2*cfg.DetailTTL),
		log:        logging.Component(logger, "remote"),
		sleep:      sleepCtx,
	}
	if cfg.RequestRate > 0 {
		c.spacing = rate.NewLimiter(rate.Limit(cfg.RequestRate), 1)
	}
	return c
}

// ConfigFromSettings maps the runtime configuration onto client settings.
func ConfigFromSettings(cfg *contract.Config) ClientConfig {
	return ClientConfig{
		BaseURL:     cfg.APIBaseURL,
		Timeout:     cfg.RequestTimeout,
		RequestRate: cfg.RequestRate,
		MaxAttempts: contract.DefaultTransientAttempts,
	}
}

// ListBasic returns one page (1-based) of activities, newest first.
func (c *Client) ListBasic(ctx context.Context, token string, page, pageSize int) ([]schema.Item, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(pageSize))

	var activities []summaryActivity
	if err := c.getJSON(ctx, "list", "/athlete/activities", query, token, &activities); err != nil {
		return nil, err
	}

	items := make([]schema.Item, 0, len(activities))
	for _, a := range activities {
		items = append(items, a.toItem())
	}
	return items, nil
}

// FetchEnrichment fetches one enrichment kind for one activity.
// Description and geo share the detail endpoint, which is fetched once per DetailTTL.
func (c *Client) FetchEnrichment(ctx context.Context, itemID int64, kind schema.EnrichmentKind, token string) (schema.Enrichment, error) {
	out := schema.Enrichment{Kind: kind}

	switch kind {
	case schema.PhotosKind:
		query := url.Values{}
		query.Set("size", photoSize)
		var photos []photo
		if err := c.getJSON(ctx, "photos", fmt.Sprintf("/activities/%d/photos", itemID), query, token, &photos); err != nil {
			return out, err
		}
		out.Photos = make([]schema.Photo, 0, len(photos))
		for _, p := range photos {
			out.Photos = append(out.Photos, p.toPhoto())
		}

	case schema.CommentsKind:
		var comments []comment
		if err := c.getJSON(ctx, "comments", fmt.Sprintf("/activities/%d/comments", itemID), nil, token, &comments); err != nil {
			return out, err
		}
		out.Comments = make([]schema.Comment, 0, len(comments))
		for _, cm := range comments {
			out.Comments = append(out.Comments, cm.toComment())
		}

	case schema.DescriptionKind, schema.GeoKind:
		detail, err := c.detail(ctx, itemID, token)
		if err != nil {
			return out, err
		}
		if kind == schema.DescriptionKind {
			out.Description = detail.description()
		} else {
			out.Geo = detail.geo()
		}

	default:
		return out, fmt.Errorf("unknown enrichment kind %q", kind)
	}

	return out, nil
}

// detail returns the activity detail, memoized per activity.
func (c *Client) detail(ctx context.Context, itemID int64, token string) (*detailedActivity, error) {
	key := strconv.FormatInt(itemID, 10)
	if cached, ok := c.details.Get(key); ok {
		return cached.(*detailedActivity), nil
	}

	var detail detailedActivity
	if err := c.getJSON(ctx, "detail", "/activities/"+key, nil, token, &detail); err != nil {
		return nil, err
	}
	c.details.Set(key, &detail, cache.DefaultExpiration)
	return &detail, nil
}

// getJSON performs a GET request and decodes the JSON payload.
// Transient failures retry with exponential back-off; every attempt is
// checked against the call budget first.
func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values, token string, out any) error {
	fullURL := c.cfg.BaseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := time.Duration(1<<(attempt-1)) * c.cfg.BaseBackoff
			c.log.WithFields(logrus.Fields{
				"endpoint": endpoint,
				"attempt":  attempt,
				"wait":     wait,
			}).WithError(lastErr).Debug("Retrying request")
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		}

		if err := c.acquire(ctx); err != nil {
			requests.WithLabelValues(endpoint, outcomeOf(err)).Inc()
			return err
		}

		body, err := c.doOnce(ctx, fullURL, token)
		requests.WithLabelValues(endpoint, outcomeOf(err)).Inc()
		if err == nil {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("failed to parse JSON response from %s: %w", endpoint, err)
			}
			return nil
		}

		lastErr = err
		if !errors.Is(err, contract.ErrTransient) {
			return err
		}
	}

	return lastErr
}

// acquire checks the call budget and waits for request spacing.
func (c *Client) acquire(ctx context.Context) error {
	if c.budget != nil {
		if ok, reason := c.budget.TryAcquire(); !ok {
			return &contract.RemoteError{Kind: contract.ErrRateLimited, Message: reason}
		}
	}
	if c.spacing != nil {
		if err := c.spacing.Wait(ctx); err != nil {
			return fmt.Errorf("request spacing: %w", err)
		}
	}
	if c.budget != nil {
		c.budget.RecordCall()
	}
	return nil
}

// doOnce executes a single request attempt and maps failures onto the
// contract error kinds.
func (c *Client) doOnce(ctx context.Context, fullURL, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &contract.RemoteError{Kind: contract.ErrTransient, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &contract.RemoteError{Kind: contract.ErrTransient, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 400 {
		return body, nil
	}

	remoteErr := &contract.RemoteError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		remoteErr.Kind = contract.ErrRateLimited
		remoteErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	case resp.StatusCode == http.StatusUnauthorized:
		remoteErr.Kind = contract.ErrUnauthorized
	case resp.StatusCode >= 500:
		remoteErr.Kind = contract.ErrTransient
	default:
		// Other 4xx responses, 403 included, are permanent for the resource
		remoteErr.Kind = contract.ErrNotFound
	}
	return nil, remoteErr
}

// errorMessage extracts the "message" field of an error payload, falling
// back to the raw body.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
