package remote

import (
	"errors"

	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feedmirror_remote_requests_total",
	Help: "Remote API requests by endpoint and outcome",
}, []string{"endpoint", "outcome"})

// outcomeOf labels a request result.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, contract.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, contract.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, contract.ErrNotFound):
		return "not_found"
	case errors.Is(err, contract.ErrTransient):
		return "transient"
	default:
		return "error"
	}
}
