package flow

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records per-phase outcomes and provider round-trip latency.
// A nil *Metrics records nothing.
type Metrics struct {
	phases  *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewMetrics registers the flow collectors with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		phases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "oauthd",
			Name:      "flow_phase_total",
			Help:      "Authorization flow phases by provider and outcome.",
		}, []string{"provider", "phase", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "oauthd",
			Name:      "provider_request_duration_seconds",
			Help:      "Latency of calls to provider token endpoints.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
	}
	for _, c := range []prometheus.Collector{m.phases, m.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observePhase(provider, phase string, err error) {
	if m == nil {
		return
	}
	m.phases.WithLabelValues(provider, phase, outcomeLabel(err)).Inc()
}

func (m *Metrics) observeRequest(provider, operation string, start time.Time) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	switch {
	case errors.Is(err, ErrUnsupportedProvider):
		return "unsupported_provider"
	case errors.Is(err, ErrUserDenied):
		return "user_denied"
	case errors.Is(err, ErrMissingToken):
		return "missing_token"
	case errors.Is(err, ErrMalformedState):
		return "malformed_state"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTokenExchange):
		return "token_exchange"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrProvider):
		return "provider_error"
	default:
		return "internal"
	}
}
