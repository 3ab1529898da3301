package flow_test

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"oauthd/flow"
)

func TestMetricsRecordPhases(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := flow.NewMetrics(reg)
	require.NoError(t, err)

	h := newHarness(t, func(c *flow.Config) { c.Metrics = metrics })
	ctx := context.Background()

	_, err = h.engine.BeginAuthorization(ctx, testSession, "github", "/a")
	require.NoError(t, err)
	_, err = h.engine.CompleteAuthorization(ctx, testSession, "github", url.Values{"error": {"access_denied"}})
	require.ErrorIs(t, err, flow.ErrUserDenied)
	_, err = h.engine.CompleteAuthorization(ctx, testSession, "github", url.Values{"code": {"abc"}})
	require.NoError(t, err)
	_, err = h.engine.BeginAuthorization(ctx, testSession, "myspace", "")
	require.ErrorIs(t, err, flow.ErrUnsupportedProvider)

	expected := `
# HELP oauthd_flow_phase_total Authorization flow phases by provider and outcome.
# TYPE oauthd_flow_phase_total counter
oauthd_flow_phase_total{outcome="ok",phase="begin",provider="github"} 1
oauthd_flow_phase_total{outcome="ok",phase="complete",provider="github"} 1
oauthd_flow_phase_total{outcome="unsupported_provider",phase="begin",provider="unsupported"} 1
oauthd_flow_phase_total{outcome="user_denied",phase="complete",provider="github"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "oauthd_flow_phase_total"))

	count, err := testutil.GatherAndCount(reg, "oauthd_provider_request_duration_seconds")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestNewMetricsRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := flow.NewMetrics(reg)
	require.NoError(t, err)
	_, err = flow.NewMetrics(reg)
	require.Error(t, err)
}
