package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestNewResource(t *testing.T) {
	r, err := newResource("posd", config{Environment: "staging"})
	require.NoError(t, err)

	attrs := r.Set()
	namespace, ok := attrs.Value(semconv.ServiceNamespaceKey)
	require.True(t, ok)
	require.Equal(t, ServiceNamespace, namespace.AsString())

	name, ok := attrs.Value(semconv.ServiceNameKey)
	require.True(t, ok)
	require.Equal(t, "posd", name.AsString())

	env, ok := attrs.Value(semconv.DeploymentEnvironmentKey)
	require.True(t, ok)
	require.Equal(t, "staging", env.AsString())

	r, err = newResource("wisphub-cli", config{})
	require.NoError(t, err)
	_, ok = r.Set().Value(semconv.DeploymentEnvironmentKey)
	require.False(t, ok)
}

func TestNewSampler(t *testing.T) {
	testCases := []struct {
		ratio    float64
		expected string
	}{
		{ratio: 0, expected: trace.AlwaysSample().Description()},
		{ratio: 1, expected: trace.AlwaysSample().Description()},
		{ratio: -2, expected: trace.AlwaysSample().Description()},
		{ratio: 0.25, expected: trace.ParentBased(trace.TraceIDRatioBased(0.25)).Description()},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expected, newSampler(tc.ratio).Description(), tc.ratio)
	}
}

func TestOtlpEndpoint(t *testing.T) {
	testCases := []struct {
		endpoint  otlpEndpoint
		transport string
		url       string
	}{
		{endpoint: otlpEndpoint{}, transport: "http", url: ""},
		{endpoint: otlpEndpoint{HttpEndpoint: "http://collector:4318"}, transport: "http", url: "http://collector:4318"},
		{
			endpoint:  otlpEndpoint{GrpcEndpoint: "http://collector:4317", HttpEndpoint: "http://collector:4318"},
			transport: "grpc",
			url:       "http://collector:4317",
		},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.transport, tc.endpoint.transport())
		require.Equal(t, tc.url, tc.endpoint.endpoint())
	}
}
