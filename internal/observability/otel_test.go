package observability

import (
	"context"
	"testing"

	"sampark/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupTracing_Disabled_NoOp(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), config.TracingConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupTracing_Enabled(t *testing.T) {
	tc := config.GetDefaultConfig().Monitoring.Tracing
	tc.Enabled = true
	tc.ServiceName = ""

	// 导出器连接是惰性的，初始化不要求 collector 在线
	shutdown, err := SetupTracing(context.Background(), tc)
	if err != nil {
		t.Skipf("exporter unavailable: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}

func TestEndpointHost(t *testing.T) {
	tests := map[string]string{
		"http://localhost:4317":         "localhost:4317",
		"https://otel-collector:4317":   "otel-collector:4317",
		"127.0.0.1:4317":                "127.0.0.1:4317",
		"":                              "",
		"http://":                       "http://",
		"https://example.com:4317/path": "example.com:4317/path",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, endpointHost(in))
		})
	}
}

func TestSampler_ClampsRatio(t *testing.T) {
	assert.Contains(t, Sampler(0).Description(), "TraceIDRatioBased{0.1}")
	assert.Contains(t, Sampler(1.5).Description(), "TraceIDRatioBased{0.1}")
	assert.Contains(t, Sampler(0.5).Description(), "TraceIDRatioBased{0.5}")
}

func TestServiceName(t *testing.T) {
	assert.Equal(t, "sampark", serviceName(config.TracingConfig{}))
	assert.Equal(t, "edge", serviceName(config.TracingConfig{ServiceName: "edge"}))
}
