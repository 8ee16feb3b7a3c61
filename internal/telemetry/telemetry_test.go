package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/querypool/config"
)

// saveAndRestoreGlobalProviders restores the global providers after the test.
func saveAndRestoreGlobalProviders(t *testing.T) {
	t.Helper()
	origTP := otel.GetTracerProvider()
	origMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})
}

func TestInit_Disabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(config.TelemetryConfig{Enabled: false}, "", zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)

	// 禁用时回退到全局 Provider
	assert.Equal(t, otel.GetTracerProvider(), p.TracerProvider())
	assert.Equal(t, otel.GetMeterProvider(), p.MeterProvider())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_Enabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	cfg := config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "querypool-test",
		SampleRate:   0.5,
	}

	p, err := Init(cfg, "instance-1", zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	assert.True(t, p.Enabled())

	_, tpIsSDK := p.TracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := p.MeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK)
	assert.True(t, mpIsSDK)

	_, globalIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, globalIsSDK, "global provider replaced")
}

func TestProviders_NilSafe(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.False(t, p.Enabled())
	assert.NotNil(t, p.TracerProvider())
	assert.NotNil(t, p.MeterProvider())
}

func TestBuildVersion(t *testing.T) {
	// 测试二进制的模块版本为 (devel)
	assert.Equal(t, "dev", buildVersion())
}
