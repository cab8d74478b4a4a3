package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestLoadFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		for _, k := range []string{"OTEL_ENABLED", "OTEL_SERVICE_NAME", "OTEL_EXPORTER_OTLP_PROTOCOL", "OTEL_RESOURCE_ATTRIBUTES"} {
			t.Setenv(k, "")
		}
		cfg := LoadFromEnv()
		assert.False(t, cfg.Enabled)
		assert.Equal(t, DefaultServiceName, cfg.ServiceName)
		assert.Equal(t, "grpc", cfg.Protocol)
		assert.Empty(t, cfg.ResourceAttrs)
	})

	t.Run("custom", func(t *testing.T) {
		t.Setenv("OTEL_ENABLED", "TRUE")
		t.Setenv("OTEL_SERVICE_NAME", "indexer")
		t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "Authorization=Bearer a=b, x-team = mem")
		t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")

		cfg := LoadFromEnv()
		assert.True(t, cfg.Enabled)
		assert.True(t, cfg.Insecure)
		assert.Equal(t, "indexer", cfg.ServiceName)
		assert.Equal(t, map[string]string{"Authorization": "Bearer a=b", "x-team": "mem"}, cfg.Headers)
	})
}

func TestParseKeyValuePairs(t *testing.T) {
	assert.Empty(t, parseKeyValuePairs(""))
	assert.Equal(t, map[string]string{"a": "1"}, parseKeyValuePairs("a=1,,=2,novalue"))
}

func TestCreateSampler(t *testing.T) {
	tests := []struct {
		sampler string
		arg     string
		want    string
	}{
		{"", "", "AlwaysOnSampler"},
		{"always_off", "", "AlwaysOffSampler"},
		{"traceidratio", "0.5", "TraceIDRatioBased{0.5}"},
		{"traceidratio", "7", "AlwaysOnSampler"},
		{"parentbased_always_on", "", "ParentBased{root:AlwaysOnSampler"},
	}
	for _, tt := range tests {
		t.Run(tt.sampler, func(t *testing.T) {
			s := createSampler(&Config{Sampler: tt.sampler, SamplerArg: tt.arg})
			assert.Contains(t, s.Description(), tt.want)
		})
	}
}

func TestParseRatio(t *testing.T) {
	assert.Equal(t, 1.0, parseRatio(""))
	assert.Equal(t, 1.0, parseRatio("abc"))
	assert.Equal(t, 0.0, parseRatio("-1"))
	assert.Equal(t, 0.25, parseRatio("0.25"))
}

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Init(ctx, &Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(ctx))

	shutdown, err = Init(ctx, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(ctx))
	assert.False(t, Enabled())
}

func TestBuildResource(t *testing.T) {
	res, err := buildResource(context.Background(), &Config{
		ServiceName:   "memscope-index",
		ResourceAttrs: map[string]string{"deployment.environment": "test"},
	})
	require.NoError(t, err)

	attrs := res.Set()
	v, ok := attrs.Value("service.name")
	require.True(t, ok)
	assert.Equal(t, "memscope-index", v.AsString())
	v, ok = attrs.Value("deployment.environment")
	require.True(t, ok)
	assert.Equal(t, "test", v.AsString())
}

func TestSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, ok := StartSpan(context.Background(), "ok", attribute.String("file.path", "/tmp/a"))
	EndSpan(ok, nil)
	_, failed := StartSpan(context.Background(), "failed")
	EndSpan(failed, errors.New("boom"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "ok", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, TracerName, spans[0].InstrumentationScope().Name)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "boom", spans[1].Status().Description)
	assert.Len(t, spans[1].Events(), 1)
}
