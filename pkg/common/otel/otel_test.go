package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"

	"github.com/ahrav/statbus-sync/pkg/common/logger"
)

func TestGetTraceID(t *testing.T) {
	assert.Equal(t, "00000000000000000000000000000000", GetTraceID(context.Background()))

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
}

func TestNewResource(t *testing.T) {
	res := NewResource("svc", map[string]string{"host.name": "box"})

	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "svc", got[string(semconv.ServiceNameKey)])
	assert.Equal(t, "box", got["host.name"])
}

func TestInitTelemetry_RequiresEndpoint(t *testing.T) {
	_, _, err := InitTelemetry(logger.Noop(), Config{ServiceName: "svc"})
	assert.Error(t, err)
}
