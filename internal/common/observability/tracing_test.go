package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Warn(string, map[string]interface{}) {}

func TestNewTracerProvider_RequiresEndpoint(t *testing.T) {
	_, err := NewTracerProvider("nlsql-workers", "")
	require.Error(t, err)
}

func TestObservability_NoopTracerWhenDisabled(t *testing.T) {
	o := New("nlsql-test", TracingOptions{Enabled: false}, nopLogger{})
	defer o.Shutdown()

	ctx, span := o.StartSpan(context.Background(), "retrieval")
	defer span.End()

	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
}
