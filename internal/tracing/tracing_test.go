package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerDisabled(t *testing.T) {
	tp, err := InitTracer(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, tp)

	_, span := Tracer("test").Start(context.Background(), "noop")
	span.End()
}

func TestInitTracer(t *testing.T) {
	tp, err := InitTracer(context.Background(), "http://localhost:4318")
	require.NoError(t, err)
	require.NotNil(t, tp)
	require.NoError(t, tp.Shutdown(context.Background()))
}
