package tracing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), "", "clinicops", "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartAndEnd(t *testing.T) {
	ctx, span := Start(context.Background(), "auth.Login", attribute.String("login.path", "tenant"))
	assert.NotNil(t, ctx)
	assert.NotPanics(t, func() { End(span, errors.New("invalid credentials")) })
}
