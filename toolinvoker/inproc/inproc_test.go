package inproc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentnode/core/runtime/agent/coreerr"
)

func TestRegisterRejectsNonCanonicalName(t *testing.T) {
	t.Parallel()

	r := New()
	err := r.Register("NotCanonical", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return nil, nil
	})
	require.Error(t, err)
	ce, ok := coreerr.As(err)
	require.True(t, ok)
	assert.Equal(t, coreerr.CodeInvalidRequest, ce.Code)
}

func TestInvokeRoundTrips(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.Register("weather__lookup", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"city": args["city"]}, nil
	}))

	out, err := r.Invoke(context.Background(), "weather__lookup", map[string]any{"city": "nyc"})
	require.NoError(t, err)
	assert.Equal(t, "nyc", out["city"])
	assert.Equal(t, []string{"weather__lookup"}, r.Names())
}

func TestInvokeUnknownToolIsPluginNotFound(t *testing.T) {
	t.Parallel()

	r := New()
	_, err := r.Invoke(context.Background(), "missing__tool", nil)
	require.Error(t, err)
	ce, ok := coreerr.As(err)
	require.True(t, ok)
	assert.Equal(t, coreerr.CodePluginNotFound, ce.Code)
}
