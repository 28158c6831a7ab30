package traces

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/faucetd/internal/logging"
)

func TestInit_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "", logging.Discard())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartSpan_ReturnsUsableSpan(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test.span", SessionID("s1"), BatchSize(3))
	defer span.End()
	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
}
