package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPing(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()

	c := NewClient(Options{Address: addr}, zap.NewNop())
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(context.Background()))

	mr.Close()
	err := c.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping "+addr)
}
