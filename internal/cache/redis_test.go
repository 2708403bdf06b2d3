package cache

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRedisConnects(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Cleanup(func() {
		_ = Close()
		Client = nil
	})

	require.NoError(t, InitRedis(mr.Addr()))
	assert.NotNil(t, Client)
}

func TestInitRedisUnreachableDisablesClient(t *testing.T) {
	// A miniredis that is already stopped gives a port nothing listens on.
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	err := InitRedis(addr)
	require.Error(t, err)
	assert.Nil(t, Client, "a dead Redis must leave caching fully disabled")
}
