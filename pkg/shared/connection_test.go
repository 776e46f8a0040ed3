package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/connectivity"
)

func TestConnectionPoolReuse(t *testing.T) {
	pool := NewConnectionPool()
	defer pool.CloseAll()

	// Connections are lazy, so nothing has to listen on these addresses
	first, err := pool.GetConnection("127.0.0.1:1")
	require.NoError(t, err)
	again, err := pool.GetConnection("127.0.0.1:1")
	require.NoError(t, err)
	assert.Same(t, first, again)

	other, err := pool.GetConnection("127.0.0.1:2")
	require.NoError(t, err)
	assert.NotSame(t, first, other)
	assert.Equal(t, 2, pool.Len())
}

func TestConnectionPoolReplacesShutdown(t *testing.T) {
	pool := NewConnectionPool()
	defer pool.CloseAll()

	conn, err := pool.GetConnection("127.0.0.1:1")
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	assert.Equal(t, connectivity.Shutdown, conn.GetState())

	fresh, err := pool.GetConnection("127.0.0.1:1")
	require.NoError(t, err)
	assert.NotSame(t, conn, fresh)
}

func TestConnectionPoolCloseAll(t *testing.T) {
	pool := NewConnectionPool()
	conn, err := pool.GetConnection("127.0.0.1:1")
	require.NoError(t, err)

	pool.CloseAll()
	assert.Equal(t, 0, pool.Len())
	assert.Equal(t, connectivity.Shutdown, conn.GetState())
}
