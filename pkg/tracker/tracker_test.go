package tracker

import (
	"context"
	"testing"
	"time"

	"swarm/pkg/metrics"
	"swarm/pkg/protocol"
	"swarm/pkg/transport"
	"swarm/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	f := types.File{Name: "f", Chunks: []types.ChunkHash{"h1", "h2"}}

	created, conflict := r.Register(1, f)
	assert.True(t, created)
	assert.False(t, conflict)

	created, conflict = r.Register(2, types.File{Name: "f", Chunks: []types.ChunkHash{"x"}})
	assert.False(t, created)
	assert.True(t, conflict, "a different chunk list is reported")

	// Registering again does not duplicate the provider
	r.Register(1, f)

	entry, ok := r.Lookup("f")
	require.True(t, ok)
	assert.Equal(t, f.Chunks, entry.File.Chunks, "first registration wins")
	assert.Equal(t, []types.NodeID{1, 2}, entry.Providers)
}

func TestRegistryJoinIsMonotonic(t *testing.T) {
	r := NewRegistry()
	r.Register(1, types.File{Name: "f", Chunks: []types.ChunkHash{"h1"}})

	_, ok := r.Join("missing", 3)
	assert.False(t, ok)

	previous := []types.NodeID{}
	for _, node := range []types.NodeID{3, 2, 3, 1, 4} {
		entry, ok := r.Join("f", node)
		require.True(t, ok)
		require.GreaterOrEqual(t, len(entry.Providers), len(previous))
		assert.Equal(t, previous, entry.Providers[:len(previous)], "earlier providers keep their positions")
		previous = entry.Providers
	}
	assert.Equal(t, []types.NodeID{1, 3, 2, 4}, previous)
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	r := NewRegistry()
	r.Register(1, types.File{Name: "b", Chunks: []types.ChunkHash{"h1"}})
	r.Register(2, types.File{Name: "a", Chunks: []types.ChunkHash{"h2"}})

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, types.FileName("b"), snapshot[0].File.Name, "registration order")

	snapshot[0].Providers[0] = 99
	snapshot[0].File.Chunks[0] = "mutated"

	entry, _ := r.Lookup("b")
	assert.Equal(t, []types.NodeID{1}, entry.Providers)
	assert.Equal(t, types.ChunkHash("h1"), entry.File.Chunks[0])
}

// runTracker starts a tracker on rank 0 of a fresh mesh.
func runTracker(t *testing.T, size int, m *metrics.SwarmMetrics) (*transport.Mesh, *Tracker, <-chan error) {
	t.Helper()
	mesh := transport.NewMesh(size)
	t.Cleanup(mesh.Close)

	tr := New(mesh.Endpoint(types.TrackerID), zaptest.NewLogger(t), m)
	errCh := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	go func() { errCh <- tr.Run(ctx) }()
	return mesh, tr, errCh
}

func register(t *testing.T, ep transport.Transport, files ...types.File) {
	t.Helper()
	require.NoError(t, transport.SendMessage(context.Background(), ep, types.TrackerID, protocol.TagRegister,
		protocol.RegisterRequest{Files: files}))
}

func recvWithin(t *testing.T, ep transport.Transport, v any, tag protocol.Tag) transport.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := transport.RecvMessage(ctx, ep, types.TrackerID, v, tag)
	require.NoError(t, err)
	return msg
}

func TestTrackerSession(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewSwarmMetrics(registry)
	mesh, tr, errCh := runTracker(t, 3, m)
	ctx := context.Background()

	p1, p2 := mesh.Endpoint(1), mesh.Endpoint(2)
	register(t, p1, types.File{Name: "f", Chunks: []types.ChunkHash{"h1", "h2"}})

	// No acknowledgment until every peer has registered
	early, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	_, err := p1.Recv(early, types.TrackerID, protocol.TagRegisterAck)
	cancel()
	require.ErrorIs(t, err, context.DeadlineExceeded)

	register(t, p2)

	for _, ep := range []transport.Transport{p1, p2} {
		var ack protocol.RegisterAck
		recvWithin(t, ep, &ack, protocol.TagRegisterAck)
		assert.Equal(t, protocol.StatusACK, ack.Status)
	}

	t.Run("RequestSwarm", func(t *testing.T) {
		require.NoError(t, transport.SendMessage(ctx, p2, types.TrackerID, protocol.TagRequestSwarm,
			protocol.SwarmQuery{Names: []types.FileName{"f", "ghost"}}))

		var reply protocol.SwarmReply
		recvWithin(t, p2, &reply, protocol.TagSwarmReply)
		require.Len(t, reply.Entries, 2)

		assert.True(t, reply.Entries[0].Found)
		assert.Equal(t, []types.NodeID{1, 2}, reply.Entries[0].Providers, "requester joins the swarm")
		assert.Equal(t, []types.ChunkHash{"h1", "h2"}, reply.Entries[0].Chunks)

		assert.Equal(t, types.FileName("ghost"), reply.Entries[1].Name)
		assert.False(t, reply.Entries[1].Found)
	})

	t.Run("RefreshSwarm", func(t *testing.T) {
		require.NoError(t, transport.SendMessage(ctx, p2, types.TrackerID, protocol.TagRefreshSwarm,
			protocol.SwarmQuery{Names: []types.FileName{"f"}}))

		var reply protocol.SwarmReply
		recvWithin(t, p2, &reply, protocol.TagSwarmReply)
		require.Len(t, reply.Entries, 1)
		assert.Equal(t, []types.NodeID{1, 2}, reply.Entries[0].Providers, "refresh does not duplicate")
		assert.Empty(t, reply.Entries[0].Chunks, "refresh carries no hashes")
	})

	require.NoError(t, transport.SendMessage(ctx, p2, types.TrackerID, protocol.TagFileDone, protocol.FileDone{Name: "f"}))
	require.NoError(t, p2.Send(ctx, types.TrackerID, protocol.TagAllDone, nil))
	// A repeated completion notice is not double counted
	require.NoError(t, p2.Send(ctx, types.TrackerID, protocol.TagAllDone, nil))

	select {
	case err := <-errCh:
		t.Fatalf("tracker terminated before every peer finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, p1.Send(ctx, types.TrackerID, protocol.TagAllDone, nil))

	for _, ep := range []transport.Transport{p1, p2} {
		recvWithin(t, ep, nil, protocol.TagTerminate)
	}
	require.NoError(t, <-errCh)

	snapshot := tr.Registry().Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, []types.NodeID{1, 2}, snapshot[0].Providers)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Registrations))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.UnknownFiles))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.TrackerRequests.WithLabelValues("ALL_DONE")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CompletedPeers))
}

func TestTrackerDuplicateRegistration(t *testing.T) {
	mesh, tr, errCh := runTracker(t, 3, nil)
	p1, p2 := mesh.Endpoint(1), mesh.Endpoint(2)

	register(t, p1, types.File{Name: "a", Chunks: []types.ChunkHash{"h1"}})
	register(t, p1, types.File{Name: "b", Chunks: []types.ChunkHash{"h2"}})

	early, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	_, err := p1.Recv(early, types.TrackerID, protocol.TagRegisterAck)
	cancel()
	require.ErrorIs(t, err, context.DeadlineExceeded, "duplicate registration must not count as a second peer")

	register(t, p2, types.File{Name: "a", Chunks: []types.ChunkHash{"h1"}})
	recvWithin(t, p1, nil, protocol.TagRegisterAck)
	recvWithin(t, p2, nil, protocol.TagRegisterAck)

	entry, ok := tr.Registry().Lookup("a")
	require.True(t, ok)
	assert.Equal(t, []types.NodeID{1, 2}, entry.Providers)
	_, ok = tr.Registry().Lookup("b")
	assert.True(t, ok, "files from a merged registration are kept")

	ctx := context.Background()
	require.NoError(t, p1.Send(ctx, types.TrackerID, protocol.TagAllDone, nil))
	require.NoError(t, p2.Send(ctx, types.TrackerID, protocol.TagAllDone, nil))
	require.NoError(t, <-errCh)
}

func TestTrackerCancellation(t *testing.T) {
	mesh := transport.NewMesh(2)
	defer mesh.Close()

	tr := New(mesh.Endpoint(types.TrackerID), zaptest.NewLogger(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- tr.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("tracker ignored cancellation")
	}
}
