package transport

import (
	"context"
	"fmt"
	"sync/atomic"

	"swarm/pkg/protocol"
	"swarm/pkg/types"
)

// Mesh connects a fixed number of in-process nodes. Each node's endpoint
// delivers straight into the destination mailbox.
type Mesh struct {
	boxes []*Mailbox
}

// NewMesh creates a mesh of size nodes, ranked 0..size-1.
func NewMesh(size int) *Mesh {
	boxes := make([]*Mailbox, size)
	for i := range boxes {
		boxes[i] = NewMailbox()
	}
	return &Mesh{boxes: boxes}
}

// Size returns the number of nodes in the mesh.
func (m *Mesh) Size() int {
	return len(m.boxes)
}

// Endpoint returns the transport owned by rank.
func (m *Mesh) Endpoint(rank types.NodeID) Transport {
	return &meshEndpoint{mesh: m, rank: rank}
}

// Endpoints returns every endpoint, indexed by rank.
func (m *Mesh) Endpoints() []Transport {
	endpoints := make([]Transport, len(m.boxes))
	for i := range m.boxes {
		endpoints[i] = m.Endpoint(types.NodeID(i))
	}
	return endpoints
}

// Close closes every mailbox.
func (m *Mesh) Close() {
	for _, box := range m.boxes {
		box.Close()
	}
}

type meshEndpoint struct {
	mesh   *Mesh
	rank   types.NodeID
	closed atomic.Bool
}

func (e *meshEndpoint) Rank() types.NodeID { return e.rank }

func (e *meshEndpoint) Size() int { return e.mesh.Size() }

func (e *meshEndpoint) Send(ctx context.Context, to types.NodeID, tag protocol.Tag, payload []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := checkDestination(e, to); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := Message{Source: e.rank, Tag: tag, Payload: payload}
	if err := e.mesh.boxes[to].Put(msg); err != nil {
		return fmt.Errorf("destination %s: %w", to, err)
	}
	return nil
}

func (e *meshEndpoint) Recv(ctx context.Context, from types.NodeID, tags ...protocol.Tag) (Message, error) {
	if e.closed.Load() {
		return Message{}, ErrClosed
	}
	return e.mesh.boxes[e.rank].Take(ctx, from, tags...)
}

// Close detaches this endpoint. Other nodes can still deliver into its
// mailbox until the mesh itself is closed.
func (e *meshEndpoint) Close() error {
	e.closed.Store(true)
	return nil
}
