// Package transport provides the reliable, ordered point-to-point message
// substrate the swarm protocol runs on. Every node owns one endpoint; a
// message is addressed by destination rank and tagged with a protocol.Tag.
package transport

import (
	"context"
	"errors"
	"fmt"

	"swarm/pkg/protocol"
	"swarm/pkg/types"
)

// AnySource matches messages from every sender in Recv.
const AnySource types.NodeID = -1

var (
	// ErrClosed is returned by operations on a closed endpoint.
	ErrClosed = errors.New("transport closed")

	// ErrUnknownNode is returned when a destination rank is out of range.
	ErrUnknownNode = errors.New("unknown node")
)

// Message is one delivered unit.
type Message struct {
	Source  types.NodeID `msgpack:"source"`
	Tag     protocol.Tag `msgpack:"tag"`
	Payload []byte       `msgpack:"payload"`
}

// Transport is a node's endpoint into the swarm.
//
// Send blocks until the message is queued at the destination. Recv blocks
// until a message from the given source (or AnySource) carrying one of the
// given tags arrives, or ctx is done. Messages between a pair of nodes are
// delivered in the order they were sent.
type Transport interface {
	Rank() types.NodeID
	Size() int
	Send(ctx context.Context, to types.NodeID, tag protocol.Tag, payload []byte) error
	Recv(ctx context.Context, from types.NodeID, tags ...protocol.Tag) (Message, error)
	Close() error
}

// SendMessage encodes v and sends it.
func SendMessage(ctx context.Context, t Transport, to types.NodeID, tag protocol.Tag, v any) error {
	payload, err := protocol.Marshal(v)
	if err != nil {
		return err
	}
	if err := t.Send(ctx, to, tag, payload); err != nil {
		return fmt.Errorf("failed to send %s to %s: %w", tag, to, err)
	}
	return nil
}

// RecvMessage waits for a matching message and decodes its payload into v,
// which may be nil for payload-less messages.
func RecvMessage(ctx context.Context, t Transport, from types.NodeID, v any, tags ...protocol.Tag) (Message, error) {
	msg, err := t.Recv(ctx, from, tags...)
	if err != nil {
		return Message{}, err
	}
	if err := protocol.Unmarshal(msg.Payload, v); err != nil {
		return msg, fmt.Errorf("failed to decode %s from %s: %w", msg.Tag, msg.Source, err)
	}
	return msg, nil
}

// Broadcast sends the same message to every node except the sender.
func Broadcast(ctx context.Context, t Transport, tag protocol.Tag, v any) error {
	payload, err := protocol.Marshal(v)
	if err != nil {
		return err
	}
	for i := 0; i < t.Size(); i++ {
		to := types.NodeID(i)
		if to == t.Rank() {
			continue
		}
		if err := t.Send(ctx, to, tag, payload); err != nil {
			return fmt.Errorf("failed to broadcast %s to %s: %w", tag, to, err)
		}
	}
	return nil
}

func checkDestination(t Transport, to types.NodeID) error {
	if to < 0 || int(to) >= t.Size() {
		return fmt.Errorf("%w: %d", ErrUnknownNode, int(to))
	}
	return nil
}
