package transport

import (
	"context"
	"sync"

	"swarm/pkg/protocol"
	"swarm/pkg/types"
)

// Mailbox queues delivered messages for one node and hands them out by
// source and tag. Receivers park on a notification channel that is closed
// and replaced on every delivery, so waiting costs nothing while idle.
type Mailbox struct {
	mu      sync.Mutex
	queue   []Message
	changed chan struct{}
	closed  bool
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{changed: make(chan struct{})}
}

// Put appends a message. It never blocks.
func (m *Mailbox) Put(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.queue = append(m.queue, msg)
	close(m.changed)
	m.changed = make(chan struct{})
	return nil
}

// Take removes and returns the oldest message matching from and tags. An
// empty tag list matches every tag.
func (m *Mailbox) Take(ctx context.Context, from types.NodeID, tags ...protocol.Tag) (Message, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return Message{}, ErrClosed
		}
		for i, msg := range m.queue {
			if matches(msg, from, tags) {
				m.queue = append(m.queue[:i], m.queue[i+1:]...)
				m.mu.Unlock()
				return msg, nil
			}
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-changed:
		}
	}
}

// Len returns the number of undelivered messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close wakes every receiver with ErrClosed and drops pending messages.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.queue = nil
	close(m.changed)
}

func matches(msg Message, from types.NodeID, tags []protocol.Tag) bool {
	if from != AnySource && msg.Source != from {
		return false
	}
	if len(tags) == 0 {
		return true
	}
	for _, tag := range tags {
		if msg.Tag == tag {
			return true
		}
	}
	return false
}
