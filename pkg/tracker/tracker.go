// Package tracker implements the swarm coordinator: it collects the
// initial file ownership of every peer, answers swarm queries and ends
// the run once every peer has finished downloading.
package tracker

import (
	"context"
	"fmt"

	"swarm/pkg/metrics"
	"swarm/pkg/protocol"
	"swarm/pkg/transport"
	"swarm/pkg/types"

	"go.uber.org/zap"
)

// Tracker runs on rank 0. Its control loop handles one message at a time,
// so the registry needs no coordination beyond what Snapshot readers use.
type Tracker struct {
	transport transport.Transport
	registry  *Registry
	logger    *zap.Logger
	metrics   *metrics.SwarmMetrics

	registered map[types.NodeID]bool
	completed  map[types.NodeID]bool
}

func New(t transport.Transport, logger *zap.Logger, m *metrics.SwarmMetrics) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		transport:  t,
		registry:   NewRegistry(),
		logger:     logger.With(zap.Stringer("node", t.Rank())),
		metrics:    m,
		registered: make(map[types.NodeID]bool),
		completed:  make(map[types.NodeID]bool),
	}
}

// Registry exposes the swarm table for read-only inspection.
func (t *Tracker) Registry() *Registry {
	return t.registry
}

func (t *Tracker) peers() int {
	return t.transport.Size() - 1
}

// Run drives a whole session: registration, serving and the final
// TERMINATE broadcast. It returns once every peer reported ALL_DONE.
func (t *Tracker) Run(ctx context.Context) error {
	t.logger.Info("Tracker starting", zap.Int("peers", t.peers()))

	if err := t.collectRegistrations(ctx); err != nil {
		return err
	}

	ack := protocol.RegisterAck{Status: protocol.StatusACK}
	if err := transport.Broadcast(ctx, t.transport, protocol.TagRegisterAck, ack); err != nil {
		return fmt.Errorf("failed to acknowledge registrations: %w", err)
	}
	t.logger.Info("Registration complete", zap.Int("files", t.registry.Len()))

	if err := t.serve(ctx); err != nil {
		return err
	}

	if err := transport.Broadcast(ctx, t.transport, protocol.TagTerminate, nil); err != nil {
		return fmt.Errorf("failed to broadcast termination: %w", err)
	}
	t.logger.Info("All peers finished, swarm terminated")
	return nil
}

func (t *Tracker) collectRegistrations(ctx context.Context) error {
	for len(t.registered) < t.peers() {
		var req protocol.RegisterRequest
		msg, err := transport.RecvMessage(ctx, t.transport, transport.AnySource, &req, protocol.TagRegister)
		if err != nil {
			return fmt.Errorf("failed to receive registration: %w", err)
		}

		for _, file := range req.Files {
			created, conflict := t.registry.Register(msg.Source, file)
			if conflict {
				t.logger.Warn("Conflicting chunk list for registered file, keeping the first",
					zap.String("file", string(file.Name)),
					zap.Stringer("source", msg.Source))
			}
			if created {
				t.logger.Debug("File registered",
					zap.String("file", string(file.Name)),
					zap.Int("chunks", len(file.Chunks)),
					zap.Stringer("owner", msg.Source))
			}
		}

		if t.registered[msg.Source] {
			t.logger.Warn("Duplicate registration merged", zap.Stringer("source", msg.Source))
			continue
		}
		t.registered[msg.Source] = true
		t.metrics.ObserveRegistration(t.registry.Len())

		t.logger.Info("Peer registered",
			zap.Stringer("source", msg.Source),
			zap.Int("files", len(req.Files)),
			zap.Int("registered", len(t.registered)))
	}
	return nil
}

func (t *Tracker) serve(ctx context.Context) error {
	for len(t.completed) < t.peers() {
		msg, err := t.transport.Recv(ctx, transport.AnySource,
			protocol.TagRequestSwarm, protocol.TagRefreshSwarm, protocol.TagFileDone, protocol.TagAllDone)
		if err != nil {
			return fmt.Errorf("failed to receive control message: %w", err)
		}
		t.metrics.ObserveTrackerRequest(msg.Tag.String())

		switch msg.Tag {
		case protocol.TagRequestSwarm, protocol.TagRefreshSwarm:
			if err := t.handleQuery(ctx, msg); err != nil {
				return err
			}

		case protocol.TagFileDone:
			var done protocol.FileDone
			if err := protocol.Unmarshal(msg.Payload, &done); err != nil {
				return err
			}
			t.logger.Info("Peer finished file",
				zap.Stringer("source", msg.Source),
				zap.String("file", string(done.Name)))

		case protocol.TagAllDone:
			if t.completed[msg.Source] {
				t.logger.Warn("Repeated completion notice ignored", zap.Stringer("source", msg.Source))
				continue
			}
			t.completed[msg.Source] = true
			t.metrics.ObserveCompletedPeers(len(t.completed))
			t.logger.Info("Peer finished all downloads",
				zap.Stringer("source", msg.Source),
				zap.Int("completed", len(t.completed)),
				zap.Int("peers", t.peers()))
		}
	}
	return nil
}

// handleQuery answers REQUEST_SWARM and REFRESH_SWARM. Both join the
// requester to every known swarm it asks about; only the initial request
// carries the chunk hashes.
func (t *Tracker) handleQuery(ctx context.Context, msg transport.Message) error {
	var query protocol.SwarmQuery
	if err := protocol.Unmarshal(msg.Payload, &query); err != nil {
		return err
	}
	withChunks := msg.Tag == protocol.TagRequestSwarm

	reply := protocol.SwarmReply{Entries: make([]protocol.SwarmInfo, 0, len(query.Names))}
	for _, name := range query.Names {
		entry, found := t.registry.Join(name, msg.Source)
		if !found {
			t.logger.Warn("Query for unknown file",
				zap.String("file", string(name)),
				zap.Stringer("source", msg.Source))
			t.metrics.ObserveUnknownFile()
			reply.Entries = append(reply.Entries, protocol.SwarmInfo{Name: name, Found: false})
			continue
		}

		info := protocol.SwarmInfo{Name: name, Found: true, Providers: entry.Providers}
		if withChunks {
			info.Chunks = entry.File.Chunks
		}
		reply.Entries = append(reply.Entries, info)
		t.metrics.ObserveSwarmSize(string(name), len(entry.Providers))
	}

	t.logger.Debug("Swarm query answered",
		zap.Stringer("tag", msg.Tag),
		zap.Stringer("source", msg.Source),
		zap.Int("files", len(query.Names)))

	if err := transport.SendMessage(ctx, t.transport, msg.Source, protocol.TagSwarmReply, reply); err != nil {
		return fmt.Errorf("failed to reply to %s: %w", msg.Source, err)
	}
	return nil
}
