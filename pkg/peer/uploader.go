package peer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swarm/pkg/metrics"
	"swarm/pkg/protocol"
	"swarm/pkg/transport"

	"go.uber.org/zap"
)

// replyTimeout bounds a reply sent after the uploader was told to stop
const replyTimeout = 30 * time.Second

// Uploader answers chunk requests from any peer for as long as its
// context lives. It only reads the possession state.
type Uploader struct {
	transport  transport.Transport
	possession *Possession
	logger     *zap.Logger
	metrics    *metrics.SwarmMetrics
	node       string
}

func NewUploader(t transport.Transport, possession *Possession, logger *zap.Logger, m *metrics.SwarmMetrics) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{
		transport:  t,
		possession: possession,
		logger:     logger,
		metrics:    m,
		node:       t.Rank().String(),
	}
}

// Run serves requests one at a time in arrival order. Cancelling ctx is
// the normal way to stop it and makes Run return nil.
func (u *Uploader) Run(ctx context.Context) error {
	served := 0
	for {
		var req protocol.ChunkRequest
		msg, err := transport.RecvMessage(ctx, u.transport, transport.AnySource, &req, protocol.TagChunkRequest)
		if err != nil {
			if ctx.Err() != nil {
				u.logger.Debug("Uploader stopped", zap.Int("served", served))
				return nil
			}
			if errors.Is(err, protocol.ErrDecode) {
				// Still answer, the requester is blocked on us
				req = protocol.ChunkRequest{}
			} else {
				return fmt.Errorf("failed to receive chunk request: %w", err)
			}
		}

		status := protocol.StatusNACK
		if req.Hash != "" && u.possession.Contains(req.Hash) {
			status = protocol.StatusACK
		}

		// A received request is answered even if ctx is cancelled meanwhile
		replyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), replyTimeout)
		err = transport.SendMessage(replyCtx, u.transport, msg.Source, protocol.TagChunkResponse, protocol.ChunkResponse{Status: status})
		cancel()
		if err != nil {
			return fmt.Errorf("failed to answer %s: %w", msg.Source, err)
		}

		served++
		u.metrics.ObserveUpload(u.node, status)
		u.logger.Debug("Chunk request answered",
			zap.String("chunk", string(req.Hash)),
			zap.Stringer("requester", msg.Source),
			zap.String("status", status))
	}
}
