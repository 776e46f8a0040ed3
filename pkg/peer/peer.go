// Package peer implements a swarm worker node: it registers with the
// tracker, then downloads its wanted files while serving chunk requests
// from the rest of the swarm.
package peer

import (
	"context"
	"errors"
	"fmt"

	"swarm/pkg/config"
	"swarm/pkg/metrics"
	"swarm/pkg/protocol"
	"swarm/pkg/storage"
	"swarm/pkg/transport"
	"swarm/pkg/types"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultRefreshInterval is the number of acquired chunks between two
// swarm refresh rounds.
const DefaultRefreshInterval = config.DefaultRefreshInterval

// ErrRegistrationRejected is returned when the tracker does not
// acknowledge the registration.
var ErrRegistrationRejected = errors.New("registration rejected")

type Config struct {
	Input           types.NodeInput
	Output          storage.OutputWriter
	RefreshInterval int
	Metrics         *metrics.SwarmMetrics
}

// Peer drives one worker node for a whole session
type Peer struct {
	transport  transport.Transport
	config     Config
	possession *Possession
	logger     *zap.Logger
}

func New(t transport.Transport, cfg Config, logger *zap.Logger) *Peer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Output == nil {
		cfg.Output = storage.NewMemoryWriter()
	}
	return &Peer{
		transport:  t,
		config:     cfg,
		possession: NewPossession(),
		logger:     logger.With(zap.Stringer("node", t.Rank())),
	}
}

// Possession exposes the node's owned-files state
func (p *Peer) Possession() *Possession {
	return p.possession
}

// Run registers with the tracker, then runs the downloader and uploader
// until the tracker broadcasts TERMINATE.
func (p *Peer) Run(ctx context.Context) error {
	p.possession.Seed(p.config.Input.Owned)

	if err := p.register(ctx); err != nil {
		return err
	}

	downloader := NewDownloader(p.transport, p.possession, p.config.Input.Wanted, p.config.Output,
		p.config.RefreshInterval, p.logger.Named("downloader"), p.config.Metrics)
	uploader := NewUploader(p.transport, p.possession, p.logger.Named("uploader"), p.config.Metrics)

	g, gctx := errgroup.WithContext(ctx)
	uploadCtx, stopUpload := context.WithCancel(gctx)
	defer stopUpload()

	g.Go(func() error {
		return downloader.Run(gctx)
	})
	g.Go(func() error {
		return uploader.Run(uploadCtx)
	})
	g.Go(func() error {
		defer stopUpload()
		if _, err := p.transport.Recv(gctx, types.TrackerID, protocol.TagTerminate); err != nil {
			return fmt.Errorf("failed waiting for termination: %w", err)
		}
		p.logger.Info("Termination received")
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	// The uploader swallows cancellation, so report an aborted parent here
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (p *Peer) register(ctx context.Context) error {
	req := protocol.RegisterRequest{Files: p.config.Input.Owned}
	if err := transport.SendMessage(ctx, p.transport, types.TrackerID, protocol.TagRegister, req); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}

	var ack protocol.RegisterAck
	if _, err := transport.RecvMessage(ctx, p.transport, types.TrackerID, &ack, protocol.TagRegisterAck); err != nil {
		return fmt.Errorf("failed to receive registration ack: %w", err)
	}
	if ack.Status != protocol.StatusACK {
		return fmt.Errorf("%w: tracker answered %q", ErrRegistrationRejected, ack.Status)
	}

	p.logger.Info("Registered with tracker",
		zap.Int("owned", len(p.config.Input.Owned)),
		zap.Int("wanted", len(p.config.Input.Wanted)))
	return nil
}
