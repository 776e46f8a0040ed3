package peer

import (
	"context"
	"fmt"
	"time"

	"swarm/pkg/metrics"
	"swarm/pkg/protocol"
	"swarm/pkg/storage"
	"swarm/pkg/transport"
	"swarm/pkg/types"

	"go.uber.org/zap"
)

// target is the downloader's cached view of one wanted file
type target struct {
	found     bool
	chunks    []types.ChunkHash
	providers []types.NodeID
	// next is the round-robin position in providers
	next int
}

// Downloader acquires every wanted file chunk by chunk from the providers
// the tracker reports, then persists it through the output writer.
type Downloader struct {
	transport       transport.Transport
	possession      *Possession
	output          storage.OutputWriter
	wanted          []types.FileName
	refreshInterval int
	logger          *zap.Logger
	metrics         *metrics.SwarmMetrics
	node            string

	targets map[types.FileName]*target
}

func NewDownloader(t transport.Transport, possession *Possession, wanted []types.FileName, output storage.OutputWriter,
	refreshInterval int, logger *zap.Logger, m *metrics.SwarmMetrics) *Downloader {
	if refreshInterval < 1 {
		refreshInterval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		transport:       t,
		possession:      possession,
		output:          output,
		wanted:          append([]types.FileName(nil), wanted...),
		refreshInterval: refreshInterval,
		logger:          logger,
		metrics:         m,
		node:            t.Rank().String(),
		targets:         make(map[types.FileName]*target),
	}
}

// Run downloads every wanted file in order and reports ALL_DONE to the
// tracker. It does not wait for TERMINATE.
func (d *Downloader) Run(ctx context.Context) error {
	if err := d.requestSwarm(ctx); err != nil {
		return err
	}

	// Acquisitions since the last refresh round, across the whole batch
	refreshCounter := 0

	for _, name := range d.wanted {
		d.possession.Start(name)
		tgt := d.targets[name]

		d.logger.Info("Downloading file",
			zap.String("file", string(name)),
			zap.Bool("known", tgt.found),
			zap.Int("chunks", len(tgt.chunks)),
			zap.Int("providers", len(tgt.providers)))

		for _, hash := range tgt.chunks {
			if refreshCounter >= d.refreshInterval {
				if err := d.refreshSwarm(ctx); err != nil {
					return err
				}
				refreshCounter = 0
			}

			if d.possession.Has(name, hash) {
				continue
			}

			acquired, err := d.acquire(ctx, name, tgt, hash)
			if err != nil {
				return err
			}
			if acquired {
				refreshCounter++
			}
		}

		if err := d.finishFile(ctx, name); err != nil {
			return err
		}
	}

	if err := d.transport.Send(ctx, types.TrackerID, protocol.TagAllDone, nil); err != nil {
		return fmt.Errorf("failed to report completion: %w", err)
	}
	d.logger.Info("All downloads complete", zap.Int("files", len(d.wanted)))
	return nil
}

// acquire asks providers for hash until one acknowledges it. It returns
// false when no provider other than this node exists.
func (d *Downloader) acquire(ctx context.Context, name types.FileName, tgt *target, hash types.ChunkHash) (bool, error) {
	nacks := 0
	for {
		others := d.otherProviders(tgt)
		if others == 0 {
			d.logger.Warn("No provider for chunk, skipping",
				zap.String("file", string(name)),
				zap.String("chunk", string(hash)))
			d.metrics.ObserveChunkSkipped(d.node)
			return false, nil
		}

		tgt.next %= len(tgt.providers)
		provider := tgt.providers[tgt.next]
		if provider == d.transport.Rank() {
			tgt.next = (tgt.next + 1) % len(tgt.providers)
			continue
		}

		ok, err := d.requestChunk(ctx, provider, hash)
		if err != nil {
			return false, err
		}
		if ok {
			d.possession.Append(name, hash)
			d.metrics.ObserveChunkAcquired(d.node)
			return true, nil
		}

		d.logger.Debug("Chunk rejected, trying next provider",
			zap.String("chunk", string(hash)),
			zap.Stringer("provider", provider))
		tgt.next = (tgt.next + 1) % len(tgt.providers)

		// Every other provider refused once: look for new ones before
		// the next cycle.
		nacks++
		if nacks >= others {
			nacks = 0
			if err := d.refreshSwarm(ctx); err != nil {
				return false, err
			}
		}
	}
}

func (d *Downloader) otherProviders(tgt *target) int {
	n := 0
	for _, p := range tgt.providers {
		if p != d.transport.Rank() {
			n++
		}
	}
	return n
}

func (d *Downloader) requestChunk(ctx context.Context, provider types.NodeID, hash types.ChunkHash) (bool, error) {
	start := time.Now()
	if err := transport.SendMessage(ctx, d.transport, provider, protocol.TagChunkRequest, protocol.ChunkRequest{Hash: hash}); err != nil {
		return false, err
	}

	var resp protocol.ChunkResponse
	if _, err := transport.RecvMessage(ctx, d.transport, provider, &resp, protocol.TagChunkResponse); err != nil {
		return false, fmt.Errorf("failed to receive chunk response from %s: %w", provider, err)
	}

	d.metrics.ObserveChunkRequest(d.node, resp.Status, time.Since(start))
	return resp.OK(), nil
}

// requestSwarm fetches providers and chunk hashes for all wanted files in
// one round trip.
func (d *Downloader) requestSwarm(ctx context.Context) error {
	reply, err := d.query(ctx, protocol.TagRequestSwarm)
	if err != nil {
		return err
	}

	for _, name := range d.wanted {
		if _, ok := d.targets[name]; !ok {
			d.targets[name] = &target{}
		}
	}
	for _, info := range reply.Entries {
		tgt, ok := d.targets[info.Name]
		if !ok {
			continue
		}
		if !info.Found {
			d.logger.Warn("Tracker does not know wanted file", zap.String("file", string(info.Name)))
			continue
		}
		tgt.found = true
		tgt.chunks = info.Chunks
		tgt.providers = info.Providers
	}
	return nil
}

// refreshSwarm updates the cached provider lists. Chunk lists stay as
// fetched by requestSwarm.
func (d *Downloader) refreshSwarm(ctx context.Context) error {
	reply, err := d.query(ctx, protocol.TagRefreshSwarm)
	if err != nil {
		return err
	}
	d.metrics.ObserveRefresh(d.node)

	for _, info := range reply.Entries {
		if tgt, ok := d.targets[info.Name]; ok && info.Found {
			tgt.providers = info.Providers
		}
	}
	d.logger.Debug("Swarm refreshed", zap.Int("files", len(reply.Entries)))
	return nil
}

func (d *Downloader) query(ctx context.Context, tag protocol.Tag) (protocol.SwarmReply, error) {
	var reply protocol.SwarmReply
	query := protocol.SwarmQuery{Names: d.wanted}
	if err := transport.SendMessage(ctx, d.transport, types.TrackerID, tag, query); err != nil {
		return reply, err
	}
	if _, err := transport.RecvMessage(ctx, d.transport, types.TrackerID, &reply, protocol.TagSwarmReply); err != nil {
		return reply, fmt.Errorf("failed to receive swarm reply: %w", err)
	}
	return reply, nil
}

func (d *Downloader) finishFile(ctx context.Context, name types.FileName) error {
	if err := transport.SendMessage(ctx, d.transport, types.TrackerID, protocol.TagFileDone, protocol.FileDone{Name: name}); err != nil {
		return err
	}

	file := types.File{Name: name, Chunks: d.possession.Chunks(name)}
	if err := d.output.WriteFile(d.transport.Rank(), file); err != nil {
		return fmt.Errorf("failed to persist %s: %w", name, err)
	}
	d.metrics.ObserveFileCompleted(d.node)

	d.logger.Info("File complete",
		zap.String("file", string(name)),
		zap.Int("chunks", len(file.Chunks)),
		zap.Int("expected", len(d.targets[name].chunks)))
	return nil
}
