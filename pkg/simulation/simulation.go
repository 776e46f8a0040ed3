// Package simulation runs a whole swarm inside one process: a tracker and
// one peer per input, connected by an in-memory mesh or by caller-provided
// transports.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"swarm/pkg/metrics"
	"swarm/pkg/peer"
	"swarm/pkg/storage"
	"swarm/pkg/tracker"
	"swarm/pkg/transport"
	"swarm/pkg/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Scenario holds the input of every peer; Inputs[i] belongs to rank i+1.
type Scenario struct {
	Inputs []types.NodeInput
}

// Peers returns the number of peers in the scenario
func (s Scenario) Peers() int {
	return len(s.Inputs)
}

type Options struct {
	RefreshInterval int
	// Output receives every finished file in addition to the result
	Output  storage.OutputWriter
	Metrics *metrics.SwarmMetrics
}

// Result describes a finished run
type Result struct {
	RunID    string
	Elapsed  time.Duration
	Registry []types.SwarmEntry
	outputs  *storage.MemoryWriter
	peers    int
}

// Peers returns the number of peers that took part
func (r *Result) Peers() int {
	return r.peers
}

// Files returns the downloads of rank, sorted by name
func (r *Result) Files(rank types.NodeID) []types.File {
	return r.outputs.Files(rank)
}

// File returns one download of rank
func (r *Result) File(rank types.NodeID, name types.FileName) (types.File, bool) {
	return r.outputs.Get(rank, name)
}

// Expected returns the chunk sequence the tracker holds for name, or nil
// for a file nobody registered.
func (r *Result) Expected(name types.FileName) []types.ChunkHash {
	for _, entry := range r.Registry {
		if entry.File.Name == name {
			return entry.File.Chunks
		}
	}
	return nil
}

// Run simulates the scenario over an in-process mesh
func Run(ctx context.Context, scenario Scenario, opts Options, logger *zap.Logger) (*Result, error) {
	mesh := transport.NewMesh(scenario.Peers() + 1)
	defer mesh.Close()
	return RunWith(ctx, mesh.Endpoints(), scenario, opts, logger)
}

// RunWith simulates the scenario over transports indexed by rank. The
// caller keeps ownership of the transports.
func RunWith(ctx context.Context, transports []transport.Transport, scenario Scenario, opts Options, logger *zap.Logger) (*Result, error) {
	if len(transports) != scenario.Peers()+1 {
		return nil, fmt.Errorf("scenario has %d peers but %d transports were given", scenario.Peers(), len(transports))
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	runID := uuid.New().String()
	logger = logger.With(zap.String("run_id", runID))
	logger.Info("Starting simulation", zap.Int("peers", scenario.Peers()))

	outputs := storage.NewMemoryWriter()
	var sink storage.OutputWriter = outputs
	if opts.Output != nil {
		sink = teeWriter{outputs, opts.Output}
	}

	start := time.Now()
	tr := tracker.New(transports[types.TrackerID], logger, opts.Metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := tr.Run(gctx); err != nil {
			return fmt.Errorf("tracker failed: %w", err)
		}
		return nil
	})
	for i, input := range scenario.Inputs {
		rank := types.NodeID(i + 1)
		p := peer.New(transports[rank], peer.Config{
			Input:           input,
			Output:          sink,
			RefreshInterval: opts.RefreshInterval,
			Metrics:         opts.Metrics,
		}, logger)
		g.Go(func() error {
			if err := p.Run(gctx); err != nil {
				return fmt.Errorf("%s failed: %w", rank, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &Result{
		RunID:    runID,
		Elapsed:  time.Since(start),
		Registry: tr.Registry().Snapshot(),
		outputs:  outputs,
		peers:    scenario.Peers(),
	}
	logger.Info("Simulation complete", zap.Duration("elapsed", result.Elapsed))
	return result, nil
}

// LoadDir reads in1.txt..inN.txt from dir. With peers at zero, N is the
// longest run of consecutive input files starting at in1.txt.
func LoadDir(dir string, peers int) (Scenario, error) {
	var scenario Scenario
	for rank := 1; peers == 0 || rank <= peers; rank++ {
		path := filepath.Join(dir, storage.InputName(types.NodeID(rank)))
		if peers == 0 {
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				break
			}
		}
		input, err := storage.ReadInput(path)
		if err != nil {
			return Scenario{}, err
		}
		scenario.Inputs = append(scenario.Inputs, input)
	}

	if scenario.Peers() == 0 {
		return Scenario{}, fmt.Errorf("no peer inputs found in %s", dir)
	}
	return scenario, nil
}

type teeWriter []storage.OutputWriter

func (t teeWriter) WriteFile(rank types.NodeID, file types.File) error {
	for _, w := range t {
		if err := w.WriteFile(rank, file); err != nil {
			return err
		}
	}
	return nil
}
