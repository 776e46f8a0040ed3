package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"swarm/pkg/config"
	"swarm/pkg/metrics"
	"swarm/pkg/peer"
	"swarm/pkg/simulation"
	"swarm/pkg/storage"
	"swarm/pkg/tracker"
	"swarm/pkg/transport"
	"swarm/pkg/types"
	"swarm/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "0.1.0"

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "swarm",
		Short: "BitTorrent-style swarm simulator",
		Long: `A tracker coordinates a swarm of peers that exchange file chunks with each other.
Every peer downloads the files it wants while serving the chunks it holds.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (yaml or json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		trackerCmd(),
		peerCmd(),
		simulateCmd(),
		hashCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file when one is given and falls back to
// the environment otherwise. The mode always matches the command.
func loadConfig(mode config.Mode) (*config.Config, error) {
	var cfg *config.Config
	if configFile != "" {
		var err error
		cfg, err = config.LoadConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		cfg = config.LoadFromEnv()
	}
	cfg.Mode = mode
	return cfg, nil
}

func trackerCmd() *cobra.Command {
	var (
		nodes          []string
		metricsAddress string
		dumpRegistry   bool
	)

	cmd := &cobra.Command{
		Use:   "tracker",
		Short: "Run the swarm tracker (rank 0)",
		Long:  `Start the tracker. It waits for every peer listed in --nodes to register and exits once all of them finished downloading.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig(config.ModeTracker)
			if err != nil {
				return err
			}
			cfg.Rank = int(types.TrackerID)
			if cmd.Flags().Changed("nodes") {
				cfg.Nodes = nodes
			}
			if cmd.Flags().Changed("metrics-address") {
				cfg.MetricsAddress = metricsAddress
			}
			if cmd.Flags().Changed("dump-registry") {
				cfg.Tracker.DumpRegistry = dumpRegistry
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := startMetrics(ctx, cfg.MetricsAddress, logger)

			node, err := transport.NewGRPC(types.TrackerID, cfg.Nodes, logger)
			if err != nil {
				return err
			}
			if err := node.Start(); err != nil {
				return err
			}
			defer node.Close()

			tr := tracker.New(node, logger, m)
			if err := tr.Run(ctx); err != nil {
				return err
			}

			if cfg.Tracker.DumpRegistry {
				for _, entry := range tr.Registry().Snapshot() {
					logger.Info("Swarm",
						zap.String("file", string(entry.File.Name)),
						zap.Int("chunks", len(entry.File.Chunks)),
						zap.Any("providers", entry.Providers))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&nodes, "nodes", nil, "addresses of every node indexed by rank, tracker first")
	cmd.Flags().StringVar(&metricsAddress, "metrics-address", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&dumpRegistry, "dump-registry", false, "log every swarm when the run ends")

	return cmd
}

func peerCmd() *cobra.Command {
	var (
		rank            int
		nodes           []string
		inputPath       string
		outputDir       string
		refreshInterval int
		metricsAddress  string
	)

	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Run one swarm peer",
		Long:  `Start a peer. It registers the files listed in its input, downloads the files it wants and writes them to the output directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig(config.ModePeer)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("rank") {
				// Re-derive an input path that was only defaulted from the old rank
				if cfg.Peer.InputPath == storage.InputName(types.NodeID(cfg.Rank)) {
					cfg.Peer.InputPath = ""
				}
				cfg.Rank = rank
			}
			if cmd.Flags().Changed("nodes") {
				cfg.Nodes = nodes
			}
			if cmd.Flags().Changed("input") {
				cfg.Peer.InputPath = inputPath
			}
			if cmd.Flags().Changed("output-dir") {
				cfg.Peer.OutputDir = outputDir
			}
			if cmd.Flags().Changed("refresh-interval") {
				cfg.Peer.RefreshInterval = refreshInterval
			}
			if cmd.Flags().Changed("metrics-address") {
				cfg.MetricsAddress = metricsAddress
			}
			cfg.ApplyDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}

			input, err := storage.ReadInput(cfg.Peer.InputPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := startMetrics(ctx, cfg.MetricsAddress, logger)

			node, err := transport.NewGRPC(types.NodeID(cfg.Rank), cfg.Nodes, logger)
			if err != nil {
				return err
			}
			if err := node.Start(); err != nil {
				return err
			}
			defer node.Close()

			p := peer.New(node, peer.Config{
				Input:           input,
				Output:          storage.NewDirWriter(cfg.Peer.OutputDir),
				RefreshInterval: cfg.Peer.RefreshInterval,
				Metrics:         m,
			}, logger)
			return p.Run(ctx)
		},
	}

	cmd.Flags().IntVar(&rank, "rank", 0, "rank of this peer (1..N)")
	cmd.Flags().StringSliceVar(&nodes, "nodes", nil, "addresses of every node indexed by rank, tracker first")
	cmd.Flags().StringVar(&inputPath, "input", "", "input file (default in<rank>.txt)")
	cmd.Flags().StringVar(&outputDir, "output-dir", ".", "directory for downloaded files")
	cmd.Flags().IntVar(&refreshInterval, "refresh-interval", config.DefaultRefreshInterval, "chunks acquired between swarm refreshes")
	cmd.Flags().StringVar(&metricsAddress, "metrics-address", "", "serve Prometheus metrics on this address")

	return cmd
}

func simulateCmd() *cobra.Command {
	var (
		inputDir        string
		peers           int
		outputDir       string
		refreshInterval int
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a whole swarm in one process",
		Long:  `Load in1.txt..inN.txt, run the tracker and every peer as goroutines and print a completion summary.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			cfg, err := loadConfig(config.ModeSimulate)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("input-dir") {
				cfg.Simulation.InputDir = inputDir
			}
			if cmd.Flags().Changed("peers") {
				cfg.Simulation.Peers = peers
			}
			if cmd.Flags().Changed("output-dir") {
				cfg.Simulation.OutputDir = outputDir
			}
			if cmd.Flags().Changed("refresh-interval") {
				cfg.Peer.RefreshInterval = refreshInterval
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			scenario, err := simulation.LoadDir(cfg.Simulation.InputDir, cfg.Simulation.Peers)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := simulation.Options{RefreshInterval: cfg.Peer.RefreshInterval}
			if cfg.Simulation.OutputDir != "" {
				opts.Output = storage.NewDirWriter(cfg.Simulation.OutputDir)
			}

			result, err := simulation.Run(ctx, scenario, opts, logger)
			if err != nil {
				return err
			}

			fmt.Println(renderSummary(scenario, result))
			return nil
		},
	}

	cmd.Flags().StringVar(&inputDir, "input-dir", ".", "directory holding in1.txt..inN.txt")
	cmd.Flags().IntVar(&peers, "peers", 0, "number of peers (default: every consecutive input found)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "also write client<rank>_<file> outputs here")
	cmd.Flags().IntVar(&refreshInterval, "refresh-interval", config.DefaultRefreshInterval, "chunks acquired between swarm refreshes")

	return cmd
}

func hashCmd() *cobra.Command {
	var (
		chunkSize string
		wanted    []string
		output    string
	)

	cmd := &cobra.Command{
		Use:   "hash <file>...",
		Short: "Describe real files as swarm input",
		Long:  `Split files into chunks and print an input artifact that owns them, ready to seed a swarm.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size := 0
			if chunkSize != "" {
				var err error
				size, err = utils.ParseChunkSize(chunkSize)
				if err != nil {
					return err
				}
			}

			var input types.NodeInput
			for _, path := range args {
				file, err := storage.HashFile(path, "", size)
				if err != nil {
					return err
				}
				input.Owned = append(input.Owned, file)
			}
			for _, name := range wanted {
				input.Wanted = append(input.Wanted, types.FileName(name))
			}

			if output == "" {
				return storage.WriteInput(os.Stdout, input)
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			defer f.Close()
			return storage.WriteInput(f, input)
		},
	}

	cmd.Flags().StringVar(&chunkSize, "chunk-size", "", "chunk size such as 64KiB or 1MB (default: picked from file size)")
	cmd.Flags().StringSliceVar(&wanted, "want", nil, "file names the peer should download")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the input artifact to this path instead of stdout")

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Swarm simulator v%s\n", version)
		},
	}
}

// startMetrics registers the swarm metrics and serves them when address
// is set. Metrics are collected either way.
func startMetrics(ctx context.Context, address string, logger *zap.Logger) *metrics.SwarmMetrics {
	registry := prometheus.NewRegistry()
	m := metrics.NewSwarmMetrics(registry)
	if address == "" {
		return m
	}

	go func() {
		if err := metrics.Serve(ctx, address, registry, logger); err != nil {
			logger.Error("Metrics endpoint failed", zap.Error(err))
		}
	}()
	return m
}

func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, _ := config.Build()
	return logger
}
