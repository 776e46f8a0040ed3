package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeTracker  Mode = "tracker"
	ModePeer     Mode = "peer"
	ModeSimulate Mode = "simulate"
)

// DefaultRefreshInterval is the number of acquired chunks between two
// swarm refresh rounds.
const DefaultRefreshInterval = 10

type Config struct {
	Mode           Mode             `json:"mode" yaml:"mode"`
	Rank           int              `json:"rank" yaml:"rank"`
	Nodes          []string         `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	Tracker        TrackerConfig    `json:"tracker,omitempty" yaml:"tracker,omitempty"`
	Peer           PeerConfig       `json:"peer,omitempty" yaml:"peer,omitempty"`
	Simulation     SimulationConfig `json:"simulation,omitempty" yaml:"simulation,omitempty"`
	MetricsAddress string           `json:"metrics_address,omitempty" yaml:"metrics_address,omitempty"`
}

type TrackerConfig struct {
	// DumpRegistry logs every swarm entry once the run terminates.
	DumpRegistry bool `json:"dump_registry" yaml:"dump_registry"`
}

type PeerConfig struct {
	InputPath       string `json:"input_path" yaml:"input_path"`
	OutputDir       string `json:"output_dir" yaml:"output_dir"`
	RefreshInterval int    `json:"refresh_interval" yaml:"refresh_interval"`
}

type SimulationConfig struct {
	InputDir  string `json:"input_dir" yaml:"input_dir"`
	Peers     int    `json:"peers" yaml:"peers"`
	OutputDir string `json:"output_dir" yaml:"output_dir"`
}

// LoadConfig reads a YAML or JSON file, picked by extension. Unknown
// extensions are tried as YAML, which also accepts JSON.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

func LoadFromEnv() *Config {
	cfg := &Config{
		Mode:           Mode(getEnv("SWARM_MODE", string(ModeSimulate))),
		Rank:           getEnvInt("SWARM_RANK", 0),
		MetricsAddress: getEnv("SWARM_METRICS_ADDRESS", ""),
	}

	if nodes := os.Getenv("SWARM_NODES"); nodes != "" {
		// Comma-separated addresses indexed by rank: tracker:7000,peer1:7001
		for _, addr := range strings.Split(nodes, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				cfg.Nodes = append(cfg.Nodes, addr)
			}
		}
	}

	switch cfg.Mode {
	case ModePeer:
		cfg.Peer = PeerConfig{
			InputPath:       getEnv("SWARM_INPUT", ""),
			OutputDir:       getEnv("SWARM_OUTPUT_DIR", "."),
			RefreshInterval: getEnvInt("SWARM_REFRESH_INTERVAL", DefaultRefreshInterval),
		}
	case ModeTracker:
		cfg.Tracker = TrackerConfig{
			DumpRegistry: getEnv("SWARM_DUMP_REGISTRY", "") == "true",
		}
	case ModeSimulate:
		cfg.Simulation = SimulationConfig{
			InputDir:  getEnv("SWARM_INPUT_DIR", "."),
			Peers:     getEnvInt("SWARM_PEERS", 0),
			OutputDir: getEnv("SWARM_OUTPUT_DIR", ""),
		}
		cfg.Peer.RefreshInterval = getEnvInt("SWARM_REFRESH_INTERVAL", DefaultRefreshInterval)
	}

	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field that has a sensible default
func (c *Config) ApplyDefaults() {
	if c.Peer.RefreshInterval == 0 {
		c.Peer.RefreshInterval = DefaultRefreshInterval
	}
	if c.Peer.OutputDir == "" {
		c.Peer.OutputDir = "."
	}
	if c.Peer.InputPath == "" && c.Rank > 0 {
		c.Peer.InputPath = fmt.Sprintf("in%d.txt", c.Rank)
	}
	if c.Simulation.InputDir == "" {
		c.Simulation.InputDir = "."
	}
}

// Validate checks that the configuration can start the selected mode
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeTracker, ModePeer:
		if len(c.Nodes) < 2 {
			return fmt.Errorf("%s mode needs the addresses of the tracker and at least one peer", c.Mode)
		}
		if c.Rank < 0 || c.Rank >= len(c.Nodes) {
			return fmt.Errorf("rank %d out of range for %d nodes", c.Rank, len(c.Nodes))
		}
		if c.Mode == ModeTracker && c.Rank != 0 {
			return fmt.Errorf("the tracker must run with rank 0, got %d", c.Rank)
		}
		if c.Mode == ModePeer && c.Rank == 0 {
			return fmt.Errorf("rank 0 is reserved for the tracker")
		}
		for i, addr := range c.Nodes {
			if addr == "" {
				return fmt.Errorf("missing address for rank %d", i)
			}
			if _, port, err := net.SplitHostPort(addr); err != nil || port == "" {
				return fmt.Errorf("invalid address %q for rank %d: expected host:port", addr, i)
			}
		}
	case ModeSimulate:
		if c.Simulation.Peers < 0 {
			return fmt.Errorf("peer count must not be negative, got %d", c.Simulation.Peers)
		}
	default:
		return fmt.Errorf("unknown mode %q (expected tracker, peer or simulate)", c.Mode)
	}

	if c.Peer.RefreshInterval < 1 {
		return fmt.Errorf("refresh interval must be positive, got %d", c.Peer.RefreshInterval)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}
