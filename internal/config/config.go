package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dynamo/internal/protocol"
	"dynamo/internal/ring"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config holds the node configuration.
type Config struct {
	Name    string   `yaml:"name"`
	Address string   `yaml:"address"` // gossip endpoint and node identity
	IOPort  int      `yaml:"io_port"`
	AckPort int      `yaml:"ack_port"`
	Gateway bool     `yaml:"gateway"`
	Seeds   []string `yaml:"seeds"`

	GossipInterval time.Duration `yaml:"gossip_interval"`
	TTL            time.Duration `yaml:"ttl"`
	VNodes         int           `yaml:"vnodes"`
	Hash           string        `yaml:"hash"`

	N              int           `yaml:"n"`
	R              int           `yaml:"r"`
	W              int           `yaml:"w"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ForwardTimeout time.Duration `yaml:"forward_timeout"`

	Store       string `yaml:"store"`
	DataDir     string `yaml:"data_dir"`
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	Rehash      bool   `yaml:"rehash"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		IOPort:         protocol.DefaultIOPort,
		AckPort:        protocol.DefaultAckPort,
		GossipInterval: time.Second,
		TTL:            5 * time.Second,
		VNodes:         5,
		Hash:           "xxhash",
		N:              3,
		R:              2,
		W:              2,
		RequestTimeout: 10 * time.Second,
		ForwardTimeout: 20 * time.Second,
		Store:          "fs",
		DataDir:        "data",
		Rehash:         true,
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseSeeds parses a comma-separated list of seed addresses in the format:
// "host1:port1,host2:port2"
func ParseSeeds(seedsStr string) ([]string, error) {
	if strings.TrimSpace(seedsStr) == "" {
		return []string{}, nil
	}

	parts := strings.Split(seedsStr, ",")
	seeds := make([]string, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if err := checkHostPort(part); err != nil {
			return nil, fmt.Errorf("invalid seed %q: %w", part, err)
		}
		seeds = append(seeds, part)
	}

	return seeds, nil
}

func checkHostPort(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "" {
		return errors.New("missing host")
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("bad port %q", port)
	}
	return nil
}

// Validate reports the first setting that cannot be run with.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.Name == "" {
		return invalid("name is required")
	}
	if err := checkHostPort(c.Address); err != nil {
		return invalid("address %q: %v", c.Address, err)
	}
	for _, p := range []int{c.IOPort, c.AckPort} {
		if p < 0 || p > 65535 {
			return invalid("port %d out of range", p)
		}
	}
	if c.VNodes < 0 {
		return invalid("vnodes must not be negative, got %d", c.VNodes)
	}
	if _, err := ring.HashByName(c.Hash); err != nil {
		return invalid("%v", err)
	}
	if c.N < 1 {
		return invalid("n must be positive, got %d", c.N)
	}
	if c.R < 1 || c.R > c.N {
		return invalid("r must be within [1, n=%d], got %d", c.N, c.R)
	}
	if c.W < 1 || c.W > c.N {
		return invalid("w must be within [1, n=%d], got %d", c.N, c.W)
	}
	for name, d := range map[string]time.Duration{
		"gossip_interval": c.GossipInterval,
		"ttl":             c.TTL,
		"request_timeout": c.RequestTimeout,
		"forward_timeout": c.ForwardTimeout,
	} {
		if d <= 0 {
			return invalid("%s must be positive, got %s", name, d)
		}
	}
	switch c.Store {
	case "", "fs", "badger", "memory":
	default:
		return invalid("unknown store %q", c.Store)
	}
	return nil
}

// Self returns the snapshot the node advertises to its peers.
func (c *Config) Self() protocol.NodeInfo {
	return protocol.NodeInfo{
		Name:    c.Name,
		Address: c.Address,
		Gateway: c.Gateway,
		IOPort:  c.IOPort,
		AckPort: c.AckPort,
	}
}
