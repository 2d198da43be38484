// Package config loads node and tracker settings from a TOML file.
package config

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultTrackerHost   = "127.0.0.1"
	DefaultTrackerPort   = 55555
	DefaultHopsMax       = 2
	DefaultNodeHost      = "127.0.0.1"
	DefaultUsername      = "peer"
	DefaultCallTimeoutMS = 5000
	DefaultRejoinMS      = 2000
	DefaultBenchmarkMS   = 1000
	DefaultMaxNeighbors  = 2
)

type Config struct {
	Tracker   TrackerConfig   `toml:"tracker"`
	Node      NodeConfig      `toml:"node"`
	Search    SearchConfig    `toml:"search"`
	Listener  ListenerConfig  `toml:"listener"`
	Benchmark BenchmarkConfig `toml:"benchmark"`
	Catalog   CatalogConfig   `toml:"catalog"`
	Registry  RegistryConfig  `toml:"registry"`
	Log       LogConfig       `toml:"log"`
	Admin     AdminConfig     `toml:"admin"`
}

// TrackerConfig is where the rendezvous service listens.
type TrackerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type NodeConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
}

type SearchConfig struct {
	HopsMax int `toml:"hops_max"`
}

type ListenerConfig struct {
	TimeoutMS int `toml:"timeout_ms"`
	RejoinMS  int `toml:"rejoin_ms"`
}

type BenchmarkConfig struct {
	DelayMS   int    `toml:"delay_ms"`
	QueryFile string `toml:"query_file"`
}

type CatalogConfig struct {
	File   string `toml:"file"`
	Sample bool   `toml:"sample"`
	Watch  bool   `toml:"watch"`
}

// RegistryConfig only applies to the rendezvous server.
type RegistryConfig struct {
	Database     string `toml:"database"`
	MaxNeighbors int    `toml:"max_neighbors"`
	Capacity     int    `toml:"capacity"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

type AdminConfig struct {
	Addr string `toml:"addr"`
}

func Default() *Config {
	return &Config{
		Tracker: TrackerConfig{Host: DefaultTrackerHost, Port: DefaultTrackerPort},
		Node: NodeConfig{
			Host:     DefaultNodeHost,
			Port:     8000 + rand.Intn(100),
			Username: DefaultUsername,
		},
		Search:    SearchConfig{HopsMax: DefaultHopsMax},
		Listener:  ListenerConfig{TimeoutMS: DefaultCallTimeoutMS, RejoinMS: DefaultRejoinMS},
		Benchmark: BenchmarkConfig{DelayMS: DefaultBenchmarkMS},
		Catalog:   CatalogConfig{Sample: true},
		Registry:  RegistryConfig{Database: ":memory:", MaxNeighbors: DefaultMaxNeighbors},
		Log:       LogConfig{Level: "info", MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown keys: %v", path, undecoded)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Tracker.Host == "" {
		return errors.New("tracker.host is required")
	}
	if err := validPort("tracker.port", c.Tracker.Port, false); err != nil {
		return err
	}
	if c.Node.Host == "" {
		return errors.New("node.host is required")
	}
	if err := validPort("node.port", c.Node.Port, true); err != nil {
		return err
	}
	if c.Node.Username == "" || containsSpace(c.Node.Username) {
		return fmt.Errorf("node.username %q must be a single non-empty word", c.Node.Username)
	}
	if c.Search.HopsMax < 0 {
		return fmt.Errorf("search.hops_max must not be negative, got %d", c.Search.HopsMax)
	}
	if c.Listener.TimeoutMS <= 0 {
		return fmt.Errorf("listener.timeout_ms must be positive, got %d", c.Listener.TimeoutMS)
	}
	if c.Listener.RejoinMS < 0 || c.Benchmark.DelayMS < 0 {
		return errors.New("listener.rejoin_ms and benchmark.delay_ms must not be negative")
	}
	if c.Registry.MaxNeighbors < 0 || c.Registry.MaxNeighbors >= 5 {
		return fmt.Errorf("registry.max_neighbors must be in [0, 4], got %d", c.Registry.MaxNeighbors)
	}
	return nil
}

func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Listener.TimeoutMS) * time.Millisecond
}

func (c *Config) RejoinBackoff() time.Duration {
	return time.Duration(c.Listener.RejoinMS) * time.Millisecond
}

func (c *Config) BenchmarkDelay() time.Duration {
	return time.Duration(c.Benchmark.DelayMS) * time.Millisecond
}

func (c *Config) TrackerAddr() string {
	return net.JoinHostPort(c.Tracker.Host, strconv.Itoa(c.Tracker.Port))
}

func validPort(name string, port int, allowZero bool) error {
	if port == 0 && allowZero {
		return nil
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s %d out of range", name, port)
	}
	return nil
}

func containsSpace(s string) bool {
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '"' {
			return true
		}
	}
	return false
}
