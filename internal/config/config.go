// Package config holds the agent's settings. Values start from Default, are
// overridden by an optional YAML file and finally by command line flags or
// their MARQUEED_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

type Timing struct {
	PairingPoll     time.Duration `yaml:"pairing-poll"`
	ConfigPoll      time.Duration `yaml:"config-poll"`
	Heartbeat       time.Duration `yaml:"heartbeat"`
	ConnectTimeout  time.Duration `yaml:"connect-timeout"`
	RequestTimeout  time.Duration `yaml:"request-timeout"`
	NetworkProbe    time.Duration `yaml:"network-probe"`
	DegradedLatency time.Duration `yaml:"degraded-latency"`
	// VideoStallTimeout advances videos that never report an end. Zero disables it.
	VideoStallTimeout     time.Duration `yaml:"video-stall-timeout"`
	UnauthorizedThreshold int           `yaml:"unauthorized-threshold"`
	OfflineThreshold      int           `yaml:"offline-threshold"`
}

type Cache struct {
	// MaxSize is a human readable size such as "2GiB". Empty means unbounded.
	MaxSize            string  `yaml:"max-size"`
	Concurrency        int     `yaml:"concurrency"`
	DownloadsPerSecond float64 `yaml:"downloads-per-second"`
}

type Config struct {
	BackendURL            string   `yaml:"backend-url"`
	StateDir              string   `yaml:"state-dir"`
	CtlSocket             string   `yaml:"ctl-socket"`
	RendererListen        string   `yaml:"renderer-listen"`
	AllowedOrigins        []string `yaml:"allowed-origins"`
	InsecureSkipTLSVerify bool     `yaml:"insecure-skip-tls-verify"`
	Timing                Timing   `yaml:"timing"`
	Cache                 Cache    `yaml:"cache"`
}

func Default() Config {
	return Config{
		StateDir:       "/var/lib/marqueed",
		CtlSocket:      "/var/run/marqueed.sock",
		RendererListen: "127.0.0.1:8090",
		Timing: Timing{
			PairingPoll:           5 * time.Second,
			ConfigPoll:            5 * time.Second,
			Heartbeat:             30 * time.Second,
			ConnectTimeout:        15 * time.Second,
			RequestTimeout:        10 * time.Second,
			NetworkProbe:          5 * time.Second,
			DegradedLatency:       2 * time.Second,
			UnauthorizedThreshold: 2,
			OfflineThreshold:      2,
		},
		Cache: Cache{
			MaxSize:            "2GiB",
			Concurrency:        2,
			DownloadsPerSecond: 4,
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path returns the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the configuration can run an agent.
func (c Config) Validate() error {
	if c.BackendURL == "" {
		return errors.New("a backend url is required")
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid backend url %q, please use the format https://<backend>", c.BackendURL)
	}
	if c.StateDir == "" {
		return errors.New("a state directory is required")
	}
	if _, err := c.CacheMaxBytes(); err != nil {
		return err
	}
	t := c.Timing
	for name, d := range map[string]time.Duration{
		"pairing-poll":    t.PairingPoll,
		"config-poll":     t.ConfigPoll,
		"heartbeat":       t.Heartbeat,
		"connect-timeout": t.ConnectTimeout,
		"network-probe":   t.NetworkProbe,
	} {
		if d <= 0 {
			return fmt.Errorf("timing %s must be positive", name)
		}
	}
	if t.VideoStallTimeout < 0 || t.RequestTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}
	if t.UnauthorizedThreshold < 1 {
		return errors.New("unauthorized-threshold must be at least 1")
	}
	return nil
}

// CacheMaxBytes parses Cache.MaxSize. Zero means unbounded.
func (c Config) CacheMaxBytes() (int64, error) {
	if c.Cache.MaxSize == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.Cache.MaxSize)
	if err != nil {
		return 0, fmt.Errorf("invalid cache max-size %q: %w", c.Cache.MaxSize, err)
	}
	return int64(n), nil
}

func (c Config) StateFile() string {
	return filepath.Join(c.StateDir, "state.json")
}

func (c Config) MediaDir() string {
	return filepath.Join(c.StateDir, "cache")
}
