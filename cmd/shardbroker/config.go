package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BrokerConfig is the shape of the broker's YAML config file (SPEC_FULL
// "Configuration"): shard endpoints, default per-step timeouts, and the
// edge cache's substrate and TTL defaults. No command-line flag
// overrides these fields; `serve` itself only takes --addr and --config.
type BrokerConfig struct {
	Shards   map[string]string `yaml:"shards"`
	Executor ExecutorConfig    `yaml:"executor"`
	Cache    CacheConfig       `yaml:"cache"`
}

// ExecutorConfig holds the step executor's retry/timeout defaults
// (spec §4.4). serve copies them into BrokerGraph.DefaultStepOptions;
// the orchestrator does not read that field and builds its own
// per-call executor options.
type ExecutorConfig struct {
	MaxRetries    int `yaml:"max_retries"`
	TimeoutMs     int `yaml:"timeout_ms"`
	BaseBackoffMs int `yaml:"base_backoff_ms"`
	MaxBackoffMs  int `yaml:"max_backoff_ms"`
}

// CacheConfig holds the edge cache's substrate choice and TTL defaults
// (spec §4.12).
type CacheConfig struct {
	Substrate         string `yaml:"substrate"`
	DataDir           string `yaml:"data_dir"`
	Domain            string `yaml:"domain"`
	Prefix            string `yaml:"prefix"`
	MaxTTLSeconds     int    `yaml:"max_ttl_seconds"`
	DefaultTTLSeconds int    `yaml:"default_ttl_seconds"`
}

func defaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		Cache: CacheConfig{
			Substrate: "mem",
			DataDir:   "./data",
			Domain:    "shardbroker",
			Prefix:    "edge",
		},
	}
}

// loadConfig reads a YAML broker config file. A missing path is not an
// error: the caller gets defaultBrokerConfig() back, since --config is
// optional and every field has a workable default.
func loadConfig(path string) (BrokerConfig, error) {
	cfg := defaultBrokerConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
