package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/shardbroker/pkg/api"
	"github.com/cuemby/shardbroker/pkg/breaker"
	"github.com/cuemby/shardbroker/pkg/cache"
	"github.com/cuemby/shardbroker/pkg/cache/substrate"
	"github.com/cuemby/shardbroker/pkg/executor"
	"github.com/cuemby/shardbroker/pkg/log"
	"github.com/cuemby/shardbroker/pkg/orchestrator"
	"github.com/cuemby/shardbroker/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the broker: wires the executor, orchestrator, and edge cache, and hosts /health, /ready, /metrics",
	Long: `serve reads a YAML broker config (--config) describing shard
origins and the edge cache's substrate/TTL defaults, and builds the
full dependency graph around a process-wide circuit breaker store: a
pkg/executor.Executor, a pkg/orchestrator.Orchestrator over it, and a
pkg/cache.Cache over the configured substrate.

That graph is what an embedding Go program calls orchestrate_query
against (spec §6's client interface is a Go API, not a wire protocol,
so no request transport is started here); this command hosts the
shared operational plane — /health, /ready, /metrics, and POST
/admin/reset-breakers — that every instance of that graph reports
into.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:9090", "Address for the health/metrics/admin HTTP server")
	serveCmd.Flags().String("config", "", "Path to a YAML broker config file (shard origins, executor and cache defaults)")
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	breakerStore := breaker.NewStore()
	exec := executor.New(breakerStore)

	origins := make(map[types.ShardID]string, len(cfg.Shards))
	for id, origin := range cfg.Shards {
		origins[types.ShardID(id)] = origin
	}
	resolver := func(shardID types.ShardID) (string, bool) {
		origin, ok := origins[shardID]
		return origin, ok
	}
	orch := orchestrator.New(exec, breakerStore, resolver)

	sub, closeSub, err := newCacheSubstrate(cfg.Cache.Substrate, cfg.Cache.DataDir)
	if err != nil {
		return fmt.Errorf("failed to create cache substrate: %w", err)
	}
	defer closeSub()

	edgeCache := cache.New(sub, cache.Config{
		Domain:     cfg.Cache.Domain,
		Prefix:     cfg.Cache.Prefix,
		MaxTTL:     cfg.Cache.MaxTTLSeconds,
		DefaultTTL: cfg.Cache.DefaultTTLSeconds,
	})

	broker := &BrokerGraph{
		Orchestrator: orch,
		Cache:        edgeCache,
		Breakers:     breakerStore,
		DefaultStepOptions: executor.Options{
			MaxRetries:    cfg.Executor.MaxRetries,
			TimeoutMs:     cfg.Executor.TimeoutMs,
			BaseBackoffMs: cfg.Executor.BaseBackoffMs,
			MaxBackoffMs:  cfg.Executor.MaxBackoffMs,
		},
	}

	healthServer := api.NewHealthServer(broker.Breakers, sub, Version)

	log.Info(fmt.Sprintf(
		"shardbroker serving on %s (%d shard(s) configured, cache substrate=%s)",
		addr, len(origins), cfg.Cache.Substrate,
	))

	errCh := make(chan error, 1)
	go func() {
		if err := healthServer.Start(addr); err != nil {
			errCh <- fmt.Errorf("health server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down")
	case err := <-errCh:
		return err
	}

	return nil
}

// BrokerGraph is the fully wired dependency graph an embedding process
// calls orchestrate_query/the edge cache methods against (spec §6).
// serve constructs one to prove the wiring and to back the health/ready
// checks; it is not itself driven by a request transport here.
type BrokerGraph struct {
	Orchestrator       *orchestrator.Orchestrator
	Cache              *cache.Cache
	Breakers           *breaker.Store
	DefaultStepOptions executor.Options
}

func newCacheSubstrate(kind, dataDir string) (substrate.Substrate, func(), error) {
	switch kind {
	case "", "mem":
		return substrate.NewMemSubstrate(), func() {}, nil
	case "bolt":
		sub, err := substrate.NewBoltSubstrate(dataDir)
		if err != nil {
			return nil, nil, err
		}
		return sub, func() { _ = sub.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache substrate %q, expected mem or bolt", kind)
	}
}
