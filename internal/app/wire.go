// Package app wires the orchestration core from configuration. Every front
// end (HTTP server, MCP stdio server, CLI) builds its service here so the
// registry and resolver are constructed once and injected.
package app

import (
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Cownjackson/open-deep-research/config"
	"github.com/Cownjackson/open-deep-research/internal/engine"
	"github.com/Cownjackson/open-deep-research/internal/research"
	"github.com/Cownjackson/open-deep-research/internal/telemetry"
)

// Build constructs the research service and its metrics from cfg. Metrics
// are registered on the default prometheus registry.
func Build(cfg *config.Config, logger *log.Logger) (*research.Service, *telemetry.Metrics, error) {
	return BuildWith(cfg, logger, prometheus.DefaultRegisterer)
}

// BuildWith is Build with an explicit metrics registry.
func BuildWith(cfg *config.Config, logger *log.Logger, reg prometheus.Registerer) (*research.Service, *telemetry.Metrics, error) {
	eng := engine.New(engine.Config{
		BaseURL:        cfg.Engine.URL,
		AuthToken:      cfg.Engine.AuthToken,
		RequestTimeout: cfg.Engine.RequestTimeout,
		Retries:        cfg.Engine.Retries,
		Backoff:        cfg.Engine.Backoff,
	})

	sessions, err := buildStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	resolver := research.NewResolver(eng, cfg.Engine.GraphID, cfg.Engine.AssistantName)
	metrics := telemetry.New(reg)
	svc := research.NewService(eng, resolver, sessions, research.Config{
		PollInterval:    cfg.Research.PollInterval,
		WaitDeadline:    cfg.Research.WaitDeadline,
		MaxPollFailures: cfg.Research.MaxPollFailures,
	}, logger, metrics)
	return svc, metrics, nil
}

func buildStore(cfg *config.Config) (research.Store, error) {
	switch cfg.Storage.Store {
	case "", "inmemory":
		return research.NewMemoryStore(), nil
	case "redis":
		return research.NewRedisStore(cfg.Storage.Redis.Addr, cfg.Storage.Redis.Password, cfg.Storage.Redis.DB)
	default:
		return nil, fmt.Errorf("unsupported storage.store: %s", cfg.Storage.Store)
	}
}
