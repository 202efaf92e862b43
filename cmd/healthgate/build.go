package main

import (
	"context"
	"fmt"
	"log/slog"

	healthgate "github.com/JohnPlummer/jp-go-healthgate"
	"github.com/JohnPlummer/jp-go-healthgate/config"
	"github.com/JohnPlummer/jp-go-healthgate/source"
)

// gateway holds the wired components of one healthgate process.
type gateway struct {
	registry   *healthgate.CircuitBreakerRegistry
	resolver   healthgate.EndpointResolver
	aggregator *healthgate.HealthAggregator
	handler    *healthgate.Handler
	closers    []func() error
}

// Close releases connections held by the dynamic configuration source.
func (g *gateway) Close() {
	for _, c := range g.closers {
		_ = c()
	}
}

// build wires the resolver, breaker registry, probe, aggregator and handler from cfg.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gateway, error) {
	gw := &gateway{}

	kv, err := newSource(ctx, cfg.Source, gw, logger)
	if err != nil {
		return nil, err
	}

	var primary healthgate.Resolver
	if kv != nil {
		retrying := healthgate.NewRetryingSource(kv,
			healthgate.WithMaxAttempts(cfg.Source.MaxAttempts),
			healthgate.WithConstantBackoff(cfg.Source.RetryDelay),
			healthgate.WithRetryLogger(logger),
		)
		primary = healthgate.NewDynamicResolver(retrying, cfg.Source.Prefix)
	}

	gw.resolver = healthgate.NewFallbackResolver(
		primary,
		healthgate.NewStaticResolver(cfg.Services),
		healthgate.WithResolverLogger(logger),
	)

	gw.registry = healthgate.NewCircuitBreakerRegistry(
		healthgate.WithFailureThreshold(cfg.Breaker.FailureThreshold),
		healthgate.WithRecoveryTimeout(cfg.Breaker.RecoveryTimeout),
		healthgate.WithRegistryLogger(logger),
	)

	probe := healthgate.NewHealthProbe(
		healthgate.WithProbeTimeout(cfg.Probe.Timeout),
		healthgate.WithPreviewLength(cfg.Probe.PreviewLength),
		healthgate.WithProbeLogger(logger),
	)

	gw.aggregator = healthgate.NewHealthAggregator(gw.registry, probe,
		healthgate.WithCheckTimeout(cfg.Probe.Timeout),
		healthgate.WithMaxConcurrentChecks(cfg.Probe.MaxConcurrent),
		healthgate.WithAggregatorLogger(logger),
	)

	gw.handler = healthgate.NewHandler(gw.resolver, gw.aggregator, healthgate.WithHandlerLogger(logger))

	logger.Info("health gateway configured",
		"source", cfg.Source.Kind,
		"prefix", cfg.Source.Prefix,
		"static_services", len(cfg.Services),
		"failure_threshold", cfg.Breaker.FailureThreshold,
		"recovery_timeout", cfg.Breaker.RecoveryTimeout)

	return gw, nil
}

// newSource returns the configured dynamic source, or nil when none is configured.
// Connectivity problems are logged, not fatal: the static configuration still applies.
func newSource(ctx context.Context, cfg config.SourceConfig, gw *gateway, logger *slog.Logger) (healthgate.KVSource, error) {
	switch cfg.Kind {
	case config.SourceConsul:
		consul, err := source.NewConsul(cfg.ConsulAddr, cfg.ConsulToken)
		if err != nil {
			return nil, err
		}
		if err := consul.Healthy(); err != nil {
			logger.Warn("consul not reachable at startup", "addr", cfg.ConsulAddr, "error", err)
		}
		return consul, nil

	case config.SourceRedis:
		client, err := source.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		gw.closers = append(gw.closers, client.Close)

		redisSource := source.NewRedis(client)
		if err := redisSource.Healthy(ctx); err != nil {
			logger.Warn("redis not reachable at startup", "error", err)
		}
		return redisSource, nil

	case config.SourceNone, "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}
