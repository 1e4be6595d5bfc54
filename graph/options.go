package graph

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/agentgraph/graph/emit"
	"github.com/dshills/agentgraph/graph/store"
)

// DefaultMaxNodeInvocations caps node invocations per run when neither
// WithMaxNodeInvocations nor RunRequest.MaxNodeInvocations overrides it.
const DefaultMaxNodeInvocations = 20

// Option is a functional option for configuring an Engine.
//
// Options are applied in order by New; a later option overrides an earlier
// one. An option that returns an error makes New fail.
//
// Example:
//
//	engine, err := graph.New(invoker,
//	    graph.WithMaxNodeInvocations(30),
//	    graph.WithEmitter(emit.NewLogEmitter(logger)),
//	    graph.WithStore(st),
//	    graph.WithLogger(logger),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before New builds the Engine.
type engineConfig struct {
	maxNodeInvocations int
	emitter            emit.Emitter
	store              store.Store
	logger             *zap.Logger
	metrics            *PrometheusMetrics

	now   func() time.Time
	newID func() string
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		maxNodeInvocations: DefaultMaxNodeInvocations,
		emitter:            emit.NewNullEmitter(),
		logger:             zap.NewNop(),
		now:                time.Now,
		newID:              uuid.NewString,
	}
}

// WithMaxNodeInvocations sets the soft cap on node invocations per run.
//
// Default: DefaultMaxNodeInvocations (20).
//
// When the cap is reached the loop stops, queued messages are discarded and
// the run still succeeds with the output produced so far. Compare
// QueueRunResult.Invocations to the cap to tell that the run stopped early.
// Workflows with loops (worker -> orchestrator -> worker) need a cap of
// roughly nodes x rounds.
//
// Returns an error from New when n < 1.
func WithMaxNodeInvocations(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 1 {
			return errors.New("max node invocations must be at least 1")
		}
		cfg.maxNodeInvocations = n
		return nil
	}
}

// WithEmitter sets the progress event receiver.
//
// Default: emit.NullEmitter. A nil emitter restores the default.
//
// Emit is called synchronously from the run loop. Wrap slow consumers in
// emit.AsyncEmitter, and combine several with emit.Multi:
//
//	graph.WithEmitter(emit.NewAsyncEmitter(emit.Multi{
//	    emit.NewLogEmitter(logger),
//	    emit.NewOTelEmitter(tracer),
//	}, 256))
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		if e == nil {
			e = emit.NewNullEmitter()
		}
		cfg.emitter = e
		return nil
	}
}

// WithStore enables best-effort persistence of the run's audit trail.
//
// Default: nil (nothing is persisted).
//
// Persisted records:
//   - every message, stamped with the invocation that consumed it
//   - every node invocation with its output, cost, error and summary
//   - the final memory of terminal nodes
//
// Store failures are logged at Warn and never fail a run.
func WithStore(st store.Store) Option {
	return func(cfg *engineConfig) error {
		cfg.store = st
		return nil
	}
}

// WithLogger sets the engine's logger.
//
// Default: zap.NewNop(). A nil logger restores the default.
//
// Each run logs through a child logger carrying workflow_invocation_id.
// Node failures are logged at Warn, aborted runs at Error, join waits at
// Debug.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *engineConfig) error {
		if logger == nil {
			logger = zap.NewNop()
		}
		cfg.logger = logger
		return nil
	}
}

// WithMetrics enables Prometheus metrics.
//
// Default: nil (metrics disabled). See NewPrometheusMetrics for the
// collectors. One PrometheusMetrics may be shared by several engines.
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = metrics
		return nil
	}
}
