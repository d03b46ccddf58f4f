package rfqflow

import (
	"fmt"
	"log/slog"

	"github.com/rfqflow/rfqflow/pkg/rfqflow/checkpoint"
	"github.com/rfqflow/rfqflow/pkg/rfqflow/observability"
)

// runConfig holds configuration for graph execution.
type runConfig struct {
	maxIterations   int
	checkpointStore checkpoint.Store
	threadID        string
	sequence        int

	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	tracingEnabled bool

	// resuming marks the start node as the target of a resume, so the
	// suspend check is skipped for it on the first iteration.
	resuming bool

	// prevNode is the last node that completed before this run started
	// (set by Resume from the loaded checkpoint).
	prevNode string
}

const (
	// DefaultMaxIterations is the iteration limit when none is configured.
	DefaultMaxIterations = 1000

	// MaxIterationsLimit is the hard upper bound for WithMaxIterations.
	MaxIterationsLimit = 100000
)

// defaultRunConfig returns the default execution configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations: DefaultMaxIterations,
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
	}
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithMaxIterations sets the maximum number of node executions.
// Default: DefaultMaxIterations.
//
// This prevents infinite loops from hanging forever. If a graph
// exceeds this limit, Run returns ErrMaxIterations. Panics on values
// outside (0, MaxIterationsLimit]; option misuse is a programming
// error, not a runtime condition.
//
// Example:
//
//	result, err := compiled.Run(ctx, state, rfqflow.WithMaxIterations(100))
func WithMaxIterations(n int) RunOption {
	if n <= 0 {
		panic("rfqflow: max iterations must be > 0")
	}
	if n > MaxIterationsLimit {
		panic(fmt.Sprintf("rfqflow: max iterations exceeds limit (%d)", MaxIterationsLimit))
	}
	return func(c *runConfig) {
		c.maxIterations = n
	}
}

// WithCheckpointing enables checkpoint persistence to the given store.
// Requires WithRunThreadID. Graphs that declare suspend nodes must run
// with checkpointing enabled.
func WithCheckpointing(store checkpoint.Store) RunOption {
	return func(c *runConfig) {
		c.checkpointStore = store
	}
}

// WithRunThreadID sets the thread identifier under which checkpoints
// are stored.
func WithRunThreadID(id string) RunOption {
	return func(c *runConfig) {
		c.threadID = id
	}
}

// WithObservabilityLogger sets the logger used for run/node lifecycle logging.
func WithObservabilityLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithMetrics enables OpenTelemetry metrics recording.
func WithMetrics(enabled bool) RunOption {
	return func(c *runConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithTracing enables OpenTelemetry span creation for the run and each node.
func WithTracing(enabled bool) RunOption {
	return func(c *runConfig) {
		c.tracingEnabled = enabled
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// resumeConfig holds configuration for Resume.
type resumeConfig[S any] struct {
	stateOverride func(S) S
	validateState func(S) error
	token         string
	runOpts       []RunOption
}

// ResumeOption configures resume behavior.
type ResumeOption[S any] func(*resumeConfig[S])

// WithStateOverride modifies the deserialized state before execution
// continues. The typical use is injecting external input (e.g., the
// next incoming message) into a suspended thread.
func WithStateOverride[S any](fn func(S) S) ResumeOption[S] {
	return func(c *resumeConfig[S]) {
		c.stateOverride = fn
	}
}

// WithStateValidation runs a validation function against the
// deserialized (and possibly overridden) state before execution
// continues. A validation error aborts the resume.
func WithStateValidation[S any](fn func(S) error) ResumeOption[S] {
	return func(c *resumeConfig[S]) {
		c.validateState = fn
	}
}

// WithToken verifies the continuation token issued by the suspension
// against the thread's latest checkpoint. A mismatch aborts the resume
// with ErrTokenMismatch.
func WithToken[S any](token string) ResumeOption[S] {
	return func(c *resumeConfig[S]) {
		c.token = token
	}
}

// WithRunOptions forwards run options (observability, iteration limits)
// to the execution that follows the resume.
func WithRunOptions[S any](opts ...RunOption) ResumeOption[S] {
	return func(c *resumeConfig[S]) {
		c.runOpts = append(c.runOpts, opts...)
	}
}
