package rfqflow

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rfqflow/rfqflow/pkg/rfqflow/checkpoint"
	"github.com/rfqflow/rfqflow/pkg/rfqflow/observability"
	"go.opentelemetry.io/otel/trace"
)

// Run executes the graph with the given initial state.
//
// Execution flow:
//  1. Start at the entry point node
//  2. Check for cancellation
//  3. If the current node is a declared suspend node, persist a
//     checkpoint and return a suspended Result
//  4. Execute the current node
//  5. Determine the next node (via simple or conditional edge) and
//     persist a checkpoint
//  6. Repeat until END is reached, the run suspends, or an error occurs
//
// On success, the Result holds the state after the last executed node;
// Result.Suspension is non-nil when the run halted at a suspend node.
// On error, the returned Result holds the state at the point of failure
// (useful for debugging); nothing beyond the last completed node was
// persisted.
//
// Example:
//
//	ctx := rfqflow.NewContext(context.Background())
//	res, err := compiled.Run(ctx, initialState,
//	    rfqflow.WithCheckpointing(store),
//	    rfqflow.WithRunThreadID("thread-123"))
//	if res.Suspended() {
//	    // hand res.Suspension.Token to the caller, resume later
//	}
func (cg *CompiledGraph[S]) Run(ctx Context, state S, opts ...RunOption) (result Result[S], runErr error) {
	result.State = state

	if ctx == nil {
		return result, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.checkpointStore != nil && cfg.threadID == "" {
		return result, ErrThreadIDRequired
	}
	if len(cg.suspendNodes) > 0 && cfg.checkpointStore == nil {
		return result, ErrSuspendRequiresCheckpointing
	}

	threadID := cfg.threadID
	if threadID == "" {
		threadID = ctx.ThreadID()
	}

	return cg.instrumentedRun(ctx, state, cg.entryPoint, threadID, &cfg)
}

// instrumentedRun wraps runFrom with the run-level observability surface:
// start/outcome logging, the graph-run metric, and the run span. Both Run
// and Resume go through it, so resumed turns carry the same instrumentation
// as fresh runs.
func (cg *CompiledGraph[S]) instrumentedRun(ctx Context, state S, startNode, threadID string, cfg *runConfig) (result Result[S], runErr error) {
	startTime := time.Now()
	observability.LogRunStart(cfg.logger, threadID)

	var execCtx context.Context = ctx
	var runSpan trace.Span
	if cfg.tracingEnabled {
		execCtx, runSpan = cfg.spans.StartRunSpan(ctx, "rfqflow", threadID)
		defer func() {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	var nodeCount int
	result, nodeCount, runErr = cg.runFrom(execCtx, ctx, state, startNode, cfg)

	duration := time.Since(startTime)
	durationMs := float64(duration.Milliseconds())

	cfg.metrics.RecordGraphRun(ctx, runErr == nil, duration)

	switch {
	case runErr != nil:
		lastNode := ""
		switch e := runErr.(type) {
		case *NodeError:
			lastNode = e.NodeID
		case *MaxIterationsError:
			lastNode = e.LastNodeID
		case *CancellationError:
			lastNode = e.NodeID
		case *CheckpointError:
			lastNode = e.NodeID
			observability.LogCheckpointError(cfg.logger, e.NodeID, e.Op, e.Err)
		}
		observability.LogRunError(cfg.logger, threadID, runErr, durationMs, lastNode)
	case result.Suspended():
		observability.LogRunSuspended(cfg.logger, threadID, result.Suspension.NodeID, nodeCount)
	default:
		observability.LogRunComplete(cfg.logger, threadID, durationMs, nodeCount)
	}

	return result, runErr
}

// runFrom executes the graph starting from a specific node.
// tracingCtx carries span context; fgCtx is the rfqflow Context.
// Returns the result, the number of executed nodes, and any error.
func (cg *CompiledGraph[S]) runFrom(tracingCtx context.Context, fgCtx Context, state S, startNode string, cfg *runConfig) (Result[S], int, error) {
	current := startNode
	prevNode := cfg.prevNode
	iterations := 0
	nodeCount := 0
	savedThisRun := false

	for current != END {
		iterations++
		if iterations > cfg.maxIterations {
			return Result[S]{State: state}, nodeCount, &MaxIterationsError{
				Max:        cfg.maxIterations,
				LastNodeID: current,
				State:      state,
			}
		}

		// Check for cancellation before executing or persisting anything,
		// so an abandoned run leaves the checkpoint untouched.
		select {
		case <-fgCtx.Done():
			return Result[S]{State: state}, nodeCount, &CancellationError{
				NodeID: current,
				State:  state,
				Cause:  fgCtx.Err(),
			}
		default:
		}

		// Halt before a declared suspend node. A resume executes its start
		// node even when that node is suspendable.
		if cg.suspendNodes[current] && !(cfg.resuming && iterations == 1) {
			if !savedThisRun {
				// Nothing executed yet in this run (fresh thread whose
				// entry is a suspend node): persist the initial snapshot.
				if err := cg.saveCheckpoint(fgCtx, cfg, prevNode, state, current); err != nil {
					return Result[S]{State: state}, nodeCount, err
				}
			}
			cfg.metrics.RecordSuspension(fgCtx, current)
			return Result[S]{
				State: state,
				Suspension: &Suspension{
					NodeID: current,
					Token:  newToken(cfg.threadID, cfg.sequence, current),
				},
			}, nodeCount, nil
		}

		observability.LogNodeStart(cfg.logger, current)

		nodeTracingCtx := tracingCtx
		var nodeSpan trace.Span
		if cfg.tracingEnabled {
			nodeTracingCtx, nodeSpan = cfg.spans.StartNodeSpan(tracingCtx, current)
		}

		nodeStart := time.Now()

		var nodeErr error
		state, nodeErr = cg.executeNode(fgCtx, current, state)

		nodeDuration := time.Since(nodeStart)
		nodeDurationMs := float64(nodeDuration.Milliseconds())

		cfg.metrics.RecordNodeExecution(nodeTracingCtx, current, nodeDuration, nodeErr)

		if cfg.tracingEnabled {
			cfg.spans.EndSpanWithError(nodeSpan, nodeErr)
		}

		if nodeErr != nil {
			observability.LogNodeError(cfg.logger, current, nodeErr)
			return Result[S]{State: state}, nodeCount, nodeErr
		}
		observability.LogNodeComplete(cfg.logger, current, nodeDurationMs)
		nodeCount++

		next, err := cg.nextNode(fgCtx, state, current)
		if err != nil {
			return Result[S]{State: state}, nodeCount, err
		}

		// Checkpoint after successful node execution. The single Save per
		// node is the atomic commit point: an abandoned run never leaves a
		// half-applied node behind.
		if cfg.checkpointStore != nil {
			if err := cg.saveCheckpoint(fgCtx, cfg, current, state, next); err != nil {
				return Result[S]{State: state}, nodeCount, err
			}
			savedThisRun = true
		}

		prevNode = current
		current = next
	}

	return Result[S]{State: state}, nodeCount, nil
}

// saveCheckpoint persists the current state. lastNode is the last node
// that completed (empty when nothing has executed); nextNode is where
// execution continues on resume.
//
// Checkpoint failures are fatal: without a durable snapshot the run
// cannot hand out a valid continuation token.
func (cg *CompiledGraph[S]) saveCheckpoint(ctx Context, cfg *runConfig, lastNode string, state S, nextNode string) error {
	stateBytes, err := json.Marshal(state)
	if err != nil {
		return &CheckpointError{NodeID: lastNode, Op: "serialize", Err: err}
	}

	cfg.sequence++
	cp := checkpoint.New(cfg.threadID, lastNode, cfg.sequence, stateBytes, nextNode)

	data, err := cp.Marshal()
	if err != nil {
		return &CheckpointError{NodeID: lastNode, Op: "marshal", Err: err}
	}

	if err := cfg.checkpointStore.Save(cfg.threadID, data); err != nil {
		return &CheckpointError{NodeID: lastNode, Op: "save", Err: err}
	}

	sizeBytes := len(data)
	observability.LogCheckpoint(cfg.logger, lastNode, sizeBytes)
	cfg.metrics.RecordCheckpoint(ctx, lastNode, int64(sizeBytes))

	return nil
}

// executeNode executes a single node with panic recovery.
// Returns the new state and any error (including wrapped panics).
func (cg *CompiledGraph[S]) executeNode(ctx Context, nodeID string, state S) (result S, err error) {
	fn, exists := cg.getNode(nodeID)
	if !exists {
		// This shouldn't happen if compilation was successful
		return state, &NodeError{
			NodeID: nodeID,
			Op:     "lookup",
			Err:    fmt.Errorf("node not found: %s", nodeID),
		}
	}

	// Create node-specific context with enriched logger
	nodeCtx := ctx
	if ec, ok := ctx.(*executionContext); ok {
		nodeCtx = ec.withNodeID(nodeID)
	}

	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			result = state
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	result, err = fn(nodeCtx, state)
	if err != nil {
		return result, &NodeError{
			NodeID: nodeID,
			Op:     "execute",
			Err:    err,
		}
	}

	return result, nil
}

// nextNode determines the next node to execute.
// Checks conditional edges first, then simple edges.
func (cg *CompiledGraph[S]) nextNode(ctx Context, state S, current string) (string, error) {
	if router, exists := cg.getRouter(current); exists {
		routerCtx := ctx
		if ec, ok := ctx.(*executionContext); ok {
			routerCtx = ec.withNodeID(current)
		}

		next := router(routerCtx, state)

		if next == "" {
			return "", &RouterError{
				FromNode: current,
				Returned: next,
				Err:      ErrInvalidRouterResult,
			}
		}

		if next != END {
			if _, exists := cg.getNode(next); !exists {
				return "", &RouterError{
					FromNode: current,
					Returned: next,
					Err:      ErrRouterTargetNotFound,
				}
			}
		}

		return next, nil
	}

	edges := cg.getEdges(current)
	if len(edges) == 0 {
		// No outgoing edges - this shouldn't happen if compilation was successful
		return "", &NodeError{
			NodeID: current,
			Op:     "routing",
			Err:    fmt.Errorf("no outgoing edge from node %s", current),
		}
	}

	// Simple edges: take the first one. The executor is strictly
	// sequential; fan-out is expressed with conditional edges.
	return edges[0], nil
}
