/*
Package rfqflow provides graph-based orchestration for multi-turn
conversational workflows.

# Overview

rfqflow is a Go library for building and executing directed graphs
where nodes perform work and edges define flow. It is built for
workflows that span multiple external interactions: a run can suspend
at declared nodes, persist its state as a checkpoint, and resume later
in a different process once the awaited input arrives.

Core features:
  - Type-safe generics for state management
  - Compile-time validation of graph structure
  - Suspend/resume at declared nodes with continuation tokens
  - Durable checkpoints (memory, SQLite)
  - OpenTelemetry integration for observability

# Basic Usage

Create a graph with nodes and edges, then compile and run:

	type State struct {
	    Input  string
	    Output string
	}

	func process(ctx rfqflow.Context, s State) (State, error) {
	    s.Output = "Processed: " + s.Input
	    return s, nil
	}

	func main() {
	    graph := rfqflow.NewGraph[State]().
	        AddNode("process", process).
	        AddEdge("process", rfqflow.END).
	        SetEntry("process")

	    compiled, err := graph.Compile()
	    if err != nil {
	        log.Fatal(err)
	    }

	    ctx := rfqflow.NewContext(context.Background())
	    res, err := compiled.Run(ctx, State{Input: "hello"})
	    if err != nil {
	        log.Fatal(err)
	    }
	    fmt.Println(res.State.Output) // "Processed: hello"
	}

# Conditional Branching

Use conditional edges for decision points:

	graph.AddConditionalEdge("review", func(ctx rfqflow.Context, s State) string {
	    if s.Approved {
	        return "publish"
	    }
	    return "revise"
	})

The router function returns the ID of the next node to execute. Router
functions must be pure: they read state and return a node ID, nothing
else. Invalid return values (referencing non-existent nodes) cause
runtime errors.

# Loops

Create loops with conditional edges that return to earlier nodes:

	graph := rfqflow.NewGraph[RetryState]().
	    AddNode("attempt", tryOperation).
	    AddNode("cleanup", cleanupOnSuccess).
	    AddConditionalEdge("attempt", func(ctx rfqflow.Context, s RetryState) string {
	        if s.Success || s.Attempts >= 3 {
	            return "cleanup"
	        }
	        return "attempt" // Loop back
	    }).
	    AddEdge("cleanup", rfqflow.END).
	    SetEntry("attempt")

Loops are protected by max iterations (default 1000) to prevent
infinite loops. Configure with WithMaxIterations.

# Suspend and Resume

Mark nodes where execution must wait for external input:

	graph.MarkSuspend("await-reply")

	store, _ := checkpoint.NewSQLiteStore("./checkpoints.db")
	defer store.Close()

	res, err := compiled.Run(ctx, state,
	    rfqflow.WithCheckpointing(store),
	    rfqflow.WithRunThreadID("thread-123"))
	if res.Suspended() {
	    token := res.Suspension.Token // hand to the caller
	}

	// Later, possibly in another process:
	res, err = compiled.Resume(ctx, store, "thread-123",
	    rfqflow.WithStateOverride(func(s State) State {
	        s.Pending = &incoming
	        return s
	    }),
	    rfqflow.WithToken[State](token))

Execution halts before a suspend node runs; on resume the suspend node
executes first, consuming whatever input the override injected.

Checkpoints are saved after each successful node execution, so a
crashed run also resumes from its last completed node.

# Observability

Enable logging, metrics, and tracing:

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	res, err := compiled.Run(ctx, state,
	    rfqflow.WithObservabilityLogger(logger),
	    rfqflow.WithMetrics(true),
	    rfqflow.WithTracing(true),
	    rfqflow.WithRunThreadID("thread-123"))

Logs include structured fields: thread_id, node_id, duration_ms.
OpenTelemetry metrics: rfqflow.node.executions, rfqflow.node.latency_ms,
rfqflow.graph.suspensions, etc.
OpenTelemetry tracing: rfqflow.run > rfqflow.node.{id} spans.

# Error Handling

Errors include context about which node failed:

	res, err := compiled.Run(ctx, state)
	var nodeErr *rfqflow.NodeError
	if errors.As(err, &nodeErr) {
	    log.Printf("Node %s failed: %v", nodeErr.NodeID, nodeErr.Err)
	}

	var panicErr *rfqflow.PanicError
	if errors.As(err, &panicErr) {
	    log.Printf("Node %s panicked: %v\n%s", panicErr.NodeID, panicErr.Value, panicErr.Stack)
	}

Panics in nodes are recovered and converted to PanicError with stack
trace. Checkpoint persistence failures abort the run with a
CheckpointError: a run that cannot record its progress must not hand
out a continuation token.

# Thread Safety

  - Graph[S] is NOT safe for concurrent use during construction
  - CompiledGraph[S] IS safe for concurrent use (immutable)
  - Context IS safe for concurrent use
  - checkpoint.Store implementations are safe for concurrent use

Concurrent runs of the same thread ID are not coordinated here; callers
that multiplex threads serialize per thread (see package negotiation).

# Subpackages

  - checkpoint: Checkpoint storage (memory, SQLite)
  - config: YAML/JSON configuration loading
  - llm: Chat-completion client interface and implementations
  - observability: Logging, metrics, and tracing helpers
*/
package rfqflow
