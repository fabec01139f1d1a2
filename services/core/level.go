package core

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// DurableStep is the external collaborator that memoizes a named unit of
// work across process restarts.
type DurableStep interface {
	Step(ctx context.Context, executionID, name string, fn func(ctx context.Context) (any, error)) (any, error)
}

// LevelSnapshot is pushed to the MonitoringService after each level is
// applied.
type LevelSnapshot struct {
	ExecutionID string
	LevelIndex  int
	Record      ExecutionRecord
}

// MonitoringService receives best-effort status snapshots. Failure to
// deliver is logged by the implementation, never fatal to the workflow.
type MonitoringService interface {
	SendUpdate(ctx context.Context, snapshot LevelSnapshot)
}

// LevelExecutor runs one level of a plan: every eligible node in the
// level concurrently, each wrapped in a Durable Step, then applies all
// results to the ExecutionState serially in a deterministic order.
type LevelExecutor struct {
	Invoker     *Invoker
	Steps       DurableStep
	Monitor     MonitoringService
	Metrics     *Metrics
	MaxInFlight int // 0 means unbounded
}

// RunLevel executes every node id in level concurrently and applies
// their outcomes to state. Cross-level ordering is the caller's
// responsibility: RunLevel must not be called for level k+1 until level
// k's call has returned.
func (le *LevelExecutor) RunLevel(ctx context.Context, ectx ExecutionContext, level []string, state *ExecutionState) error {
	outcomes := make([]InvokeOutcome, len(level))

	g, gctx := errgroup.WithContext(ctx)
	if le.MaxInFlight > 0 {
		g.SetLimit(le.MaxInFlight)
	}

	// Input wiring and skip classification read a read-only snapshot of
	// state; no goroutine here writes to state, so no lock is needed.
	for i, nodeID := range level {
		i, nodeID := i, nodeID
		g.Go(func() error {
			stepName := fmt.Sprintf("run node %s", nodeID)
			raw, err := le.Steps.Step(gctx, ectx.ExecutionID, stepName, func(stepCtx context.Context) (any, error) {
				return le.runNode(stepCtx, ectx, nodeID, state), nil
			})
			if err != nil {
				return err
			}
			outcomes[i] = raw.(InvokeOutcome)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("level execution: %w", err)
	}

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].NodeID < outcomes[j].NodeID })
	for _, o := range outcomes {
		applyOutcome(state, o)
		le.Metrics.observeNode(o.Status)
	}

	return nil
}

// runNode classifies skip vs execute, wires inputs, and invokes the
// node. It only reads the plan/state snapshot it's given and returns a
// self-contained outcome — ExecutionState is never mutated here.
func (le *LevelExecutor) runNode(ctx context.Context, ectx ExecutionContext, nodeID string, state *ExecutionState) InvokeOutcome {
	node, ok := ectx.Plan.Node(nodeID)
	if !ok {
		return InvokeOutcome{NodeID: nodeID, Status: "error", Error: "node not found"}
	}

	eligibility := Classify(nodeID, ectx.Plan, state)
	if !eligibility.Execute {
		return InvokeOutcome{
			NodeID: nodeID,
			Status: "skipped",
			Error:  "",
			Usage:  0,
		}.withSkip(eligibility.Info)
	}

	inputs := Collect(node, ectx.Plan, state)
	return le.Invoker.Invoke(ctx, ectx.Workflow, nodeID, inputs, ectx)
}

// applyOutcome moves a node into exactly one of the three ExecutionState
// partitions. Called only from the single level-applying goroutine.
func applyOutcome(state *ExecutionState, o InvokeOutcome) {
	switch o.Status {
	case "skipped":
		state.SkippedNodes[o.NodeID] = o.Skip
	case "error":
		state.NodeErrors[o.NodeID] = o.Error
		state.NodeUsage[o.NodeID] = o.Usage
	default:
		state.ExecutedNodes[o.NodeID] = struct{}{}
		state.NodeOutputs[o.NodeID] = o.Outputs
		state.NodeUsage[o.NodeID] = o.Usage
	}
}

// withSkip attaches skip classification info to an outcome's Skip field
// and returns the updated copy.
func (o InvokeOutcome) withSkip(info SkippedInfo) InvokeOutcome {
	o.Skip = info
	return o
}
