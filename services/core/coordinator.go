package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Coordinator orchestrates one workflow instance end to end: validate,
// quota check, preload resources, run levels, persist, notify. Every
// durable unit of work runs through Steps so the sequence survives
// process restarts exactly once.
type Coordinator struct {
	Registry  NodeRegistry
	Resources ResourceProvider
	Objects   ObjectStore
	Store     ExecutionStore
	Monitor   MonitoringService
	Credits   CreditGate
	Steps     DurableStep
	IsAllowed IsAllowed
	Metrics   *Metrics

	MaxInFlightPerLevel int
	DevMode             bool // short-circuits the credit gate to "always enough"
}

// Run executes ectx.Workflow to completion (or a terminal failure) and
// returns the final ExecutionRecord. ectx.ExecutionID must be unique and
// stable across restarts — it's the durable step memoization key.
//
// Planning is not itself wrapped in a Durable Step: Plan is a pure,
// side-effect-free function of ectx.Workflow, so recomputing it after a
// crash-and-resume is always safe and cheap. Only operations with
// external side effects (node invocation, resource preload, the final
// persist) need memoization.
func (c *Coordinator) Run(ctx context.Context, ectx ExecutionContext) (ExecutionRecord, error) {
	startedAt := time.Now()
	c.notify(ctx, ectx, 0, string(StatusSubmitted), nil, startedAt, time.Time{})

	plan, err := Plan(ectx.Workflow)
	if err != nil {
		// Validation/cycle failure: fatal, no nodes ever executed.
		ectx.Plan = &ExecutionPlan{}
		return c.finish(ctx, ectx, startedAt, NewExecutionState(), StatusError, err.Error())
	}
	ectx.Plan = plan
	state := NewExecutionState()

	estimatedUsage := c.estimateUsage(ectx.Workflow)
	exhausted, err := c.checkCredits(ctx, ectx, estimatedUsage)
	if err != nil {
		return c.finish(ctx, ectx, startedAt, state, StatusError, err.Error())
	}
	if exhausted {
		return c.finish(ctx, ectx, startedAt, state, StatusExhausted, "")
	}

	_, err = c.Steps.Step(ctx, ectx.ExecutionID, "preload organization resources", func(stepCtx context.Context) (any, error) {
		return nil, c.Resources.Initialize(stepCtx, ectx.OrganizationID)
	})
	if err != nil {
		return c.finish(ctx, ectx, startedAt, state, StatusError, err.Error())
	}

	codec := &Codec{Objects: c.Objects}
	invoker := NewInvoker(c.Registry, c.Resources, codec, c.IsAllowed)
	levelExec := &LevelExecutor{
		Invoker:     invoker,
		Steps:       c.Steps,
		Monitor:     c.Monitor,
		Metrics:     c.Metrics,
		MaxInFlight: c.MaxInFlightPerLevel,
	}

	for idx, level := range ectx.Plan.Levels {
		if runErr := ctx.Err(); runErr != nil {
			return c.finish(ctx, ectx, startedAt, state, StatusError, runErr.Error())
		}
		levelStart := time.Now()
		if runErr := levelExec.RunLevel(ctx, ectx, level, state); runErr != nil {
			// Unknown/system exception: terminal, but whatever completed
			// in this and prior levels stays in state.
			return c.finish(ctx, ectx, startedAt, state, StatusError, runErr.Error())
		}
		c.Metrics.observeLevel(time.Since(levelStart))
		c.notify(ctx, ectx, idx+1, string(DeriveStatus(ectx.Plan, state, false)), state, startedAt, time.Time{})
	}

	// Normal completion: let the Status Deriver read the final partitions.
	return c.finish(ctx, ectx, startedAt, state, "", "")
}

func (c *Coordinator) estimateUsage(wf Workflow) int {
	total := 0
	for _, n := range wf.Nodes {
		if meta, ok := c.Registry.GetNodeType(n.Type); ok {
			total += usageOf(meta)
		} else {
			total++
		}
	}
	return total
}

func (c *Coordinator) checkCredits(ctx context.Context, ectx ExecutionContext, estimated int) (exhausted bool, err error) {
	if c.DevMode {
		return false, nil
	}
	ok, err := c.Credits.HasEnoughCredits(ctx, ectx.OrganizationID, estimated, ectx.CallerPlan)
	if err != nil {
		return false, fmt.Errorf("credit gate: %w", err)
	}
	return !ok, nil
}

// finish runs the one and only call site that writes the final
// ExecutionRecord, keeping persistence exactly-once. forcedStatus
// overrides the status deriver for states it cannot express on its own — fatal
// pre-plan failures and credit exhaustion, where no (or only a partial)
// plan exists. An empty forcedStatus lets the record's status be derived
// normally from the final partitions.
func (c *Coordinator) finish(ctx context.Context, ectx ExecutionContext, startedAt time.Time, state *ExecutionState, forcedStatus Status, topError string) (ExecutionRecord, error) {
	recordRaw, err := c.Steps.Step(ctx, ectx.ExecutionID, "persist final execution record", func(stepCtx context.Context) (any, error) {
		record := buildRecord(ectx, startedAt, state, forcedStatus, topError)
		saved, saveErr := c.Store.Save(stepCtx, record)
		if saveErr != nil {
			return nil, fmt.Errorf("persist execution record: %w", saveErr)
		}
		if forcedStatus != StatusExhausted {
			actual := 0
			for _, u := range state.NodeUsage {
				actual += u
			}
			if usageErr := c.Credits.RecordUsage(stepCtx, ectx.OrganizationID, actual); usageErr != nil {
				slog.Error("failed to record credit usage", "executionId", ectx.ExecutionID, "error", usageErr)
			}
		}
		return saved, nil
	})
	if err != nil {
		return ExecutionRecord{}, err
	}
	record := recordRaw.(ExecutionRecord)
	c.notify(ctx, ectx, -1, string(record.Status), state, startedAt, record.EndedAt)
	return record, nil
}

// buildRecord assembles the persisted ExecutionRecord from the plan and
// state. forcedStatus, when non-empty, bypasses DeriveStatus for states
// the deriver cannot see (no plan, or a plan abandoned mid-flight).
func buildRecord(ectx ExecutionContext, startedAt time.Time, state *ExecutionState, forcedStatus Status, topError string) ExecutionRecord {
	status := forcedStatus
	if status == "" {
		status = DeriveStatus(ectx.Plan, state, false)
	}

	errMsg := topError
	if len(state.NodeErrors) > 0 {
		errMsg = "Workflow execution failed"
	}
	if status == StatusExhausted {
		errMsg = "Insufficient compute credits"
	}

	nodeExecs := make([]NodeExecutionRecord, 0, len(ectx.Plan.OrderedNodeIDs))
	for _, id := range ectx.Plan.OrderedNodeIDs {
		nodeExecs = append(nodeExecs, nodeRecordFor(id, state))
	}

	return ExecutionRecord{
		ID:             ectx.ExecutionID,
		WorkflowID:     ectx.WorkflowID,
		DeploymentID:   ectx.DeploymentID,
		UserID:         ectx.UserID,
		OrganizationID: ectx.OrganizationID,
		Status:         status,
		StartedAt:      startedAt,
		EndedAt:        time.Now(),
		Error:          errMsg,
		NodeExecutions: nodeExecs,
	}
}

func nodeRecordFor(id string, state *ExecutionState) NodeExecutionRecord {
	if _, ok := state.ExecutedNodes[id]; ok {
		return NodeExecutionRecord{NodeID: id, Status: "completed", Outputs: state.NodeOutputs[id], Usage: state.NodeUsage[id]}
	}
	if msg, ok := state.NodeErrors[id]; ok {
		return NodeExecutionRecord{NodeID: id, Status: "error", Error: msg, Usage: state.NodeUsage[id]}
	}
	if info, ok := state.SkippedNodes[id]; ok {
		return NodeExecutionRecord{NodeID: id, Status: "skipped", SkipReason: info.Reason, BlockedBy: info.BlockedBy}
	}
	return NodeExecutionRecord{NodeID: id, Status: "idle"}
}

// notify pushes a best-effort snapshot to the MonitoringService.
// levelIdx is 0 for the initial snapshot, -1 for the closing one, and
// the 1-based level number in between.
func (c *Coordinator) notify(ctx context.Context, ectx ExecutionContext, levelIdx int, status string, state *ExecutionState, startedAt, endedAt time.Time) {
	if c.Monitor == nil {
		return
	}
	if state == nil {
		state = NewExecutionState()
	}
	plan := ectx.Plan
	if plan == nil {
		plan = &ExecutionPlan{}
	}

	var nodeExecs []NodeExecutionRecord
	for _, id := range plan.OrderedNodeIDs {
		nodeExecs = append(nodeExecs, nodeRecordFor(id, state))
	}

	record := ExecutionRecord{
		ID:             ectx.ExecutionID,
		WorkflowID:     ectx.WorkflowID,
		UserID:         ectx.UserID,
		OrganizationID: ectx.OrganizationID,
		Status:         Status(status),
		StartedAt:      startedAt,
		EndedAt:        endedAt,
		NodeExecutions: nodeExecs,
	}
	c.Monitor.SendUpdate(ctx, LevelSnapshot{ExecutionID: ectx.ExecutionID, LevelIndex: levelIdx, Record: record})
}
