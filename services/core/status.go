package core

// DeriveStatus is the single source of truth for a workflow's status.
// It is pure: it never mutates state, and status is never stored
// alongside the partition counters — a stored status field can desync
// from the partitions that produced it and get stuck "executing"
// forever.
func DeriveStatus(plan *ExecutionPlan, state *ExecutionState, exhausted bool) Status {
	if exhausted {
		return StatusExhausted
	}

	visited := state.Visited()
	if len(visited) < len(plan.OrderedNodeIDs) {
		return StatusExecuting
	}

	if len(state.NodeErrors) > 0 {
		return StatusError
	}
	return StatusCompleted
}
