package core

// Eligibility is the Skip Resolver's verdict for one node.
type Eligibility struct {
	Execute bool
	Info    SkippedInfo // populated iff !Execute
}

// Classify decides whether nodeID must be skipped given the current
// state of its upstream nodes. A node with no inbound edges is
// always eligible. A node is skipped iff every inbound edge is
// unavailable; the reason is upstream_failure if any unavailable edge is
// due to an error or a skip, otherwise conditional_branch.
func Classify(nodeID string, plan *ExecutionPlan, state *ExecutionState) Eligibility {
	inbound := plan.InboundEdges(nodeID)
	if len(inbound) == 0 {
		return Eligibility{Execute: true}
	}

	anyAvailable := false
	anyHardFailure := false
	blockedSet := make(map[string]struct{})
	var blockedBy []string

	for _, e := range inbound {
		switch {
		case isErrored(e.Source, state):
			anyHardFailure = true
			addBlocked(&blockedBy, blockedSet, e.Source)
		case isSkipped(e.Source, state):
			anyHardFailure = true
			addBlocked(&blockedBy, blockedSet, e.Source)
		case didNotEmit(e, state):
			addBlocked(&blockedBy, blockedSet, e.Source)
		default:
			anyAvailable = true
		}
	}

	if anyAvailable {
		return Eligibility{Execute: true}
	}

	reason := SkipConditionalBranch
	if anyHardFailure {
		reason = SkipUpstreamFailure
	}
	return Eligibility{
		Execute: false,
		Info: SkippedInfo{
			Reason:    reason,
			BlockedBy: blockedBy,
		},
	}
}

func isErrored(nodeID string, state *ExecutionState) bool {
	_, ok := state.NodeErrors[nodeID]
	return ok
}

func isSkipped(nodeID string, state *ExecutionState) bool {
	_, ok := state.SkippedNodes[nodeID]
	return ok
}

// didNotEmit reports whether the edge's source node completed but did
// not emit a value on the referenced output port (a deliberate
// conditional non-emission, not a failure).
func didNotEmit(e Edge, state *ExecutionState) bool {
	if _, executed := state.ExecutedNodes[e.Source]; !executed {
		return false
	}
	outputs, ok := state.NodeOutputs[e.Source]
	if !ok {
		return true
	}
	_, present := outputs[e.SourceOutput]
	return !present
}

func addBlocked(blockedBy *[]string, seen map[string]struct{}, id string) {
	if _, ok := seen[id]; ok {
		return
	}
	seen[id] = struct{}{}
	*blockedBy = append(*blockedBy, id)
}
