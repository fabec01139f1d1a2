package core

import (
	"fmt"
	"sort"
)

// Plan validates a workflow and computes its execution plan: structural
// checks first (fatal on any problem), then Kahn's-algorithm levelization.
// A workflow whose nodes cannot all be levelized contains a cycle.
func Plan(wf Workflow) (*ExecutionPlan, error) {
	if problems := validateStructure(wf); len(problems) > 0 {
		return nil, &ValidationFailure{Problems: problems}
	}

	nodesByID := make(map[string]Node, len(wf.Nodes))
	for _, n := range wf.Nodes {
		nodesByID[n.ID] = n
	}

	inEdgesByNode := make(map[string][]Edge)
	outEdgesByNode := make(map[string][]Edge)
	for _, e := range wf.Edges {
		inEdgesByNode[e.Target] = append(inEdgesByNode[e.Target], e)
		outEdgesByNode[e.Source] = append(outEdgesByNode[e.Source], e)
	}

	// Kahn's algorithm with level tracking: in-degree counts distinct
	// predecessor nodes, not edges, so a repeated (fan-in) edge from the
	// same predecessor doesn't inflate it.
	predecessors := make(map[string]map[string]struct{}, len(wf.Nodes))
	for _, n := range wf.Nodes {
		predecessors[n.ID] = make(map[string]struct{})
	}
	for _, e := range wf.Edges {
		predecessors[e.Target][e.Source] = struct{}{}
	}

	remaining := make(map[string]int, len(wf.Nodes))
	for id, preds := range predecessors {
		remaining[id] = len(preds)
	}

	settled := make(map[string]struct{}, len(wf.Nodes))
	var levels [][]string
	var ordered []string

	for len(settled) < len(wf.Nodes) {
		var level []string
		for _, n := range wf.Nodes {
			if _, done := settled[n.ID]; done {
				continue
			}
			if remaining[n.ID] == 0 {
				level = append(level, n.ID)
			}
		}
		if len(level) == 0 {
			break // cycle: nothing left has in-degree 0
		}
		sort.Strings(level)
		levels = append(levels, level)
		ordered = append(ordered, level...)
		for _, id := range level {
			settled[id] = struct{}{}
		}
		for _, id := range level {
			// Decrement once per distinct successor, matching how
			// remaining was counted above.
			decremented := make(map[string]struct{})
			for _, e := range outEdgesByNode[id] {
				if _, done := decremented[e.Target]; done {
					continue
				}
				decremented[e.Target] = struct{}{}
				remaining[e.Target]--
			}
		}
	}

	if len(ordered) < len(wf.Nodes) {
		return nil, &ValidationFailure{Problems: []string{"workflow graph contains a cycle"}}
	}

	return &ExecutionPlan{
		Levels:         levels,
		OrderedNodeIDs: ordered,
		nodesByID:      nodesByID,
		inEdgesByNode:  inEdgesByNode,
		workflow:       wf,
	}, nil
}

// validateStructure checks edges reference known nodes/ports, no
// duplicate node ids, and no two edges share (target, targetInput)
// unless that input is declared repeated.
func validateStructure(wf Workflow) []string {
	var problems []string

	seenNode := make(map[string]bool, len(wf.Nodes))
	nodesByID := make(map[string]Node, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if seenNode[n.ID] {
			problems = append(problems, fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		seenNode[n.ID] = true
		nodesByID[n.ID] = n
	}

	targetPortUse := make(map[string]int) // "nodeID\x00port" -> edge count
	for i, e := range wf.Edges {
		src, srcOK := nodesByID[e.Source]
		if !srcOK {
			problems = append(problems, fmt.Sprintf("edge[%d] references unknown source node %q", i, e.Source))
		} else if !src.hasOutput(e.SourceOutput) {
			problems = append(problems, fmt.Sprintf("edge[%d] references undeclared output %q on node %q", i, e.SourceOutput, e.Source))
		}

		tgt, tgtOK := nodesByID[e.Target]
		if !tgtOK {
			problems = append(problems, fmt.Sprintf("edge[%d] references unknown target node %q", i, e.Target))
			continue
		}
		input, inputOK := tgt.input(e.TargetInput)
		if !inputOK {
			problems = append(problems, fmt.Sprintf("edge[%d] references undeclared input %q on node %q", i, e.TargetInput, e.Target))
			continue
		}

		key := e.Target + "\x00" + e.TargetInput
		targetPortUse[key]++
		if targetPortUse[key] > 1 && !input.Repeated {
			problems = append(problems, fmt.Sprintf("input %q on node %q receives multiple edges but is not repeated", e.TargetInput, e.Target))
		}
	}

	return problems
}
