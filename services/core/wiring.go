package core

// Collect builds a node's input values from its static defaults and its
// inbound edges. Edge values always override statics. Repeated
// inputs collect every available source in edge-declaration order,
// flattening one level where a source value is itself a slice; single
// inputs take the last available source in edge-declaration order.
func Collect(node Node, plan *ExecutionPlan, state *ExecutionState) NodeRuntimeValues {
	values := make(NodeRuntimeValues, len(node.Inputs))

	for _, in := range node.Inputs {
		if in.Default != nil {
			values[in.Name] = in.Default
		}
	}

	byTarget := make(map[string][]Edge)
	for _, e := range plan.InboundEdges(node.ID) {
		byTarget[e.TargetInput] = append(byTarget[e.TargetInput], e)
	}

	for _, in := range node.Inputs {
		edges := byTarget[in.Name]
		if len(edges) == 0 {
			continue
		}

		collected := make([]any, 0, len(edges))
		for _, e := range edges {
			v, ok := sourceValue(e, state)
			if !ok {
				continue
			}
			collected = append(collected, v)
		}
		if len(collected) == 0 {
			continue
		}

		if in.Repeated {
			flat := make([]any, 0, len(collected))
			for _, v := range collected {
				if arr, isArr := v.([]any); isArr {
					flat = append(flat, arr...)
				} else {
					flat = append(flat, v)
				}
			}
			values[in.Name] = flat
		} else {
			values[in.Name] = collected[len(collected)-1]
		}
	}

	return values
}

// sourceValue fetches an edge's source output value, reporting false if
// the source never emitted that port (a conditional non-emission).
func sourceValue(e Edge, state *ExecutionState) (any, bool) {
	outputs, ok := state.NodeOutputs[e.Source]
	if !ok {
		return nil, false
	}
	v, present := outputs[e.SourceOutput]
	return v, present
}
