// Package registry provides a builtin core.NodeRegistry populated with
// a small set of arithmetic and control node types — enough to compose
// and test real workflows without depending on any external integration
// (weather, email, SMS and similar domain nodes are deployment-specific
// collaborators, registered by the embedding application, not the core).
package registry

import (
	"fmt"

	"github.com/coordinatord/flowcore/services/core"
)

// Builtin returns a core.NodeRegistry with number, add, subtract,
// multiply, divide, condition and string node types registered.
func Builtin() *core.MapRegistry {
	r := core.NewMapRegistry()

	r.Register("number", core.NodeTypeMeta{
		Inputs:  []core.InputPort{{Name: "value", Type: "number", Required: true}},
		Outputs: []core.OutputPort{{Name: "value", Type: "number"}},
	}, func(core.Node) core.Invokable { return numberNode{} })

	r.Register("add", binaryMeta(), func(core.Node) core.Invokable { return arithmeticNode{op: "add"} })
	r.Register("subtract", binaryMeta(), func(core.Node) core.Invokable { return arithmeticNode{op: "subtract"} })
	r.Register("multiply", binaryMeta(), func(core.Node) core.Invokable { return arithmeticNode{op: "multiply"} })
	r.Register("divide", binaryMeta(), func(core.Node) core.Invokable { return arithmeticNode{op: "divide"} })

	r.Register("condition", core.NodeTypeMeta{
		Inputs:  []core.InputPort{{Name: "input", Type: "any", Required: true}},
		Outputs: []core.OutputPort{{Name: "true", Type: "any"}, {Name: "false", Type: "any"}},
	}, func(core.Node) core.Invokable { return conditionNode{} })

	r.Register("string", core.NodeTypeMeta{
		Inputs:  []core.InputPort{{Name: "value", Type: "string", Required: true}},
		Outputs: []core.OutputPort{{Name: "value", Type: "string"}},
	}, func(core.Node) core.Invokable { return stringNode{} })

	return r
}

func binaryMeta() core.NodeTypeMeta {
	return core.NodeTypeMeta{
		Inputs: []core.InputPort{
			{Name: "a", Type: "number", Required: true},
			{Name: "b", Type: "number", Required: true},
		},
		Outputs: []core.OutputPort{{Name: "result", Type: "number"}},
	}
}

// numberNode emits its configured value unchanged. It exists so a
// workflow can seed a constant into the graph as a first-class node
// rather than relying on input port defaults alone.
type numberNode struct{}

func (numberNode) Meta() core.NodeTypeMeta {
	return core.NodeTypeMeta{
		Inputs:  []core.InputPort{{Name: "value", Type: "number", Required: true}},
		Outputs: []core.OutputPort{{Name: "value", Type: "number"}},
	}
}

func (numberNode) Execute(ic *core.InvocationContext) (core.InvocationResult, error) {
	return core.InvocationResult{Status: "completed", Outputs: map[string]any{"value": ic.Inputs["value"]}}, nil
}

// stringNode emits its configured value unchanged.
type stringNode struct{}

func (stringNode) Meta() core.NodeTypeMeta {
	return core.NodeTypeMeta{
		Inputs:  []core.InputPort{{Name: "value", Type: "string", Required: true}},
		Outputs: []core.OutputPort{{Name: "value", Type: "string"}},
	}
}

func (stringNode) Execute(ic *core.InvocationContext) (core.InvocationResult, error) {
	return core.InvocationResult{Status: "completed", Outputs: map[string]any{"value": ic.Inputs["value"]}}, nil
}

// arithmeticNode implements add/subtract/multiply/divide over float64
// inputs "a" and "b", emitting "result".
type arithmeticNode struct {
	op string
}

func (arithmeticNode) Meta() core.NodeTypeMeta { return binaryMeta() }

func (n arithmeticNode) Execute(ic *core.InvocationContext) (core.InvocationResult, error) {
	a, err := asFloat(ic.Inputs["a"])
	if err != nil {
		return core.InvocationResult{Status: "error", Error: fmt.Sprintf("input 'a': %s", err)}, nil
	}
	b, err := asFloat(ic.Inputs["b"])
	if err != nil {
		return core.InvocationResult{Status: "error", Error: fmt.Sprintf("input 'b': %s", err)}, nil
	}

	var result float64
	switch n.op {
	case "add":
		result = a + b
	case "subtract":
		result = a - b
	case "multiply":
		result = a * b
	case "divide":
		if b == 0 {
			return core.InvocationResult{Status: "error", Error: "division by zero"}, nil
		}
		result = a / b
	default:
		return core.InvocationResult{Status: "error", Error: fmt.Sprintf("unknown operation %q", n.op)}, nil
	}

	return core.InvocationResult{Status: "completed", Outputs: map[string]any{"result": result}}, nil
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case nil:
		return 0, fmt.Errorf("required input missing")
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}

// conditionNode evaluates its "input" as a boolean and emits it on
// exactly one of its two output ports, leaving the other port absent so
// Skip Resolver classifies the unreached branch as conditional_branch.
type conditionNode struct{}

func (conditionNode) Meta() core.NodeTypeMeta {
	return core.NodeTypeMeta{
		Inputs:  []core.InputPort{{Name: "input", Type: "any", Required: true}},
		Outputs: []core.OutputPort{{Name: "true", Type: "any"}, {Name: "false", Type: "any"}},
	}
}

func (conditionNode) Execute(ic *core.InvocationContext) (core.InvocationResult, error) {
	if truthy(ic.Inputs["input"]) {
		return core.InvocationResult{Status: "completed", Outputs: map[string]any{"true": ic.Inputs["input"]}}, nil
	}
	return core.InvocationResult{Status: "completed", Outputs: map[string]any{"false": ic.Inputs["input"]}}, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		return t != ""
	default:
		return v != nil
	}
}

var (
	_ core.Invokable = numberNode{}
	_ core.Invokable = stringNode{}
	_ core.Invokable = arithmeticNode{}
	_ core.Invokable = conditionNode{}
)
