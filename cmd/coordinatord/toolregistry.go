package main

import (
	"context"
	"fmt"

	"github.com/coordinatord/flowcore/services/core"
)

// builtinToolRegistry exposes the same node types the NodeRegistry runs
// as workflow nodes as invocable tools, so an AI-agent-style node can
// call them directly through InvocationContext.Tools. It closes the
// Coordinator/ResourceProvider/ToolRegistry cycle: it's built after the
// ResourceProvider exists and captures it, then is assigned back onto
// the provider via SetToolRegistry.
type builtinToolRegistry struct {
	registry  core.NodeRegistry
	resources *toolResourceFactory
}

// toolResourceFactory lets tool invocations build a minimal
// InvocationContext without routing through the Coordinator's level
// executor — a tool call is a synchronous, one-off invocation, not a
// durable step of the current execution.
type toolResourceFactory struct {
	resources core.ResourceProvider
}

func newToolRegistry(registry core.NodeRegistry, resources core.ResourceProvider) *builtinToolRegistry {
	return &builtinToolRegistry{registry: registry, resources: &toolResourceFactory{resources: resources}}
}

func (t *builtinToolRegistry) ListTools() []string {
	// Only the arithmetic/control node types double as tools; domain
	// integrations are registered by the embedding application as plain
	// workflow nodes, not tools.
	return []string{"add", "subtract", "multiply", "divide", "condition"}
}

func (t *builtinToolRegistry) InvokeTool(ctx context.Context, toolType string, inputs map[string]any) (core.InvocationResult, error) {
	executable, ok := t.registry.CreateExecutable(core.Node{ID: "tool:" + toolType, Type: toolType})
	if !ok {
		return core.InvocationResult{}, fmt.Errorf("tool %q is not registered", toolType)
	}

	ic, err := t.resources.resources.CreateNodeContext(ctx, "tool:"+toolType, "", "", inputs, core.TriggerPayload{}, "")
	if err != nil {
		return core.InvocationResult{}, fmt.Errorf("tool %q: build invocation context: %w", toolType, err)
	}

	return executable.Execute(ic)
}

var _ core.ToolRegistry = (*builtinToolRegistry)(nil)
