package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/sony/gobreaker"
)

// IsAllowed decides whether callerPlan satisfies a node type's
// subscription gate. Left as a pluggable predicate: the exact plan
// taxonomy is application policy, not part of this core.
type IsAllowed func(nodeType, callerPlan string) bool

// AllowAll is the permissive default IsAllowed predicate.
func AllowAll(string, string) bool { return true }

// Invoker resolves a node type, builds its invocation context, runs it
// behind a per-node-type circuit breaker, and classifies the result.
type Invoker struct {
	Registry  NodeRegistry
	Resources ResourceProvider
	Codec     *Codec
	IsAllowed IsAllowed

	mu       sync.Mutex // guards breakers; Invoke runs concurrently within a level
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewInvoker constructs an Invoker. IsAllowed defaults to AllowAll if nil.
func NewInvoker(registry NodeRegistry, resources ResourceProvider, codec *Codec, isAllowed IsAllowed) *Invoker {
	if isAllowed == nil {
		isAllowed = AllowAll
	}
	return &Invoker{
		Registry:  registry,
		Resources: resources,
		Codec:     codec,
		IsAllowed: isAllowed,
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
}

// InvokeOutcome is the self-contained result of one node invocation,
// produced without mutating any shared state.
type InvokeOutcome struct {
	NodeID  string
	Status  string // "completed", "error", or "skipped"
	Outputs NodeRuntimeValues
	Error   string
	Usage   int
	Skip    SkippedInfo // populated only when Status == "skipped"
}

// Invoke resolves nodeID's type, gates it on subscription and decode
// errors, runs it, and encodes its outputs. It never panics out to the
// caller: any error from resolution, decode, execute, or encode becomes
// an InvokeOutcome with Status "error".
func (inv *Invoker) Invoke(ctx context.Context, wf Workflow, nodeID string, processedInputs NodeRuntimeValues, ectx ExecutionContext) InvokeOutcome {
	var node *Node
	for i := range wf.Nodes {
		if wf.Nodes[i].ID == nodeID {
			node = &wf.Nodes[i]
			break
		}
	}
	if node == nil {
		return InvokeOutcome{NodeID: nodeID, Status: "error", Error: "node not found", Usage: 1}
	}

	meta, ok := inv.Registry.GetNodeType(node.Type)
	if !ok {
		return InvokeOutcome{NodeID: nodeID, Status: "error", Error: "node type not implemented", Usage: 1}
	}

	if meta.Subscription && !inv.IsAllowed(node.Type, ectx.CallerPlan) {
		return InvokeOutcome{NodeID: nodeID, Status: "error", Error: "subscription required", Usage: usageOf(meta)}
	}

	decoded, err := inv.decodeInputs(ctx, *node, processedInputs, ectx)
	if err != nil {
		return InvokeOutcome{NodeID: nodeID, Status: "error", Error: err.Error(), Usage: usageOf(meta)}
	}

	executable, ok := inv.Registry.CreateExecutable(*node)
	if !ok {
		return InvokeOutcome{NodeID: nodeID, Status: "error", Error: "node type not implemented", Usage: usageOf(meta)}
	}

	ic, err := inv.Resources.CreateNodeContext(ctx, nodeID, ectx.WorkflowID, ectx.OrganizationID, decoded, ectx.Trigger, ectx.DeploymentID)
	if err != nil {
		return InvokeOutcome{NodeID: nodeID, Status: "error", Error: fmt.Sprintf("resource provider: %s", err.Error()), Usage: usageOf(meta)}
	}
	ic.ctx = ctx
	ic.ExecutionID = ectx.ExecutionID

	result, execErr := inv.runGuarded(node.Type, executable, ic)
	if execErr != nil {
		return InvokeOutcome{NodeID: nodeID, Status: "error", Error: execErr.Error(), Usage: usageOf(meta)}
	}

	usage := result.Usage
	if usage == 0 {
		usage = usageOf(meta)
	}

	if result.Status == "error" {
		return InvokeOutcome{NodeID: nodeID, Status: "error", Error: result.Error, Usage: usage}
	}

	outputs, err := inv.encodeOutputs(ctx, *node, result.Outputs, ectx)
	if err != nil {
		return InvokeOutcome{NodeID: nodeID, Status: "error", Error: err.Error(), Usage: usage}
	}

	return InvokeOutcome{NodeID: nodeID, Status: "completed", Outputs: outputs, Usage: usage}
}

// runGuarded executes the node behind a circuit breaker keyed by node
// type, isolating a persistently-failing integration so the rest of the
// workflow graph fails fast on later levels instead of repeating a dead
// call. A thrown panic from node code is recovered and treated as error.
func (inv *Invoker) runGuarded(nodeType string, executable Invokable, ic *InvocationContext) (result InvocationResult, err error) {
	breaker := inv.breakerFor(nodeType)

	raw, breakerErr := breaker.Execute(func() (any, error) {
		return inv.runRecovered(executable, ic)
	})
	if breakerErr != nil {
		return InvocationResult{}, breakerErr
	}
	return raw.(InvocationResult), nil
}

func (inv *Invoker) runRecovered(executable Invokable, ic *InvocationContext) (result InvocationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node execution panicked: %v", r)
		}
	}()
	result, err = executable.Execute(ic)
	if err != nil {
		return InvocationResult{}, err
	}
	if result.Status == "" {
		result.Status = "completed"
	}
	return result, nil
}

func (inv *Invoker) breakerFor(nodeType string) *gobreaker.CircuitBreaker {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if b, ok := inv.breakers[nodeType]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "node:" + nodeType,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	inv.breakers[nodeType] = b
	return b
}

func (inv *Invoker) decodeInputs(ctx context.Context, node Node, processed NodeRuntimeValues, ectx ExecutionContext) (map[string]any, error) {
	out := make(map[string]any, len(processed))
	for _, in := range node.Inputs {
		v, ok := processed[in.Name]
		if !ok || v == nil {
			continue
		}
		decoded, err := inv.Codec.Decode(ctx, in.Type, v, in.Repeated)
		if err != nil {
			return nil, fmt.Errorf("decode input %q: %w", in.Name, err)
		}
		if decoded == nil {
			continue
		}
		out[in.Name] = decoded
	}
	return out, nil
}

func (inv *Invoker) encodeOutputs(ctx context.Context, node Node, raw map[string]any, ectx ExecutionContext) (NodeRuntimeValues, error) {
	out := make(NodeRuntimeValues, len(raw))
	for _, outPort := range node.Outputs {
		v, ok := raw[outPort.Name]
		if !ok || v == nil {
			continue // absent output: conditional branch, not an error
		}
		encoded, err := inv.Codec.Encode(ctx, outPort.Type, v, ectx.OrganizationID, ectx.ExecutionID, outPort.Repeated)
		if err != nil {
			return nil, fmt.Errorf("encode output %q: %w", outPort.Name, err)
		}
		if encoded == nil {
			continue
		}
		out[outPort.Name] = encoded
	}
	return out, nil
}

func usageOf(meta NodeTypeMeta) int {
	if meta.Usage <= 0 {
		return 1
	}
	return meta.Usage
}
