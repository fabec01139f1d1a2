package core

import "context"

// NodeTypeMeta describes a registered node type's ports and policy
// flags, independent of any particular node instance in a workflow.
type NodeTypeMeta struct {
	Inputs       []InputPort
	Outputs      []OutputPort
	Usage        int // default 1 if zero
	Subscription bool
}

// InvocationResult is what an Invokable returns from Execute.
type InvocationResult struct {
	Status  string // "completed" or "error"
	Outputs map[string]any
	Error   string
	Usage   int // 0 means "use NodeTypeMeta.Usage default"
}

// InvocationContext is what an Invokable's Execute receives: its decoded
// inputs plus lazy access to secrets, integrations, other invokable node
// types, and the triggering payload.
type InvocationContext struct {
	ctx            context.Context
	NodeID         string
	WorkflowID     string
	OrganizationID string
	ExecutionID    string
	Inputs         map[string]any
	Trigger        TriggerPayload
	GetSecret      func(name string) (string, error)
	GetIntegration func(id string) (any, error)
	Tools          ToolRegistry
}

// Context returns the underlying cancellation/deadline context.
func (c *InvocationContext) Context() context.Context { return c.ctx }

// NewInvocationContext builds an InvocationContext. It is the only way
// to set the unexported deadline/cancellation context, so a
// ResourceProvider implementation outside this package must go through
// it rather than constructing the struct literal directly.
func NewInvocationContext(
	ctx context.Context,
	nodeID, workflowID, orgID, executionID string,
	inputs map[string]any,
	trigger TriggerPayload,
	getSecret func(name string) (string, error),
	getIntegration func(id string) (any, error),
	tools ToolRegistry,
) *InvocationContext {
	return &InvocationContext{
		ctx:            ctx,
		NodeID:         nodeID,
		WorkflowID:     workflowID,
		OrganizationID: orgID,
		ExecutionID:    executionID,
		Inputs:         inputs,
		Trigger:        trigger,
		GetSecret:      getSecret,
		GetIntegration: getIntegration,
		Tools:          tools,
	}
}

// ToolRegistry is a read-only catalogue of other invokable node types,
// exposed to a node's Execute so it can itself invoke tools (e.g. an
// AI-agent node choosing among registered tool nodes).
type ToolRegistry interface {
	ListTools() []string
	InvokeTool(ctx context.Context, toolType string, inputs map[string]any) (InvocationResult, error)
}

// Invokable is the narrow interface every node type implements. The core
// never type-switches on node kind; it only calls this interface.
type Invokable interface {
	Meta() NodeTypeMeta
	Execute(ic *InvocationContext) (InvocationResult, error)
}

// NodeRegistry resolves a node type name to its metadata and a fresh
// Invokable instance.
type NodeRegistry interface {
	GetNodeType(nodeType string) (NodeTypeMeta, bool)
	CreateExecutable(node Node) (Invokable, bool)
}

// MapRegistry is a simple in-memory NodeRegistry keyed by node type name.
type MapRegistry struct {
	factories map[string]func(Node) Invokable
	meta      map[string]NodeTypeMeta
}

// NewMapRegistry returns an empty registry ready for Register calls.
func NewMapRegistry() *MapRegistry {
	return &MapRegistry{
		factories: make(map[string]func(Node) Invokable),
		meta:      make(map[string]NodeTypeMeta),
	}
}

// Register adds a node type, its metadata, and a factory that builds a
// fresh Invokable instance per node in the workflow.
func (r *MapRegistry) Register(nodeType string, meta NodeTypeMeta, factory func(Node) Invokable) {
	r.meta[nodeType] = meta
	r.factories[nodeType] = factory
}

func (r *MapRegistry) GetNodeType(nodeType string) (NodeTypeMeta, bool) {
	m, ok := r.meta[nodeType]
	return m, ok
}

func (r *MapRegistry) CreateExecutable(node Node) (Invokable, bool) {
	factory, ok := r.factories[node.Type]
	if !ok {
		return nil, false
	}
	return factory(node), true
}
