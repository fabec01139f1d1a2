package core

import "context"

// ResourceProvider is the external collaborator that resolves
// credentials and integration handles for a node invocation. It is
// initialized once per organization before a workflow instance's level
// loop begins.
type ResourceProvider interface {
	Initialize(ctx context.Context, orgID string) error
	CreateNodeContext(ctx context.Context, nodeID, workflowID, orgID string, inputs map[string]any, trigger TriggerPayload, deploymentID string) (*InvocationContext, error)
}
