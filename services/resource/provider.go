// Package resource implements core.ResourceProvider: it preloads an
// organization's secrets and integration handles once per execution and
// hands out lazy getSecret/getIntegration closures over that snapshot.
//
// Construction is two-phase to resolve the Coordinator/ResourceProvider/
// ToolRegistry cycle described by the engine's design notes: tools are
// themselves invokable nodes, and an invokable node's context needs a
// ResourceProvider, but building a ToolRegistry of invokable tool nodes
// needs a ResourceProvider to invoke them through. New returns a
// Provider with no ToolRegistry; the caller builds the registry
// afterward (it may capture the Provider in its invocation closures) and
// assigns it back via SetToolRegistry before the first execution runs.
package resource

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coordinatord/flowcore/services/core"
)

// Provider is a Postgres-backed core.ResourceProvider.
type Provider struct {
	DB *pgxpool.Pool

	mu           sync.RWMutex
	tools        core.ToolRegistry
	secrets      map[string]string
	integrations map[string]any
}

// New constructs a Provider with no preloaded state and no ToolRegistry.
// Call SetToolRegistry before running any workflow.
func New(db *pgxpool.Pool) *Provider {
	return &Provider{DB: db}
}

// SetToolRegistry completes two-phase construction by assigning the
// ToolRegistry built against this Provider.
func (p *Provider) SetToolRegistry(tools core.ToolRegistry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tools = tools
}

// Initialize loads orgID's secrets and integrations once, so every node
// invocation in the workflow instance reads from memory instead of
// issuing its own query.
func (p *Provider) Initialize(ctx context.Context, orgID string) error {
	secrets := make(map[string]string)
	rows, err := p.DB.Query(ctx, `SELECT name, value FROM organization_secrets WHERE organization_id = $1`, orgID)
	if err != nil {
		return fmt.Errorf("resource provider: load secrets: %w", err)
	}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			rows.Close()
			return fmt.Errorf("resource provider: scan secret: %w", err)
		}
		secrets[name] = value
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("resource provider: secrets rows: %w", err)
	}

	integrations := make(map[string]any)
	intRows, err := p.DB.Query(ctx, `SELECT id, config FROM organization_integrations WHERE organization_id = $1`, orgID)
	if err != nil {
		return fmt.Errorf("resource provider: load integrations: %w", err)
	}
	for intRows.Next() {
		var id string
		var config []byte
		if err := intRows.Scan(&id, &config); err != nil {
			intRows.Close()
			return fmt.Errorf("resource provider: scan integration: %w", err)
		}
		integrations[id] = config
	}
	intRows.Close()
	if err := intRows.Err(); err != nil {
		return fmt.Errorf("resource provider: integrations rows: %w", err)
	}

	p.mu.Lock()
	p.secrets = secrets
	p.integrations = integrations
	p.mu.Unlock()
	return nil
}

// CreateNodeContext builds an InvocationContext whose GetSecret and
// GetIntegration read the snapshot Initialize loaded. Both closures are
// read-only after Initialize, so they're safe to call concurrently from
// every node invocation in a level.
func (p *Provider) CreateNodeContext(ctx context.Context, nodeID, workflowID, orgID string, inputs map[string]any, trigger core.TriggerPayload, deploymentID string) (*core.InvocationContext, error) {
	p.mu.RLock()
	secrets, integrations, tools := p.secrets, p.integrations, p.tools
	p.mu.RUnlock()

	getSecret := func(name string) (string, error) {
		v, ok := secrets[name]
		if !ok {
			return "", fmt.Errorf("secret %q not found for organization", name)
		}
		return v, nil
	}
	getIntegration := func(id string) (any, error) {
		v, ok := integrations[id]
		if !ok {
			return nil, fmt.Errorf("integration %q not found for organization", id)
		}
		return v, nil
	}

	return core.NewInvocationContext(ctx, nodeID, workflowID, orgID, "", inputs, trigger, getSecret, getIntegration, tools), nil
}

var _ core.ResourceProvider = (*Provider)(nil)
