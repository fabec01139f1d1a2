// Package credit implements the core.CreditGate collaborator backed by
// Redis: an atomic usage ledger per organization, checked before a
// workflow instance starts and topped up once it finishes.
package credit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/coordinatord/flowcore/services/core"
)

// Gate is a Redis-backed core.CreditGate. Usage is tracked as a simple
// integer counter per organization that is never reset; a workflow may
// run if its estimated usage plus what the org has already spent stays
// within Budget (ten times Budget when the caller's plan is "pro").
type Gate struct {
	Client *redis.Client
	Budget int
}

// NewGate constructs a Gate against an already-connected Redis client.
func NewGate(client *redis.Client, budget int) *Gate {
	return &Gate{Client: client, Budget: budget}
}

func usageKey(orgID string) string {
	return fmt.Sprintf("flowcore:usage:%s", orgID)
}

// HasEnoughCredits reports whether orgID can afford estimatedUsage on
// top of what it has already spent.
func (g *Gate) HasEnoughCredits(ctx context.Context, orgID string, estimatedUsage int, callerPlan string) (bool, error) {
	spent, err := g.Client.Get(ctx, usageKey(orgID)).Int()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("credit gate: read usage: %w", err)
	}

	limit := g.Budget
	if callerPlan == "pro" {
		limit = g.Budget * 10
	}
	return spent+estimatedUsage <= limit, nil
}

// RecordUsage atomically adds actualUsage to orgID's running total.
func (g *Gate) RecordUsage(ctx context.Context, orgID string, actualUsage int) error {
	if actualUsage <= 0 {
		return nil
	}
	if err := g.Client.IncrBy(ctx, usageKey(orgID), int64(actualUsage)).Err(); err != nil {
		return fmt.Errorf("credit gate: record usage: %w", err)
	}
	return nil
}

var _ core.CreditGate = (*Gate)(nil)
