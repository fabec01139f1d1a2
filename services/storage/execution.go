package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/coordinatord/flowcore/services/core"
)

// SaveExecution persists an ExecutionRecord in a single READ COMMITTED
// transaction: upsert the header, then delete-and-reinsert every node
// execution row. Save is idempotent by record id — calling it twice with
// the same id for a finished record replaces rather than duplicates it,
// which is what lets the Coordinator's final persist step run again
// safely after a crash-and-resume.
func (s *Store) SaveExecution(ctx context.Context, record core.ExecutionRecord) (core.ExecutionRecord, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := s.DB.BeginTx(timeoutCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return core.ExecutionRecord{}, fmt.Errorf("begin transaction for save execution: %w", err)
	}
	defer tx.Rollback(timeoutCtx)

	_, err = tx.Exec(timeoutCtx, `
        INSERT INTO execution_records (id, workflow_id, deployment_id, user_id, organization_id, status, error, started_at, ended_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            error = EXCLUDED.error,
            ended_at = EXCLUDED.ended_at`,
		record.ID, record.WorkflowID, record.DeploymentID, record.UserID, record.OrganizationID,
		string(record.Status), record.Error, record.StartedAt, record.EndedAt)
	if err != nil {
		return core.ExecutionRecord{}, fmt.Errorf("upsert execution header: %w", err)
	}

	_, err = tx.Exec(timeoutCtx, `DELETE FROM node_executions WHERE execution_id = $1`, record.ID)
	if err != nil {
		return core.ExecutionRecord{}, fmt.Errorf("clear node executions: %w", err)
	}

	for _, ne := range record.NodeExecutions {
		outputsJSON, err := json.Marshal(ne.Outputs)
		if err != nil {
			return core.ExecutionRecord{}, fmt.Errorf("marshal outputs for node %s: %w", ne.NodeID, err)
		}
		blockedByJSON, err := json.Marshal(ne.BlockedBy)
		if err != nil {
			return core.ExecutionRecord{}, fmt.Errorf("marshal blockedBy for node %s: %w", ne.NodeID, err)
		}
		_, err = tx.Exec(timeoutCtx, `
            INSERT INTO node_executions (execution_id, node_id, status, outputs, error, skip_reason, blocked_by, usage)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			record.ID, ne.NodeID, ne.Status, outputsJSON, ne.Error, string(ne.SkipReason), blockedByJSON, ne.Usage)
		if err != nil {
			return core.ExecutionRecord{}, fmt.Errorf("insert node execution %s: %w", ne.NodeID, err)
		}
	}

	if err := tx.Commit(timeoutCtx); err != nil {
		return core.ExecutionRecord{}, fmt.Errorf("commit save execution: %w", err)
	}
	return record, nil
}

// GetExecution reads back a previously saved execution record, including
// its per-node rows, ordered by node id for a stable response shape.
func (s *Store) GetExecution(ctx context.Context, id string) (core.ExecutionRecord, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var record core.ExecutionRecord
	var status string
	err := s.DB.QueryRow(timeoutCtx, `
        SELECT id, workflow_id, deployment_id, user_id, organization_id, status, error, started_at, ended_at
        FROM execution_records WHERE id = $1`, id).Scan(
		&record.ID, &record.WorkflowID, &record.DeploymentID, &record.UserID, &record.OrganizationID,
		&status, &record.Error, &record.StartedAt, &record.EndedAt)
	if err != nil {
		return core.ExecutionRecord{}, err
	}
	record.Status = core.Status(status)

	rows, err := s.DB.Query(timeoutCtx, `
        SELECT node_id, status, outputs, error, skip_reason, blocked_by, usage
        FROM node_executions WHERE execution_id = $1 ORDER BY node_id`, id)
	if err != nil {
		return core.ExecutionRecord{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var ne core.NodeExecutionRecord
		var outputsJSON, blockedByJSON json.RawMessage
		var skipReason string
		if err := rows.Scan(&ne.NodeID, &ne.Status, &outputsJSON, &ne.Error, &skipReason, &blockedByJSON, &ne.Usage); err != nil {
			return core.ExecutionRecord{}, err
		}
		ne.SkipReason = core.SkipReason(skipReason)
		if len(outputsJSON) > 0 {
			if err := json.Unmarshal(outputsJSON, &ne.Outputs); err != nil {
				return core.ExecutionRecord{}, fmt.Errorf("unmarshal outputs for node %s: %w", ne.NodeID, err)
			}
		}
		if len(blockedByJSON) > 0 {
			if err := json.Unmarshal(blockedByJSON, &ne.BlockedBy); err != nil {
				return core.ExecutionRecord{}, fmt.Errorf("unmarshal blockedBy for node %s: %w", ne.NodeID, err)
			}
		}
		record.NodeExecutions = append(record.NodeExecutions, ne)
	}
	return record, rows.Err()
}

// ExecutionStore adapts Store's method names to core.ExecutionStore's
// single-method shape.
type ExecutionStore struct{ *Store }

// Save implements core.ExecutionStore.
func (e ExecutionStore) Save(ctx context.Context, record core.ExecutionRecord) (core.ExecutionRecord, error) {
	return e.Store.SaveExecution(ctx, record)
}

var _ core.ExecutionStore = ExecutionStore{}
