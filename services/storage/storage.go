package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coordinatord/flowcore/services/core"
)

// DB abstracts the database operations used by the storage layer.
// Satisfied by *pgxpool.Pool in production and pgxmock in tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// querier is satisfied by both pgx.Tx and pgxpool.Pool, allowing
// hydration helpers to work inside or outside transactions.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres-backed implementation of the core engine's
// WorkflowStore and ExecutionStore collaborators.
type Store struct {
	DB DB
}

// New constructs a Store over an already-connected pool.
func New(db *pgxpool.Pool) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("storage: db connection cannot be nil")
	}
	return &Store{DB: db}, nil
}

// hydrateNodes fetches workflow nodes by joining node instances with
// library blueprints, decoding each blueprint's declared ports.
func hydrateNodes(ctx context.Context, q querier, workflowID string) ([]core.Node, error) {
	rows, err := q.Query(ctx, `
        SELECT
            i.instance_id,
            l.node_type,
            l.ports
        FROM workflow_node_instances i
        JOIN node_library l ON i.node_library_id = l.id
        WHERE i.workflow_id = $1 AND l.deleted_at IS NULL`,
		workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []core.Node
	for rows.Next() {
		var row nodeRow
		if err := rows.Scan(&row.InstanceID, &row.NodeType, &row.Ports); err != nil {
			return nil, err
		}
		node, err := decodeNode(row)
		if err != nil {
			return nil, fmt.Errorf("decode node %s: %w", row.InstanceID, err)
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

func decodeNode(row nodeRow) (core.Node, error) {
	var decl portDecl
	if len(row.Ports) > 0 {
		if err := json.Unmarshal(row.Ports, &decl); err != nil {
			return core.Node{}, err
		}
	}

	node := core.Node{ID: row.InstanceID, Type: row.NodeType}
	for _, p := range decl.Inputs {
		node.Inputs = append(node.Inputs, core.InputPort{
			Name: p.Name, Type: p.Type, Default: p.Default, Required: p.Required, Repeated: p.Repeated,
		})
	}
	for _, p := range decl.Outputs {
		node.Outputs = append(node.Outputs, core.OutputPort{Name: p.Name, Type: p.Type, Repeated: p.Repeated})
	}
	return node, nil
}

// hydrateEdges fetches workflow edges between node instances.
func hydrateEdges(ctx context.Context, q querier, workflowID string) ([]core.Edge, error) {
	rows, err := q.Query(ctx, `
        SELECT edge_id, source_instance_id, target_instance_id, source_handle, target_handle
        FROM workflow_edges
        WHERE workflow_id = $1`,
		workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []core.Edge
	for rows.Next() {
		var e edgeRow
		if err := rows.Scan(&e.ID, &e.Source, &e.Target, &e.SourceHandle, &e.TargetHandle); err != nil {
			return nil, err
		}
		edges = append(edges, core.Edge{
			Source:       e.Source,
			SourceOutput: e.SourceHandle,
			Target:       e.Target,
			TargetInput:  e.TargetHandle,
		})
	}
	return edges, rows.Err()
}

// GetWorkflow hydrates a core.Workflow by joining three tables:
// workflows (the container), workflow_node_instances + node_library
// (canvas instances joined with reusable blueprints carrying port
// declarations), and workflow_edges (directed connections). The three
// SELECTs run inside a read-only transaction so they see one consistent
// snapshot.
func (s *Store) GetWorkflow(ctx context.Context, id string) (core.Workflow, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.DB.BeginTx(timeoutCtx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return core.Workflow{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(timeoutCtx)

	var name string
	if err := tx.QueryRow(timeoutCtx, `
        SELECT name FROM workflows WHERE id = $1 AND deleted_at IS NULL`, id).Scan(&name); err != nil {
		return core.Workflow{}, err
	}

	nodes, err := hydrateNodes(timeoutCtx, tx, id)
	if err != nil {
		return core.Workflow{}, err
	}
	edges, err := hydrateEdges(timeoutCtx, tx, id)
	if err != nil {
		return core.Workflow{}, err
	}

	return core.Workflow{ID: id, Nodes: nodes, Edges: edges}, tx.Commit(timeoutCtx)
}
