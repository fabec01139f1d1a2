// Package durable implements core.DurableStep against Postgres: each
// named step of an execution is memoized in a cache table keyed by
// (execution_id, name), so replaying a crashed execution skips every
// step that already completed instead of re-running its side effects.
package durable

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coordinatord/flowcore/services/core"
)

func init() {
	// Register every concrete type a Step closure in services/core may
	// return, so gob can round-trip them through the interface{} (any)
	// envelope below.
	gob.Register(core.InvokeOutcome{})
	gob.Register(core.ExecutionRecord{})
	// Node output values inside those records are themselves held in
	// any-typed maps: register the non-basic runtime value shapes too.
	gob.Register([]any{})
	gob.Register(map[string]any{})
	gob.Register(core.BlobHandle{})
}

// envelope wraps the any a step produced so gob can encode it: gob
// requires the dynamic type behind an interface field to be registered,
// and treats a nil interface value specially (IsNil below), so Nil is
// tracked out of band instead of relying on V being the zero value.
type envelope struct {
	Nil bool
	V   any
}

// Store is a Postgres-backed core.DurableStep.
type Store struct {
	DB      *pgxpool.Pool
	Metrics *core.Metrics
}

// New constructs a Store. db must be non-nil.
func New(db *pgxpool.Pool, metrics *core.Metrics) *Store {
	return &Store{DB: db, Metrics: metrics}
}

// Step looks up (executionID, name) in the cache table. On a hit, it
// decodes and returns the cached result without calling fn again. On a
// miss, it calls fn, and — only if fn succeeds — persists the result
// before returning it. A failing fn is never cached, so the step is
// retried the next time this execution resumes. fn runs under a
// 10-minute per-step deadline.
func (s *Store) Step(ctx context.Context, executionID, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	cached, found, err := s.lookup(ctx, executionID, name)
	if err != nil {
		return nil, fmt.Errorf("durable step %q: lookup: %w", name, err)
	}
	if found {
		s.Metrics.ObserveStepCache(true)
		return cached, nil
	}
	s.Metrics.ObserveStepCache(false)

	stepCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()
	result, err := fn(stepCtx)
	if err != nil {
		return nil, err
	}
	if err := s.store(ctx, executionID, name, result); err != nil {
		return nil, fmt.Errorf("durable step %q: persist: %w", name, err)
	}
	return result, nil
}

func (s *Store) lookup(ctx context.Context, executionID, name string) (any, bool, error) {
	var blob []byte
	err := s.DB.QueryRow(ctx, `
        SELECT result_gob FROM durable_steps WHERE execution_id = $1 AND name = $2`,
		executionID, name).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&env); err != nil {
		return nil, false, fmt.Errorf("decode cached result: %w", err)
	}
	if env.Nil {
		return nil, true, nil
	}
	return env.V, true, nil
}

func (s *Store) store(ctx context.Context, executionID, name string, result any) error {
	env := envelope{Nil: result == nil, V: result}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	_, err := s.DB.Exec(ctx, `
        INSERT INTO durable_steps (execution_id, name, result_gob)
        VALUES ($1, $2, $3)
        ON CONFLICT (execution_id, name) DO NOTHING`,
		executionID, name, buf.Bytes())
	return err
}

var _ core.DurableStep = (*Store)(nil)
