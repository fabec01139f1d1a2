// Package objectstore implements core.ObjectStore against Postgres: blob
// content is addressed by its SHA-256 digest, so identical payloads
// written by different nodes (or retried invocations) share one row.
package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coordinatord/flowcore/services/core"
)

// Store is a Postgres-backed core.ObjectStore.
type Store struct {
	DB *pgxpool.Pool
}

// New constructs a Store over an already-connected pool.
func New(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

// WriteObject stores data content-addressed by its SHA-256 digest and
// returns a handle by which ReadObject can retrieve it. Writing the same
// bytes twice is a no-op on the second write (ON CONFLICT DO NOTHING):
// the handle is deterministic, so callers don't need their own
// dedup logic.
func (s *Store) WriteObject(ctx context.Context, data []byte, mimeType, orgID, execID string) (core.BlobHandle, error) {
	sum := sha256.Sum256(data)
	id := hex.EncodeToString(sum[:])

	_, err := s.DB.Exec(ctx, `
        INSERT INTO object_store (id, organization_id, execution_id, mime_type, data)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO NOTHING`,
		id, orgID, execID, mimeType, data)
	if err != nil {
		return core.BlobHandle{}, fmt.Errorf("objectstore: write: %w", err)
	}

	return core.BlobHandle{ID: id, MimeType: mimeType}, nil
}

// ReadObject fetches the bytes behind a handle previously returned by
// WriteObject.
func (s *Store) ReadObject(ctx context.Context, handle core.BlobHandle) ([]byte, error) {
	var data []byte
	err := s.DB.QueryRow(ctx, `SELECT data FROM object_store WHERE id = $1`, handle.ID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("objectstore: object %s not found", handle.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("objectstore: read: %w", err)
	}
	return data, nil
}

var _ core.ObjectStore = (*Store)(nil)
