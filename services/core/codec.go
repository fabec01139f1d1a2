package core

import "context"

// binaryTypes are the declared parameter types whose values transit the
// ObjectStore rather than round-tripping their JSON payload unchanged.
var binaryTypes = map[string]bool{
	"image":    true,
	"audio":    true,
	"document": true,
	"binary":   true,
}

// ObjectStore is the external collaborator for binary parameter values.
// Writes are id-addressed and idempotent; reads never mutate content.
type ObjectStore interface {
	WriteObject(ctx context.Context, data []byte, mimeType, orgID, execID string) (BlobHandle, error)
	ReadObject(ctx context.Context, handle BlobHandle) ([]byte, error)
}

// Codec converts between wire-format RuntimeValues and node-facing
// values, dereferencing blob handles for binary-bearing parameter types.
type Codec struct {
	Objects ObjectStore
}

// Decode converts a single RuntimeValue into its node-facing form ahead
// of invocation. Unknown parameter types default to "string" semantics
// (pass the JSON value through unchanged). Repeated parameters decode
// element by element.
func (c *Codec) Decode(ctx context.Context, paramType string, value any, repeated bool) (any, error) {
	if value == nil {
		return nil, nil
	}
	if repeated {
		items, ok := value.([]any)
		if !ok {
			items = []any{value}
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := c.decodeOne(ctx, paramType, item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	return c.decodeOne(ctx, paramType, value)
}

func (c *Codec) decodeOne(ctx context.Context, paramType string, value any) (any, error) {
	if !binaryTypes[paramType] {
		return value, nil
	}
	handle, err := asBlobHandle(value)
	if err != nil {
		return nil, err
	}
	return c.Objects.ReadObject(ctx, handle)
}

// Encode converts a node-facing value produced by a completed node's
// outputs into its wire-format RuntimeValue. Secret-typed parameters are
// encoded as plain strings: the secret was already resolved upstream via
// ResourceProvider, there is nothing left to re-protect here.
func (c *Codec) Encode(ctx context.Context, paramType string, value any, orgID, execID string, repeated bool) (any, error) {
	if value == nil {
		return nil, nil
	}
	if repeated {
		items, ok := value.([]any)
		if !ok {
			items = []any{value}
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := c.encodeOne(ctx, paramType, item, orgID, execID)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	return c.encodeOne(ctx, paramType, value, orgID, execID)
}

func (c *Codec) encodeOne(ctx context.Context, paramType string, value any, orgID, execID string) (any, error) {
	if !binaryTypes[paramType] {
		return value, nil
	}
	data, mime, err := asBinaryPayload(value)
	if err != nil {
		return nil, err
	}
	handle, err := c.Objects.WriteObject(ctx, data, mime, orgID, execID)
	if err != nil {
		return nil, err
	}
	return handle, nil
}
