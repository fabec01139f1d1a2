package core

import "fmt"

// BinaryPayload is the node-facing value for a binary-bearing parameter:
// the decoded bytes plus the MIME type they were stored under.
type BinaryPayload struct {
	Data     []byte
	MimeType string
}

func asBlobHandle(value any) (BlobHandle, error) {
	switch v := value.(type) {
	case BlobHandle:
		return v, nil
	case map[string]any:
		id, _ := v["id"].(string)
		mime, _ := v["mimeType"].(string)
		if id == "" {
			return BlobHandle{}, fmt.Errorf("codec: blob handle missing id")
		}
		return BlobHandle{ID: id, MimeType: mime}, nil
	default:
		return BlobHandle{}, fmt.Errorf("codec: value is not a blob handle: %T", value)
	}
}

func asBinaryPayload(value any) ([]byte, string, error) {
	switch v := value.(type) {
	case BinaryPayload:
		return v.Data, v.MimeType, nil
	case []byte:
		return v, "application/octet-stream", nil
	default:
		return nil, "", fmt.Errorf("codec: value is not a binary payload: %T", value)
	}
}
