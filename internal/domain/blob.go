package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// ReportRecord is an encoded report kept for later inspection.
type ReportRecord struct {
	TriggerID string            `json:"trigger_id"`
	Kind      string            `json:"kind"`
	Key       string            `json:"key"`
	Receiver  string            `json:"receiver"`
	Payload   string            `json:"payload"`
	TxHash    string            `json:"tx_hash,omitempty"`
	Status    string            `json:"status"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// ReportArchive keeps encoded reports outside the chain.
type ReportArchive interface {
	Save(ctx context.Context, rec ReportRecord) (string, error)
}
