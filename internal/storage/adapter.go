// Package storage implements the storage adapters that move backup chunks to
// and from remote backends, plus the shared key convention, error taxonomy
// and retrying upload pool.
package storage

import (
	"context"
	"time"

	"github.com/edvin/sitebackup/internal/model"
)

// Backend kinds.
const (
	BackendRelay = "relay"
	BackendS3    = "s3"
)

// UploadResult is returned by a successful upload.
type UploadResult struct {
	RemoteKey string
	SizeBytes int64
}

// Adapter is the capability interface every storage backend implements.
type Adapter interface {
	// Backend returns the backend kind, used as a metrics label.
	Backend() string
	// Name returns a human readable backend name.
	Name() string
	// Upload stores localPath at remoteKey with a single atomic write.
	Upload(ctx context.Context, localPath, remoteKey string) (*UploadResult, error)
	// Download fetches remoteKey into localPath and returns the bytes written.
	Download(ctx context.Context, remoteKey, localPath string) (int64, error)
	// Delete removes remoteKey. Deleting a missing key succeeds.
	Delete(ctx context.Context, remoteKey string) error
	List(ctx context.Context, prefix string) ([]string, error)
	// TestConnection performs the cheapest authenticated round trip.
	TestConnection(ctx context.Context) error
	SignedURL(ctx context.Context, remoteKey string, ttl time.Duration) (string, error)
}

// ObjectInfo describes a listed object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectLister is implemented by adapters that can report object sizes
// along with keys.
type ObjectLister interface {
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// RecordLister is implemented by adapters whose backend keeps its own
// backup records.
type RecordLister interface {
	RemoteRecords(ctx context.Context) ([]model.RemoteRecord, error)
}
