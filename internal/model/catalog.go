package model

import "time"

// RemoteRecord is a backup as reported by a remote backend.
type RemoteRecord struct {
	BackupID    string            `json:"backup_id"`
	BackupType  string            `json:"backup_type"`
	Status      string            `json:"status"`
	TotalSize   int64             `json:"total_size"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Components  []RemoteComponent `json:"components"`
}

// RemoteComponent groups the remote objects of one backup component.
type RemoteComponent struct {
	Name    string         `json:"name"`
	Objects []RemoteObject `json:"objects"`
}

// RemoteObject is one stored object. Filename may be empty when the backend
// does not report one.
type RemoteObject struct {
	Key      string `json:"key"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size"`
}

// CatalogEntry is the merged, display-ready record of one backup.
type CatalogEntry struct {
	BackupID    string        `json:"backup_id"`
	BackupType  string        `json:"backup_type"`
	Status      string        `json:"status"`
	TotalSize   int64         `json:"total_size"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Provenance  string        `json:"provenance"`
	Components  []Component   `json:"components"`
	Files       []CatalogFile `json:"files"`
	// Partial is set when a referenced file is absent or still being written.
	Partial      bool     `json:"partial,omitempty"`
	MissingFiles []string `json:"missing_files,omitempty"`
}

// CatalogFile is one flattened file of a catalog entry.
type CatalogFile struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	Component string `json:"component"`
	IsRemote  bool   `json:"is_remote"`
	RemoteKey string `json:"remote_key,omitempty"`
}

// OrderTime returns the timestamp used to order catalog entries.
func (e *CatalogEntry) OrderTime() time.Time {
	if e.Provenance == ProvenanceRemote && e.CompletedAt != nil && !e.CompletedAt.IsZero() {
		return *e.CompletedAt
	}
	return e.CreatedAt
}
