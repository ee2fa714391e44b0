package model

import (
	"regexp"
	"time"
)

// Backup types.
const (
	BackupTypeFull        = "full"
	BackupTypeFiles       = "files"
	BackupTypeDatabase    = "database"
	BackupTypeIncremental = "incremental"
)

// ValidBackupType reports whether t is one of the known backup types.
func ValidBackupType(t string) bool {
	switch t {
	case BackupTypeFull, BackupTypeFiles, BackupTypeDatabase, BackupTypeIncremental:
		return true
	}
	return false
}

// MaxBackupIDLength bounds backup IDs.
const MaxBackupIDLength = 128

// A backup ID names a work directory, a lock file and a key segment.
var backupIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidBackupID reports whether id can be used as a backup ID.
func ValidBackupID(id string) bool {
	return len(id) <= MaxBackupIDLength && backupIDPattern.MatchString(id)
}

// SourceFile is one file selected for a backup.
type SourceFile struct {
	Path         string `json:"path" yaml:"path"`
	RelativePath string `json:"relative_path" yaml:"relative_path"`
	SizeBytes    int64  `json:"size_bytes" yaml:"size_bytes"`
	Component    string `json:"component" yaml:"component"`
}

// Chunk is a single compressed archive file on local disk.
type Chunk struct {
	Path           string `json:"path"`
	RelativePath   string `json:"relative_path"`
	SizeBytes      int64  `json:"size_bytes"`
	SequenceNumber int    `json:"sequence_number"`
	Component      string `json:"component"`
	// RemoteKey stays empty until the chunk has been uploaded.
	RemoteKey string `json:"remote_key,omitempty"`
}

// Uploaded reports whether the chunk has a remote key assigned.
func (c *Chunk) Uploaded() bool {
	return c.RemoteKey != ""
}

// BackupJob is the opaque job record owned by the external job runner.
type BackupJob struct {
	BackupID  string    `json:"backup_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Job statuses as written by the job runner.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)
