package model

// Catalog entry statuses.
const (
	StatusUnknown   = "unknown"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// NormalizeStatus maps broker status strings onto the catalog statuses.
func NormalizeStatus(s string) string {
	switch s {
	case StatusRunning, "in_progress", "uploading", "pending", "queued":
		return StatusRunning
	case StatusCompleted, "complete", "done", "success", "active":
		return StatusCompleted
	case StatusFailed, "error", "failure":
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// Provenance values for catalog entries.
const (
	ProvenanceRemote = "remote"
	ProvenanceLocal  = "local"
)
