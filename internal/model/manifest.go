package model

import "time"

// Manifest describes one backup attempt. Once Finalized is set the manifest
// is immutable; corrections must go to a new backup ID.
type Manifest struct {
	BackupID    string      `json:"backup_id"`
	BackupType  string      `json:"backup_type"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	TotalSize   int64       `json:"total_size"`
	Components  []Component `json:"components"`
	Files       []FileRef   `json:"files"`
	Finalized   bool        `json:"finalized"`
}

// Component is a named subset of a backup ("database", "plugins", "uploads").
type Component struct {
	Name string `json:"name"`
	// Archives holds archive file names relative to the backup's work directory.
	Archives  []string `json:"archives"`
	TotalSize int64    `json:"total_size,omitempty"`
}

// FileRef is one archive file referenced by a manifest.
type FileRef struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	Component string `json:"component"`
	Sequence  int    `json:"sequence,omitempty"`
	RemoteKey string `json:"remote_key,omitempty"`
}

// PruneComponents drops components that reference no archives.
func (m *Manifest) PruneComponents() {
	kept := m.Components[:0]
	for _, c := range m.Components {
		if len(c.Archives) == 0 {
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		m.Components = nil
		return
	}
	m.Components = kept
}

// SumFileSizes returns the sum of all file sizes in the manifest.
func (m *Manifest) SumFileSizes() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}

// FileByName returns the file entry with the given filename.
func (m *Manifest) FileByName(name string) (FileRef, bool) {
	for _, f := range m.Files {
		if f.Filename == name {
			return f, true
		}
	}
	return FileRef{}, false
}

// ArchiveNames returns every archive filename referenced by the manifest's
// components, in component order, without duplicates.
func (m *Manifest) ArchiveNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, c := range m.Components {
		for _, a := range c.Archives {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			names = append(names, a)
		}
	}
	for _, f := range m.Files {
		if _, ok := seen[f.Filename]; ok {
			continue
		}
		seen[f.Filename] = struct{}{}
		names = append(names, f.Filename)
	}
	return names
}
