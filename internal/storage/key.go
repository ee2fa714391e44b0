package storage

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// ErrInvalidKey is returned for keys that do not follow the destination key
// convention.
var ErrInvalidKey = errors.New("invalid destination key")

const (
	keyRoot          = "backups"
	chunkPrefix      = "chunk-"
	ManifestObject   = "manifest.json"
	manifestSequence = 0
)

// KeySpace builds destination keys of the form
// backups/{tenant_id}/{site_id}/{backup_id}/chunk-{sequence}.{ext}.
type KeySpace struct {
	TenantID string
	SiteID   string
}

// Validate reports a key space whose keys ParseKey could not read back.
func (k KeySpace) Validate() error {
	segments := []struct{ name, value string }{
		{"tenant id", k.TenantID},
		{"site id", k.SiteID},
	}
	for _, seg := range segments {
		if seg.value == "" || strings.Contains(seg.value, "/") {
			return fmt.Errorf("%w: %s %q is not a usable key segment", ErrInvalidKey, seg.name, seg.value)
		}
	}
	return nil
}

// SitePrefix returns the prefix shared by every backup of the site.
func (k KeySpace) SitePrefix() string {
	return fmt.Sprintf("%s/%s/%s/", keyRoot, k.TenantID, k.SiteID)
}

// BackupPrefix returns the prefix of every object of one backup.
func (k KeySpace) BackupPrefix(backupID string) string {
	return k.SitePrefix() + backupID + "/"
}

// ChunkKey returns the key of chunk seq. ext has no leading dot.
func (k KeySpace) ChunkKey(backupID string, seq int, ext string) string {
	return fmt.Sprintf("%schunk-%04d.%s", k.BackupPrefix(backupID), seq, strings.TrimPrefix(ext, "."))
}

// ManifestKey returns the key of the uploaded manifest of a backup.
func (k KeySpace) ManifestKey(backupID string) string {
	return k.BackupPrefix(backupID) + ManifestObject
}

// ParsedKey is a destination key split into its parts.
type ParsedKey struct {
	TenantID string
	SiteID   string
	BackupID string
	// Sequence is 0 for the manifest object.
	Sequence   int
	Ext        string
	IsManifest bool
}

// ParseKey recovers the backup ID and chunk sequence from a key.
func ParseKey(key string) (ParsedKey, error) {
	parts := strings.Split(strings.TrimPrefix(key, "/"), "/")
	if len(parts) != 5 || parts[0] != keyRoot {
		return ParsedKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, p := range parts[1:] {
		if p == "" {
			return ParsedKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}

	pk := ParsedKey{TenantID: parts[1], SiteID: parts[2], BackupID: parts[3]}
	name := parts[4]
	if name == ManifestObject {
		pk.IsManifest = true
		pk.Sequence = manifestSequence
		pk.Ext = "json"
		return pk, nil
	}

	if !strings.HasPrefix(name, chunkPrefix) {
		return ParsedKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	rest := strings.TrimPrefix(name, chunkPrefix)
	digits, ext, ok := strings.Cut(rest, ".")
	if !ok || ext == "" {
		return ParsedKey{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	seq, err := strconv.Atoi(digits)
	if err != nil || seq < 1 {
		return ParsedKey{}, fmt.Errorf("%w: bad sequence in %q", ErrInvalidKey, key)
	}
	pk.Sequence = seq
	pk.Ext = ext
	return pk, nil
}

// ChunkExt returns the archive extension of a file name without the dot.
func ChunkExt(name string) string {
	base := path.Base(name)
	if strings.HasSuffix(strings.ToLower(base), ".tar.gz") {
		return "tar.gz"
	}
	return strings.TrimPrefix(path.Ext(base), ".")
}

// KeyFileName returns the last path segment of a key.
func KeyFileName(key string) string {
	key = strings.TrimSuffix(key, "/")
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}
