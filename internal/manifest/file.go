package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edvin/sitebackup/internal/model"
)

// FileSuffix is appended to the backup ID to name a local manifest file.
const FileSuffix = ".manifest.json"

// ErrFinalized is returned when saving over a finalized manifest.
var ErrFinalized = errors.New("manifest is finalized")

// FileName returns the local manifest file name for a backup.
func FileName(backupID string) string {
	return backupID + FileSuffix
}

// BackupIDFromFileName extracts the backup ID from a manifest file name.
func BackupIDFromFileName(name string) (string, bool) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, FileSuffix) {
		return "", false
	}
	id := strings.TrimSuffix(base, FileSuffix)
	return id, id != ""
}

// Load reads and decodes the manifest at path.
func Load(path string) (*model.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return m, nil
}

// Save writes m to path atomically. An existing finalized manifest at path
// is never overwritten.
func Save(path string, m *model.Manifest) error {
	if existing, err := os.ReadFile(path); err == nil {
		if prev, derr := Decode(existing); derr == nil && prev.Finalized {
			return fmt.Errorf("save manifest %s: %w", m.BackupID, ErrFinalized)
		}
	}

	data, err := Encode(m)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create manifest directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}
