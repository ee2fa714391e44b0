package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/edvin/sitebackup/internal/archive"
	"github.com/edvin/sitebackup/internal/lock"
	"github.com/edvin/sitebackup/internal/manifest"
	"github.com/edvin/sitebackup/internal/model"
)

// JobStatusReader reports the status the job runner recorded for a backup.
// An unknown backup returns an empty status and no error.
type JobStatusReader interface {
	JobStatus(ctx context.Context, backupID string) (string, error)
}

// LocalSource discovers manifests in the work directory and observes the
// archives they reference.
type LocalSource struct {
	logger  zerolog.Logger
	workDir string
	jobs    JobStatusReader
}

// NewLocalSource creates a LocalSource. jobs may be nil.
func NewLocalSource(logger zerolog.Logger, workDir string, jobs JobStatusReader) *LocalSource {
	return &LocalSource{
		logger:  logger.With().Str("component", "catalog-local").Logger(),
		workDir: workDir,
		jobs:    jobs,
	}
}

// Manifests loads every readable manifest. Corrupt manifests are skipped
// with a warning.
func (s *LocalSource) Manifests(ctx context.Context) ([]LocalManifest, error) {
	paths, err := filepath.Glob(filepath.Join(s.workDir, "*"+manifest.FileSuffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	out := make([]LocalManifest, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := manifest.Load(path)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable manifest")
			continue
		}
		out = append(out, LocalManifest{Manifest: m, Observed: s.observe(ctx, m)})
	}
	return out, nil
}

// Manifest loads the manifest of one backup.
func (s *LocalSource) Manifest(ctx context.Context, backupID string) (*LocalManifest, error) {
	m, err := manifest.Load(archive.ManifestPath(s.workDir, backupID))
	if err != nil {
		return nil, err
	}
	return &LocalManifest{Manifest: m, Observed: s.observe(ctx, m)}, nil
}

func (s *LocalSource) observe(ctx context.Context, m *model.Manifest) map[string]FileObservation {
	growing := s.growing(ctx, m.BackupID)
	dir := archive.BackupDir(s.workDir, m.BackupID)

	observed := make(map[string]FileObservation)
	for _, name := range m.ArchiveNames() {
		obs := FileObservation{Growing: growing}
		info, err := os.Stat(filepath.Join(dir, name))
		if err == nil && info.Mode().IsRegular() {
			obs.Present = true
			obs.Size = info.Size()
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("backup_id", m.BackupID).Str("file", name).Msg("cannot stat archive")
		}
		observed[name] = obs
	}
	return observed
}

// growing reports whether a job may still be writing the backup's files.
func (s *LocalSource) growing(ctx context.Context, backupID string) bool {
	if lock.IsHeld(s.workDir, backupID) {
		return true
	}
	if s.jobs == nil {
		return false
	}
	status, err := s.jobs.JobStatus(ctx, backupID)
	if err != nil {
		s.logger.Warn().Err(err).Str("backup_id", backupID).Msg("cannot read job status")
		return false
	}
	return model.NormalizeStatus(status) == model.StatusRunning
}

// RemoveLocal deletes the archives and manifest of a backup.
func (s *LocalSource) RemoveLocal(backupID string) error {
	if !model.ValidBackupID(backupID) {
		return fmt.Errorf("invalid backup id %q", backupID)
	}
	if err := os.RemoveAll(archive.BackupDir(s.workDir, backupID)); err != nil {
		return err
	}
	if err := os.Remove(archive.ManifestPath(s.workDir, backupID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
