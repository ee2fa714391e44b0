// Package pipeline runs backup and restore jobs end to end: it takes the
// backup lock, builds archives, uploads them, finalizes the manifest and
// publishes it next to the chunks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edvin/sitebackup/internal/archive"
	"github.com/edvin/sitebackup/internal/catalog"
	"github.com/edvin/sitebackup/internal/lock"
	"github.com/edvin/sitebackup/internal/manifest"
	"github.com/edvin/sitebackup/internal/model"
	"github.com/edvin/sitebackup/internal/storage"
)

// Config holds the runner settings shared by every job.
type Config struct {
	WorkDir string
	// SplitSize is the default part size in bytes.
	SplitSize int64
	Upload    storage.UploadOptions
}

// Runner executes backup and restore jobs against one storage adapter.
type Runner struct {
	logger  zerolog.Logger
	builder *archive.Builder
	adapter storage.Adapter
	keys    storage.KeySpace
	cfg     Config
	now     func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(logger zerolog.Logger, builder *archive.Builder, adapter storage.Adapter, keys storage.KeySpace, cfg Config) *Runner {
	return &Runner{
		logger:  logger.With().Str("component", "pipeline").Logger(),
		builder: builder,
		adapter: adapter,
		keys:    keys,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Backup archives, uploads and finalizes one backup. A backup ID that
// already has a finalized local manifest is refused.
func (r *Runner) Backup(ctx context.Context, job Job) (*model.Manifest, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if err := r.keys.Validate(); err != nil {
		return nil, err
	}
	backupID := job.BackupID
	if backupID == "" {
		backupID = uuid.NewString()
	}
	log := r.logger.With().Str("backup_id", backupID).Logger()

	l, err := lock.Acquire(r.cfg.WorkDir, backupID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := l.Release(); err != nil {
			log.Warn().Err(err).Msg("failed to release backup lock")
		}
	}()

	manifestPath := archive.ManifestPath(r.cfg.WorkDir, backupID)
	if existing, err := manifest.Load(manifestPath); err == nil && existing.Finalized {
		return nil, fmt.Errorf("backup %s: %w", backupID, manifest.ErrFinalized)
	}

	files, err := job.Collect()
	if err != nil {
		return nil, err
	}

	splitSize := r.cfg.SplitSize
	if job.SplitSizeMB > 0 {
		splitSize = int64(job.SplitSizeMB) << 20
	}

	log.Info().Int("files", len(files)).Str("backend", r.adapter.Backend()).Msg("backup started")

	built, err := r.builder.Build(ctx, archive.BuildRequest{
		BackupID:   backupID,
		BackupType: job.BackupType,
		Files:      files,
		SplitSize:  splitSize,
		CreatedAt:  r.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	m := built.Manifest

	chunks, uploadErr := storage.UploadAll(ctx, r.logger, r.adapter, r.keys, backupID, built.Chunks, r.cfg.Upload)
	applyRemoteKeys(m, chunks)
	if uploadErr != nil {
		// Keep the keys of the chunks that did make it.
		if err := manifest.Save(manifestPath, m); err != nil {
			log.Warn().Err(err).Msg("failed to record partial upload progress")
		}
		return nil, uploadErr
	}

	completed := r.now().UTC()
	m.CompletedAt = &completed
	m.Finalized = true
	if err := manifest.Save(manifestPath, m); err != nil {
		return nil, err
	}

	if err := r.publishManifest(ctx, backupID, manifestPath); err != nil {
		return m, err
	}

	log.Info().
		Int("chunks", len(chunks)).
		Int64("total_size", m.TotalSize).
		Int("skipped", len(built.Skipped)).
		Msg("backup completed")
	return m, nil
}

// publishManifest uploads the finalized manifest next to the chunks.
func (r *Runner) publishManifest(ctx context.Context, backupID, path string) error {
	key := r.keys.ManifestKey(backupID)
	err := r.cfg.Upload.Retry.Do(ctx, nil, func(ctx context.Context) error {
		tctx, cancel := context.WithTimeout(ctx, r.transferTimeout())
		defer cancel()
		_, err := r.adapter.Upload(tctx, path, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("publish manifest of %s: %w", backupID, err)
	}
	return nil
}

func applyRemoteKeys(m *model.Manifest, chunks []model.Chunk) {
	bySeq := make(map[int]string, len(chunks))
	for _, c := range chunks {
		if c.RemoteKey != "" {
			bySeq[c.SequenceNumber] = c.RemoteKey
		}
	}
	for i := range m.Files {
		if key, ok := bySeq[m.Files[i].Sequence]; ok {
			m.Files[i].RemoteKey = key
		}
	}
}

// Restore fetches the archives of a catalog entry and extracts them into
// destDir in sequence order. Local entries with missing or growing files
// are refused.
func (r *Runner) Restore(ctx context.Context, entry model.CatalogEntry, destDir string) error {
	if !model.ValidBackupID(entry.BackupID) {
		return fmt.Errorf("restore: invalid backup id %q", entry.BackupID)
	}
	log := r.logger.With().Str("backup_id", entry.BackupID).Str("provenance", entry.Provenance).Logger()

	if entry.Provenance == model.ProvenanceLocal {
		if err := catalog.PartialError(&entry); err != nil {
			return err
		}
	}
	if len(entry.Files) == 0 {
		return fmt.Errorf("restore %s: no files to restore", entry.BackupID)
	}
	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return fmt.Errorf("create restore directory: %w", err)
	}

	var staging string
	if entry.Provenance == model.ProvenanceRemote {
		dir, err := os.MkdirTemp(r.cfg.WorkDir, "restore-"+entry.BackupID+"-")
		if err != nil {
			return fmt.Errorf("create staging directory: %w", err)
		}
		defer os.RemoveAll(dir)
		staging = dir
	}

	extracted := 0
	for _, f := range entry.Files {
		name := f.Filename
		if name == "" {
			name = storage.KeyFileName(f.RemoteKey)
		}
		if name == storage.ManifestObject {
			continue
		}

		var path string
		if f.IsRemote {
			path = filepath.Join(staging, name)
			if err := r.download(ctx, f.RemoteKey, path); err != nil {
				return err
			}
		} else {
			path = filepath.Join(archive.BackupDir(r.cfg.WorkDir, entry.BackupID), name)
		}

		n, err := archive.Extract(ctx, path, destDir)
		if err != nil {
			return fmt.Errorf("restore %s: %w", name, err)
		}
		extracted += n
		log.Debug().Str("archive", name).Int("files", n).Msg("archive extracted")
	}

	log.Info().Int("files", extracted).Str("dest", destDir).Msg("restore completed")
	return nil
}

func (r *Runner) download(ctx context.Context, key, path string) error {
	if key == "" {
		return errors.New("remote file has no key")
	}
	err := r.cfg.Upload.Retry.Do(ctx, nil, func(ctx context.Context) error {
		tctx, cancel := context.WithTimeout(ctx, r.transferTimeout())
		defer cancel()
		_, err := r.adapter.Download(tctx, key, path)
		return err
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	return nil
}

func (r *Runner) transferTimeout() time.Duration {
	if r.cfg.Upload.Timeout > 0 {
		return r.cfg.Upload.Timeout
	}
	return storage.DefaultTransferTimeout
}
