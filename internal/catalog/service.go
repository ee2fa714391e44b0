package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/edvin/sitebackup/internal/lock"
	"github.com/edvin/sitebackup/internal/metrics"
	"github.com/edvin/sitebackup/internal/model"
	"github.com/edvin/sitebackup/internal/storage"
)

// ErrNotFound is returned by Get for an unknown backup ID.
var ErrNotFound = errors.New("backup not found")

// Service answers catalog queries by reconciling remote and local state on
// every call.
type Service struct {
	logger     zerolog.Logger
	reconciler *Reconciler
	local      *LocalSource
	remote     RecordSource
	adapter    storage.Adapter
	keys       storage.KeySpace
	workDir    string
}

// NewService creates a catalog service. remote and adapter may be nil for a
// local-only catalog.
func NewService(logger zerolog.Logger, workDir string, local *LocalSource, remote RecordSource, adapter storage.Adapter, keys storage.KeySpace) *Service {
	return &Service{
		logger:     logger.With().Str("component", "catalog").Logger(),
		reconciler: NewReconciler(logger),
		local:      local,
		remote:     remote,
		adapter:    adapter,
		keys:       keys,
		workDir:    workDir,
	}
}

// RecordSourceFor picks the record source matching an adapter: the broker's
// own records when it keeps them, key listing otherwise.
func RecordSourceFor(logger zerolog.Logger, adapter storage.Adapter, keys storage.KeySpace) RecordSource {
	if rl, ok := adapter.(storage.RecordLister); ok {
		return BrokerRecords{Lister: rl}
	}
	return NewKeyListingSource(logger, adapter, keys)
}

// List returns the reconciled catalog. A failing remote source is logged
// and treated as empty.
func (s *Service) List(ctx context.Context) ([]model.CatalogEntry, error) {
	var remote []model.RemoteRecord
	if s.remote != nil {
		recs, err := s.remote.Records(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn().Err(err).Msg("remote backup listing failed, showing local backups only")
		} else {
			remote = recs
		}
	}

	local, err := s.local.Manifests(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn().Err(err).Msg("local manifest scan failed")
		local = nil
	}

	entries := s.reconciler.Reconcile(remote, local)

	counts := map[string]int{model.ProvenanceRemote: 0, model.ProvenanceLocal: 0}
	for _, e := range entries {
		counts[e.Provenance]++
	}
	for provenance, n := range counts {
		metrics.CatalogEntries.WithLabelValues(provenance).Set(float64(n))
	}
	return entries, nil
}

// Get returns the catalog entry of one backup.
func (s *Service) Get(ctx context.Context, backupID string) (*model.CatalogEntry, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].BackupID == backupID {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, backupID)
}

// Delete removes every remote object under the backup's prefix and its
// local files. Deleting an already deleted backup succeeds.
func (s *Service) Delete(ctx context.Context, backupID string) error {
	if !model.ValidBackupID(backupID) {
		return fmt.Errorf("invalid backup id %q", backupID)
	}
	if lock.IsHeld(s.workDir, backupID) {
		return fmt.Errorf("delete %s: %w", backupID, lock.ErrLocked)
	}

	if s.adapter != nil {
		keys, err := s.adapter.List(ctx, s.keys.BackupPrefix(backupID))
		if err != nil {
			return fmt.Errorf("list remote objects of %s: %w", backupID, err)
		}
		// Chunks first, the manifest last, so a half-finished delete is
		// still listed.
		sort.SliceStable(keys, func(i, j int) bool {
			return !isManifestKey(keys[i]) && isManifestKey(keys[j])
		})
		for _, key := range keys {
			if err := s.adapter.Delete(ctx, key); err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
		}
		s.logger.Info().Str("backup_id", backupID).Int("objects", len(keys)).Msg("remote backup deleted")
	}

	if err := s.local.RemoveLocal(backupID); err != nil {
		return fmt.Errorf("delete local files of %s: %w", backupID, err)
	}
	return nil
}

func isManifestKey(key string) bool {
	return storage.KeyFileName(key) == storage.ManifestObject
}
