package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/sitebackup/internal/archive"
	"github.com/edvin/sitebackup/internal/manifest"
	"github.com/edvin/sitebackup/internal/model"
	"github.com/edvin/sitebackup/internal/storage"
)

// RecordSource yields the remote backup records of a site.
type RecordSource interface {
	Records(ctx context.Context) ([]model.RemoteRecord, error)
}

// BrokerRecords reads records kept by a backend that tracks backups itself.
type BrokerRecords struct {
	Lister storage.RecordLister
}

func (b BrokerRecords) Records(ctx context.Context) ([]model.RemoteRecord, error) {
	return b.Lister.RemoteRecords(ctx)
}

// KeyListingSource derives records from listed object keys, grouping them by
// the backup ID encoded in each key and reading the uploaded manifest for
// metadata when one exists.
type KeyListingSource struct {
	logger  zerolog.Logger
	adapter storage.Adapter
	keys    storage.KeySpace
	// fetchLimit bounds concurrent manifest downloads.
	fetchLimit int
	// fetchTimeout bounds each manifest download.
	fetchTimeout time.Duration
}

// NewKeyListingSource creates a KeyListingSource.
func NewKeyListingSource(logger zerolog.Logger, adapter storage.Adapter, keys storage.KeySpace) *KeyListingSource {
	return &KeyListingSource{
		logger:       logger.With().Str("component", "catalog-keys").Logger(),
		adapter:      adapter,
		keys:         keys,
		fetchLimit:   4,
		fetchTimeout: storage.DefaultControlTimeout,
	}
}

type listedBackup struct {
	id          string
	chunks      []storage.ObjectInfo
	sequences   []int
	manifestKey string
	oldest      storage.ObjectInfo
}

func (s *KeyListingSource) Records(ctx context.Context) ([]model.RemoteRecord, error) {
	objects, err := s.list(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*listedBackup)
	var order []string
	for _, obj := range objects {
		pk, err := storage.ParseKey(obj.Key)
		if err != nil {
			s.logger.Debug().Str("key", obj.Key).Msg("ignoring key outside the backup layout")
			continue
		}
		b, ok := byID[pk.BackupID]
		if !ok {
			b = &listedBackup{id: pk.BackupID, oldest: obj}
			byID[pk.BackupID] = b
			order = append(order, pk.BackupID)
		}
		if !obj.LastModified.IsZero() && (b.oldest.LastModified.IsZero() || obj.LastModified.Before(b.oldest.LastModified)) {
			b.oldest = obj
		}
		if pk.IsManifest {
			b.manifestKey = obj.Key
			continue
		}
		b.chunks = append(b.chunks, obj)
		b.sequences = append(b.sequences, pk.Sequence)
	}
	sort.Strings(order)

	tmp, err := os.MkdirTemp("", "sitebackup-manifests-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	records := make([]model.RemoteRecord, len(order))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchLimit)
	for i, id := range order {
		b := byID[id]
		g.Go(func() error {
			var m *model.Manifest
			if b.manifestKey != "" {
				m = s.fetchManifest(gctx, tmp, b)
			}
			records[i] = buildRecord(b, m)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *KeyListingSource) list(ctx context.Context) ([]storage.ObjectInfo, error) {
	prefix := s.keys.SitePrefix()
	if ol, ok := s.adapter.(storage.ObjectLister); ok {
		return ol.ListObjects(ctx, prefix)
	}
	keys, err := s.adapter.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]storage.ObjectInfo, len(keys))
	for i, k := range keys {
		out[i] = storage.ObjectInfo{Key: k}
	}
	return out, nil
}

// fetchManifest downloads and decodes a backup's manifest. Failures are
// logged and yield nil so the chunks are still listed.
func (s *KeyListingSource) fetchManifest(ctx context.Context, dir string, b *listedBackup) *model.Manifest {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	path := filepath.Join(dir, manifest.FileName(b.id))
	if _, err := s.adapter.Download(ctx, b.manifestKey, path); err != nil {
		s.logger.Warn().Err(err).Str("backup_id", b.id).Msg("cannot download remote manifest")
		return nil
	}
	m, err := manifest.Load(path)
	if err != nil {
		s.logger.Warn().Err(err).Str("backup_id", b.id).Msg("skipping corrupt remote manifest")
		return nil
	}
	return m
}

func buildRecord(b *listedBackup, m *model.Manifest) model.RemoteRecord {
	rec := model.RemoteRecord{
		BackupID:  b.id,
		Status:    model.StatusUnknown,
		CreatedAt: b.oldest.LastModified,
	}

	bySeq := make(map[int]model.FileRef)
	if m != nil {
		rec.BackupType = m.BackupType
		rec.CreatedAt = m.CreatedAt
		rec.CompletedAt = m.CompletedAt
		rec.TotalSize = m.TotalSize
		if m.Finalized {
			rec.Status = model.StatusCompleted
		}
		for _, f := range m.Files {
			if f.Sequence > 0 {
				bySeq[f.Sequence] = f
			}
		}
	}

	compIndex := make(map[string]int)
	for i, obj := range b.chunks {
		ref, known := bySeq[b.sequences[i]]
		comp := archive.DefaultComponent
		if known && ref.Component != "" {
			comp = ref.Component
		}
		idx, ok := compIndex[comp]
		if !ok {
			idx = len(rec.Components)
			compIndex[comp] = idx
			rec.Components = append(rec.Components, model.RemoteComponent{Name: comp})
		}
		size := obj.Size
		if size == 0 && known {
			size = ref.Size
		}
		rec.Components[idx].Objects = append(rec.Components[idx].Objects, model.RemoteObject{
			Key:      obj.Key,
			Filename: ref.Filename,
			Size:     size,
		})
	}
	return rec
}
