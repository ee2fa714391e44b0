// Package catalog merges remote backup records with locally observed
// manifests into one ordered backup index.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/edvin/sitebackup/internal/model"
	"github.com/edvin/sitebackup/internal/storage"
)

// ErrPartialFileMissing marks an entry whose referenced files are absent or
// still being written.
var ErrPartialFileMissing = errors.New("backup has missing files")

// PartialError returns an error wrapping ErrPartialFileMissing when e is
// flagged partial, nil otherwise.
func PartialError(e *model.CatalogEntry) error {
	if e == nil || !e.Partial {
		return nil
	}
	return fmt.Errorf("%s: %w: %s", e.BackupID, ErrPartialFileMissing, strings.Join(e.MissingFiles, ", "))
}

// FileObservation is what the local disk says about one referenced file.
type FileObservation struct {
	Size    int64
	Present bool
	// Growing is set while the owning job may still be writing the file.
	Growing bool
}

// LocalManifest is a decoded local manifest plus the on-disk state of the
// files it references, keyed by filename.
type LocalManifest struct {
	Manifest *model.Manifest
	Observed map[string]FileObservation
}

// Reconciler merges remote and local views. It performs no I/O.
type Reconciler struct {
	logger zerolog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(logger zerolog.Logger) *Reconciler {
	return &Reconciler{logger: logger.With().Str("component", "catalog-reconciler").Logger()}
}

// Reconcile returns one entry per remote record plus one per local manifest
// whose backup ID no remote record carries, ordered newest first. Remote
// records win over local manifests with the same backup ID. Malformed inputs
// are dropped with a warning.
func (r *Reconciler) Reconcile(remote []model.RemoteRecord, local []LocalManifest) []model.CatalogEntry {
	entries := make([]model.CatalogEntry, 0, len(remote)+len(local))
	seen := make(map[string]struct{}, len(remote)+len(local))

	for _, rec := range remote {
		if rec.BackupID == "" {
			r.logger.Warn().Str("backup_type", rec.BackupType).Msg("dropping remote record without backup id")
			continue
		}
		if _, dup := seen[rec.BackupID]; dup {
			r.logger.Warn().Str("backup_id", rec.BackupID).Msg("dropping duplicate remote record")
			continue
		}
		seen[rec.BackupID] = struct{}{}
		entries = append(entries, remoteEntry(rec))
	}

	for _, lm := range local {
		m := lm.Manifest
		if m == nil || m.BackupID == "" {
			r.logger.Warn().Msg("dropping local manifest without backup id")
			continue
		}
		if _, dup := seen[m.BackupID]; dup {
			continue
		}
		seen[m.BackupID] = struct{}{}
		entries = append(entries, localEntry(lm))
	}

	sort.SliceStable(entries, func(i, j int) bool {
		ti, tj := entries[i].OrderTime(), entries[j].OrderTime()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return entries[i].BackupID < entries[j].BackupID
	})
	return entries
}

func remoteEntry(rec model.RemoteRecord) model.CatalogEntry {
	e := model.CatalogEntry{
		BackupID:    rec.BackupID,
		BackupType:  rec.BackupType,
		Status:      model.NormalizeStatus(rec.Status),
		CreatedAt:   rec.CreatedAt,
		CompletedAt: rec.CompletedAt,
		Provenance:  model.ProvenanceRemote,
	}

	var objectTotal int64
	for _, rc := range rec.Components {
		comp := model.Component{Name: rc.Name}
		for _, obj := range rc.Objects {
			name := obj.Filename
			if name == "" {
				name = storage.KeyFileName(obj.Key)
			}
			if name == "" {
				e.Partial = true
				continue
			}
			comp.Archives = append(comp.Archives, name)
			comp.TotalSize += obj.Size
			objectTotal += obj.Size
			e.Files = append(e.Files, model.CatalogFile{
				Filename:  name,
				Size:      obj.Size,
				Component: rc.Name,
				IsRemote:  true,
				RemoteKey: obj.Key,
			})
		}
		if rc.Name != "" && len(comp.Archives) > 0 {
			e.Components = append(e.Components, comp)
		}
	}

	e.TotalSize = rec.TotalSize
	if e.TotalSize <= 0 {
		e.TotalSize = objectTotal
	}
	return e
}

func localEntry(lm LocalManifest) model.CatalogEntry {
	m := lm.Manifest
	e := model.CatalogEntry{
		BackupID:    m.BackupID,
		BackupType:  m.BackupType,
		CreatedAt:   m.CreatedAt,
		CompletedAt: m.CompletedAt,
		Provenance:  model.ProvenanceLocal,
		Components:  append([]model.Component(nil), m.Components...),
	}

	refs := m.Files
	if len(refs) == 0 {
		for _, c := range m.Components {
			for _, name := range c.Archives {
				refs = append(refs, model.FileRef{Filename: name, Component: c.Name})
			}
		}
	}

	var presentTotal int64
	anyPresent, anyGrowing := false, false
	for _, ref := range refs {
		obs := lm.Observed[ref.Filename]
		size := ref.Size
		switch {
		case obs.Growing:
			anyGrowing = true
			e.Partial = true
			e.MissingFiles = append(e.MissingFiles, ref.Filename)
		case obs.Present:
			anyPresent = true
			size = obs.Size
			presentTotal += obs.Size
		default:
			e.Partial = true
			e.MissingFiles = append(e.MissingFiles, ref.Filename)
		}
		e.Files = append(e.Files, model.CatalogFile{
			Filename:  ref.Filename,
			Size:      size,
			Component: ref.Component,
			RemoteKey: ref.RemoteKey,
		})
	}

	if anyPresent {
		e.TotalSize = presentTotal
	} else {
		e.TotalSize = m.TotalSize
	}

	e.Status = model.StatusCompleted
	if anyGrowing {
		e.Status = model.StatusRunning
	}
	return e
}
