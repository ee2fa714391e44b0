// Package archive turns a list of source files into one or more compressed
// archive parts per component, split by cumulative source size.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/sitebackup/internal/manifest"
	"github.com/edvin/sitebackup/internal/metrics"
	"github.com/edvin/sitebackup/internal/model"
)

// ErrNothingArchived is returned when every source file was skipped.
var ErrNothingArchived = errors.New("no files could be archived")

// DefaultComponent is assigned to source files without a component.
const DefaultComponent = "files"

// BuildRequest describes one archive build.
type BuildRequest struct {
	BackupID   string
	BackupType string
	Files      []model.SourceFile
	// SplitSize is clamped with ClampSplitSize.
	SplitSize int64
	CreatedAt time.Time
}

// BuildResult is the output of a successful build.
type BuildResult struct {
	Dir          string
	Chunks       []model.Chunk
	Manifest     *model.Manifest
	ManifestPath string
	Skipped      []SkippedFile
}

// Builder writes archive parts under a work directory.
type Builder struct {
	logger     zerolog.Logger
	workDir    string
	format     Format
	compressor Compressor
}

// NewBuilder creates a Builder writing f archives with compressor.
func NewBuilder(logger zerolog.Logger, workDir string, f Format, compressor Compressor) *Builder {
	return &Builder{
		logger:     logger.With().Str("component", "archive-builder").Logger(),
		workDir:    workDir,
		format:     f,
		compressor: compressor,
	}
}

// BackupDir returns the directory holding the archives of a backup.
func BackupDir(workDir, backupID string) string {
	return filepath.Join(workDir, backupID)
}

// ManifestPath returns the local manifest path of a backup.
func ManifestPath(workDir, backupID string) string {
	return filepath.Join(workDir, manifest.FileName(backupID))
}

// Build archives req.Files and writes an unfinalized manifest next to the
// backup directory. Chunk sequence numbers are 1-based and contiguous across
// all components.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	if req.BackupID == "" {
		return nil, fmt.Errorf("backup id is required")
	}
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("build %s: %w", req.BackupID, ErrNothingArchived)
	}

	dir := BackupDir(b.workDir, req.BackupID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	splitSize := ClampSplitSize(req.SplitSize)
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	backupType := req.BackupType
	if backupType == "" {
		backupType = model.BackupTypeFull
	}

	m := &model.Manifest{
		BackupID:   req.BackupID,
		BackupType: backupType,
		CreatedAt:  createdAt,
	}
	result := &BuildResult{Dir: dir, Manifest: m}

	seq := 0
	for _, group := range groupByComponent(req.Files) {
		comp := model.Component{Name: group.name}
		partNo := 0

		for _, part := range Plan(group.files, splitSize) {
			name := ArchiveName(req.BackupID, group.name, partNo+1, b.format)
			path := filepath.Join(dir, name)

			res, err := b.compressor.Compress(ctx, path, b.format, part)
			if err != nil {
				os.Remove(path)
				return nil, fmt.Errorf("build %s component %s: %w", req.BackupID, group.name, err)
			}
			result.Skipped = append(result.Skipped, res.Skipped...)
			metrics.FilesSkipped.Add(float64(len(res.Skipped)))

			if len(res.Written) == 0 {
				os.Remove(path)
				continue
			}

			info, err := os.Stat(path)
			if err != nil {
				return nil, fmt.Errorf("stat archive %s: %w", name, err)
			}

			partNo++
			seq++
			metrics.ArchivesBuilt.WithLabelValues(string(b.format)).Inc()

			result.Chunks = append(result.Chunks, model.Chunk{
				Path:           path,
				RelativePath:   name,
				SizeBytes:      info.Size(),
				SequenceNumber: seq,
				Component:      group.name,
			})
			comp.Archives = append(comp.Archives, name)
			comp.TotalSize += info.Size()
			m.Files = append(m.Files, model.FileRef{
				Filename:  name,
				Size:      info.Size(),
				Component: group.name,
				Sequence:  seq,
			})

			b.logger.Debug().
				Str("backup_id", req.BackupID).
				Str("archive", name).
				Int("files", len(res.Written)).
				Int64("size", info.Size()).
				Msg("archive part written")
		}

		m.Components = append(m.Components, comp)
	}

	if len(result.Chunks) == 0 {
		return nil, fmt.Errorf("build %s: %w", req.BackupID, ErrNothingArchived)
	}

	m.PruneComponents()
	m.TotalSize = m.SumFileSizes()

	result.ManifestPath = ManifestPath(b.workDir, req.BackupID)
	if err := manifest.Save(result.ManifestPath, m); err != nil {
		return nil, err
	}

	b.logger.Info().
		Str("backup_id", req.BackupID).
		Int("archives", len(result.Chunks)).
		Int("skipped", len(result.Skipped)).
		Int64("total_size", m.TotalSize).
		Msg("archive build complete")

	return result, nil
}

type componentGroup struct {
	name  string
	files []model.SourceFile
}

// groupByComponent keeps components in order of first appearance.
func groupByComponent(files []model.SourceFile) []componentGroup {
	index := make(map[string]int)
	var groups []componentGroup
	for _, f := range files {
		name := f.Component
		if name == "" {
			name = DefaultComponent
		}
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, componentGroup{name: name})
		}
		groups[i].files = append(groups[i].files, f)
	}
	return groups
}
