package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/edvin/sitebackup/internal/archive"
	"github.com/edvin/sitebackup/internal/model"
)

// Job describes one backup run.
type Job struct {
	// BackupID is generated when empty.
	BackupID   string `yaml:"backup_id"`
	BackupType string `yaml:"backup_type"`
	// SplitSizeMB overrides the runner's split size when set.
	SplitSizeMB int                `yaml:"split_size_mb"`
	Sources     []Source           `yaml:"sources"`
	Files       []model.SourceFile `yaml:"files"`
}

// Source is a file or directory tree archived under one component.
type Source struct {
	Path      string `yaml:"path"`
	Component string `yaml:"component"`
	// Exclude holds glob patterns matched against paths relative to Path.
	Exclude []string `yaml:"exclude"`
}

// LoadJob reads a YAML job definition.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job: %w", err)
	}

	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parse job: %w", err)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// Validate checks the job before any work starts.
func (j *Job) Validate() error {
	if j.BackupID != "" && !model.ValidBackupID(j.BackupID) {
		return fmt.Errorf("invalid backup_id %q: use letters, digits, '.', '_' or '-', starting with a letter or digit", j.BackupID)
	}
	if j.BackupType != "" && !model.ValidBackupType(j.BackupType) {
		return fmt.Errorf("invalid backup_type %q", j.BackupType)
	}
	if len(j.Sources) == 0 && len(j.Files) == 0 {
		return errors.New("job has no sources or files")
	}
	for i, s := range j.Sources {
		if s.Path == "" {
			return fmt.Errorf("sources[%d]: path is required", i)
		}
		for _, pattern := range s.Exclude {
			if _, err := filepath.Match(pattern, ""); err != nil {
				return fmt.Errorf("sources[%d]: bad exclude pattern %q: %w", i, pattern, err)
			}
		}
	}
	return nil
}

// Collect expands the job's sources into source files, followed by the
// job's explicit files. Files within a source are ordered by relative path.
func (j *Job) Collect() ([]model.SourceFile, error) {
	var out []model.SourceFile
	for _, s := range j.Sources {
		files, err := s.collect()
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}
	for _, f := range j.Files {
		if f.Component == "" {
			f.Component = archive.DefaultComponent
		}
		if f.RelativePath == "" {
			f.RelativePath = filepath.Base(f.Path)
		}
		out = append(out, f)
	}
	return out, nil
}

func (s Source) collect() ([]model.SourceFile, error) {
	comp := s.Component
	if comp == "" {
		comp = archive.DefaultComponent
	}

	info, err := os.Stat(s.Path)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", s.Path, err)
	}
	if !info.IsDir() {
		return []model.SourceFile{{
			Path:         s.Path,
			RelativePath: filepath.Base(s.Path),
			SizeBytes:    info.Size(),
			Component:    comp,
		}}, nil
	}

	var files []model.SourceFile
	err = filepath.WalkDir(s.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.Path, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if s.excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, model.SourceFile{
			Path:         path,
			RelativePath: filepath.ToSlash(rel),
			SizeBytes:    fi.Size(),
			Component:    comp,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.Path, err)
	}

	sort.Slice(files, func(i, k int) bool { return files[i].RelativePath < files[k].RelativePath })
	return files, nil
}

func (s Source) excluded(rel string) bool {
	for _, pattern := range s.Exclude {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}
