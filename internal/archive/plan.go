package archive

import "github.com/edvin/sitebackup/internal/model"

const (
	mib = int64(1024 * 1024)

	// DefaultSplitSize is the split size used when none is configured.
	DefaultSplitSize = 200 * mib
	// MinSplitSize and MaxSplitSize bound the configured split size.
	MinSplitSize = 50 * mib
	MaxSplitSize = 1000 * mib
)

// ClampSplitSize applies the split size policy: zero or negative means the
// default, everything else is bounded to [MinSplitSize, MaxSplitSize].
func ClampSplitSize(size int64) int64 {
	switch {
	case size <= 0:
		return DefaultSplitSize
	case size < MinSplitSize:
		return MinSplitSize
	case size > MaxSplitSize:
		return MaxSplitSize
	default:
		return size
	}
}

// Plan groups files into archive parts. Files are added to the current part
// until the next file would bring its cumulative size to splitSize or more,
// at which point a new part is opened. A file that alone reaches splitSize
// is never sub-split and gets a part of its own.
func Plan(files []model.SourceFile, splitSize int64) [][]model.SourceFile {
	if splitSize <= 0 {
		splitSize = DefaultSplitSize
	}

	var parts [][]model.SourceFile
	var current []model.SourceFile
	var currentSize int64

	seal := func() {
		if len(current) > 0 {
			parts = append(parts, current)
		}
		current = nil
		currentSize = 0
	}

	for _, f := range files {
		if f.SizeBytes >= splitSize {
			seal()
			parts = append(parts, []model.SourceFile{f})
			continue
		}
		if currentSize+f.SizeBytes >= splitSize {
			seal()
		}
		current = append(current, f)
		currentSize += f.SizeBytes
	}
	seal()

	return parts
}

// PartSize returns the cumulative source size of a part.
func PartSize(part []model.SourceFile) int64 {
	var total int64
	for _, f := range part {
		total += f.SizeBytes
	}
	return total
}
