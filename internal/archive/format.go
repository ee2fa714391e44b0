package archive

import (
	"fmt"
	"strings"
)

// Format is an archive container format.
type Format string

const (
	FormatTarGz Format = "tar.gz"
	FormatZip   Format = "zip"
)

// ParseFormat parses a configured format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tar.gz", "tgz", "targz":
		return FormatTarGz, nil
	case "zip":
		return FormatZip, nil
	default:
		return "", fmt.Errorf("unknown archive format %q", s)
	}
}

// Ext returns the file extension without a leading dot.
func (f Format) Ext() string {
	return string(f)
}

// FormatFromName infers the format from an archive file name.
func FormatFromName(name string) (Format, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz, true
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip, true
	default:
		return "", false
	}
}

// ArchiveName returns the file name of part number part (1-based) of a
// component's archive. The first part carries no suffix.
func ArchiveName(backupID, component string, part int, f Format) string {
	comp := strings.NewReplacer("/", "-", "\\", "-", " ", "_").Replace(component)
	if part <= 1 {
		return fmt.Sprintf("%s-%s.%s", backupID, comp, f.Ext())
	}
	return fmt.Sprintf("%s-%s-part%03d.%s", backupID, comp, part, f.Ext())
}
