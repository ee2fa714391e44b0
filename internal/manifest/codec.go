// Package manifest reads and writes per-backup manifest documents.
//
// Two shapes exist on disk. The legacy shape stores components as an object
// mapping a component name to an array of file references:
//
//	{"components": {"themes": ["a.tar.gz"], "plugins": []}}
//
// The current shape stores an ordered list of component objects:
//
//	{"components": [{"name": "themes", "archives": ["a.tar.gz"]}]}
//
// Decode accepts both and always returns the normalized model.Manifest.
// Encode only ever writes the current shape.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/edvin/sitebackup/internal/model"
)

// ErrCorrupt is returned for manifests that cannot be decoded.
var ErrCorrupt = errors.New("manifest corrupt")

// Shape identifies which on-disk layout a manifest used.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeLegacy
	ShapeCurrent
)

func (s Shape) String() string {
	switch s {
	case ShapeLegacy:
		return "legacy"
	case ShapeCurrent:
		return "current"
	default:
		return "unknown"
	}
}

// legacyTimeLayout is how older writers stored created_at.
const legacyTimeLayout = "2006-01-02 15:04:05"

type wireManifest struct {
	BackupID    string          `json:"backup_id"`
	ID          string          `json:"id"`
	BackupType  string          `json:"backup_type"`
	Type        string          `json:"type"`
	CreatedAt   json.RawMessage `json:"created_at"`
	CompletedAt json.RawMessage `json:"completed_at"`
	TotalSize   json.RawMessage `json:"total_size"`
	Size        json.RawMessage `json:"size"`
	Components  json.RawMessage `json:"components"`
	Files       json.RawMessage `json:"files"`
	Finalized   bool            `json:"finalized"`
}

type wireComponent struct {
	Name      string   `json:"name"`
	Archives  []string `json:"archives"`
	TotalSize int64    `json:"total_size,omitempty"`
}

type wireFile struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	Component string `json:"component"`
	Sequence  int    `json:"sequence,omitempty"`
	RemoteKey string `json:"remote_key,omitempty"`
}

type encodedManifest struct {
	BackupID    string          `json:"backup_id"`
	BackupType  string          `json:"backup_type"`
	CreatedAt   string          `json:"created_at"`
	CompletedAt string          `json:"completed_at,omitempty"`
	TotalSize   int64           `json:"total_size"`
	Components  []wireComponent `json:"components"`
	Files       []wireFile      `json:"files"`
	Finalized   bool            `json:"finalized"`
}

// Decode parses raw into a manifest, detecting the schema shape.
func Decode(raw []byte) (*model.Manifest, error) {
	m, _, err := DecodeShape(raw)
	return m, err
}

// DecodeShape is Decode that also reports the detected shape.
func DecodeShape(raw []byte) (*model.Manifest, Shape, error) {
	var w wireManifest
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, ShapeUnknown, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	m := &model.Manifest{
		BackupID:   firstNonEmpty(w.BackupID, w.ID),
		BackupType: firstNonEmpty(w.BackupType, w.Type),
		Finalized:  w.Finalized,
	}
	if m.BackupID == "" {
		return nil, ShapeUnknown, fmt.Errorf("%w: missing backup_id", ErrCorrupt)
	}

	created, err := parseTime(w.CreatedAt)
	if err != nil {
		return nil, ShapeUnknown, fmt.Errorf("%w: created_at: %v", ErrCorrupt, err)
	}
	m.CreatedAt = created

	completed, err := parseTime(w.CompletedAt)
	if err != nil {
		return nil, ShapeUnknown, fmt.Errorf("%w: completed_at: %v", ErrCorrupt, err)
	}
	if !completed.IsZero() {
		m.CompletedAt = &completed
	}

	if isPresent(w.TotalSize) {
		m.TotalSize = parseSize(w.TotalSize)
	} else {
		m.TotalSize = parseSize(w.Size)
	}

	components, shape, err := decodeComponents(w.Components)
	if err != nil {
		return nil, ShapeUnknown, err
	}
	m.Components = components

	files, err := decodeFiles(w.Files)
	if err != nil {
		return nil, ShapeUnknown, err
	}
	m.Files = files

	m.PruneComponents()
	return m, shape, nil
}

// Encode serializes m in the current shape. Components without archives
// are dropped.
func Encode(m *model.Manifest) ([]byte, error) {
	if m == nil || m.BackupID == "" {
		return nil, errors.New("encode manifest: missing backup_id")
	}

	out := encodedManifest{
		BackupID:   m.BackupID,
		BackupType: m.BackupType,
		TotalSize:  m.TotalSize,
		Components: []wireComponent{},
		Files:      []wireFile{},
		Finalized:  m.Finalized,
	}
	if !m.CreatedAt.IsZero() {
		out.CreatedAt = m.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if m.CompletedAt != nil && !m.CompletedAt.IsZero() {
		out.CompletedAt = m.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	for _, c := range m.Components {
		if len(c.Archives) == 0 {
			continue
		}
		out.Components = append(out.Components, wireComponent{
			Name:      c.Name,
			Archives:  append([]string(nil), c.Archives...),
			TotalSize: c.TotalSize,
		})
	}
	for _, f := range m.Files {
		out.Files = append(out.Files, wireFile(f))
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return data, nil
}

func decodeComponents(raw json.RawMessage) ([]model.Component, Shape, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ShapeCurrent, nil
	}

	switch trimmed[0] {
	case '{':
		comps, err := decodeLegacyComponents(trimmed)
		return comps, ShapeLegacy, err
	case '[':
		comps, err := decodeCurrentComponents(trimmed)
		return comps, ShapeCurrent, err
	default:
		return nil, ShapeUnknown, fmt.Errorf("%w: components is neither an object nor a list", ErrCorrupt)
	}
}

// decodeLegacyComponents turns {"name": [refs...]} into components, keeping
// the key order of the document.
func decodeLegacyComponents(raw []byte) ([]model.Component, error) {
	pairs, err := orderedObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: legacy components: %v", ErrCorrupt, err)
	}

	var comps []model.Component
	index := make(map[string]int)
	for _, p := range pairs {
		trimmed := bytes.TrimSpace(p.value)
		if len(trimmed) == 0 || trimmed[0] != '[' {
			continue
		}
		refs := flattenRefs(trimmed)
		if i, ok := index[p.key]; ok {
			comps[i].Archives = append(comps[i].Archives, refs...)
			continue
		}
		index[p.key] = len(comps)
		comps = append(comps, model.Component{Name: p.key, Archives: refs})
	}
	return comps, nil
}

func decodeCurrentComponents(raw []byte) ([]model.Component, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: components: %v", ErrCorrupt, err)
	}

	var comps []model.Component
	for _, item := range items {
		var c struct {
			Name      string          `json:"name"`
			Archives  json.RawMessage `json:"archives"`
			TotalSize json.RawMessage `json:"total_size"`
		}
		if err := json.Unmarshal(item, &c); err != nil || c.Name == "" {
			continue
		}
		comps = append(comps, model.Component{
			Name:      c.Name,
			Archives:  flattenRefs(c.Archives),
			TotalSize: parseSize(c.TotalSize),
		})
	}
	return comps, nil
}

func decodeFiles(raw json.RawMessage) ([]model.FileRef, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: files is not a list", ErrCorrupt)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: files: %v", ErrCorrupt, err)
	}

	var files []model.FileRef
	for _, item := range items {
		var f struct {
			Filename  string          `json:"filename"`
			File      string          `json:"file"`
			Size      json.RawMessage `json:"size"`
			Component string          `json:"component"`
			Sequence  int             `json:"sequence"`
			RemoteKey string          `json:"remote_key"`
		}
		if err := json.Unmarshal(item, &f); err != nil {
			continue
		}
		name := firstNonEmpty(f.Filename, f.File)
		if name == "" {
			continue
		}
		files = append(files, model.FileRef{
			Filename:  name,
			Size:      parseSize(f.Size),
			Component: f.Component,
			Sequence:  f.Sequence,
			RemoteKey: f.RemoteKey,
		})
	}
	return files, nil
}

// flattenRefs collects filenames from an array that may contain strings,
// objects carrying a filename, or nested arrays.
func flattenRefs(raw json.RawMessage) []string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil
	}

	var out []string
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			continue
		}
		switch item[0] {
		case '"':
			var s string
			if err := json.Unmarshal(item, &s); err == nil && s != "" {
				out = append(out, s)
			}
		case '[':
			out = append(out, flattenRefs(item)...)
		case '{':
			var obj struct {
				Filename string `json:"filename"`
				File     string `json:"file"`
				Name     string `json:"name"`
				Path     string `json:"path"`
			}
			if err := json.Unmarshal(item, &obj); err == nil {
				if s := firstNonEmpty(obj.Filename, obj.File, obj.Name, obj.Path); s != "" {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

type keyValue struct {
	key   string
	value json.RawMessage
}

func orderedObject(raw []byte) ([]keyValue, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object")
	}

	var pairs []keyValue
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key")
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		pairs = append(pairs, keyValue{key: key, value: v})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return pairs, nil
}

func parseTime(raw json.RawMessage) (time.Time, error) {
	trimmed := bytes.TrimSpace(raw)
	if !isPresent(trimmed) {
		return time.Time{}, nil
	}

	if trimmed[0] != '"' {
		n, err := strconv.ParseInt(string(trimmed), 10, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(string(trimmed), 64)
			if ferr != nil {
				return time.Time{}, fmt.Errorf("unsupported timestamp %s", trimmed)
			}
			n = int64(f)
		}
		return time.Unix(n, 0).UTC(), nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return time.Time{}, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation(legacyTimeLayout, s, time.UTC); err == nil {
		return t, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", s)
}

func parseSize(raw json.RawMessage) int64 {
	trimmed := bytes.TrimSpace(raw)
	if !isPresent(trimmed) {
		return 0
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return 0
		}
		trimmed = []byte(strings.TrimSpace(s))
	}
	if n, err := strconv.ParseInt(string(trimmed), 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(string(trimmed), 64); err == nil {
		return int64(f)
	}
	return 0
}

func isPresent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
