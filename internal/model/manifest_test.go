package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManifest_PruneComponents(t *testing.T) {
	m := &Manifest{Components: []Component{
		{Name: "database", Archives: []string{"a.tar.gz"}},
		{Name: "plugins"},
		{Name: "uploads", Archives: []string{"b.tar.gz"}},
	}}
	m.PruneComponents()
	assert.Equal(t, []Component{
		{Name: "database", Archives: []string{"a.tar.gz"}},
		{Name: "uploads", Archives: []string{"b.tar.gz"}},
	}, m.Components)

	empty := &Manifest{Components: []Component{{Name: "plugins"}}}
	empty.PruneComponents()
	assert.Nil(t, empty.Components)
}

func TestManifest_ArchiveNames(t *testing.T) {
	m := &Manifest{
		Components: []Component{
			{Name: "database", Archives: []string{"db.tar.gz"}},
			{Name: "uploads", Archives: []string{"up.tar.gz", "db.tar.gz"}},
		},
		Files: []FileRef{{Filename: "up.tar.gz"}, {Filename: "extra.tar.gz"}},
	}
	assert.Equal(t, []string{"db.tar.gz", "up.tar.gz", "extra.tar.gz"}, m.ArchiveNames())
}

func TestManifest_SumAndLookup(t *testing.T) {
	m := &Manifest{Files: []FileRef{{Filename: "a", Size: 10}, {Filename: "b", Size: 32}}}
	assert.Equal(t, int64(42), m.SumFileSizes())

	f, ok := m.FileByName("b")
	assert.True(t, ok)
	assert.Equal(t, int64(32), f.Size)
	_, ok = m.FileByName("c")
	assert.False(t, ok)
}

func TestCatalogEntry_OrderTime(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	completed := created.Add(time.Hour)

	remote := CatalogEntry{Provenance: ProvenanceRemote, CreatedAt: created, CompletedAt: &completed}
	assert.Equal(t, completed, remote.OrderTime())

	local := CatalogEntry{Provenance: ProvenanceLocal, CreatedAt: created, CompletedAt: &completed}
	assert.Equal(t, created, local.OrderTime())

	var zero time.Time
	unfinished := CatalogEntry{Provenance: ProvenanceRemote, CreatedAt: created, CompletedAt: &zero}
	assert.Equal(t, created, unfinished.OrderTime())
}

func TestChunk_Uploaded(t *testing.T) {
	c := Chunk{}
	assert.False(t, c.Uploaded())
	c.RemoteKey = "backups/t/s/b/chunk-0001.zip"
	assert.True(t, c.Uploaded())
}
