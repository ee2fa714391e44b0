package archive

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/sitebackup/internal/model"
)

func files(sizes ...int64) []model.SourceFile {
	out := make([]model.SourceFile, len(sizes))
	for i, s := range sizes {
		out[i] = model.SourceFile{Path: fmt.Sprintf("/src/f%d", i), RelativePath: fmt.Sprintf("f%d", i), SizeBytes: s}
	}
	return out
}

func TestClampSplitSize(t *testing.T) {
	assert.Equal(t, DefaultSplitSize, ClampSplitSize(0))
	assert.Equal(t, DefaultSplitSize, ClampSplitSize(-5))
	assert.Equal(t, MinSplitSize, ClampSplitSize(1))
	assert.Equal(t, MaxSplitSize, ClampSplitSize(5000*mib))
	assert.Equal(t, 300*mib, ClampSplitSize(300*mib))
}

func TestPlan_PacksUntilThreshold(t *testing.T) {
	parts := Plan(files(40, 40, 30, 10), 100)
	require.Len(t, parts, 2)
	assert.Equal(t, int64(80), PartSize(parts[0]))
	// 80+30 would reach the threshold, so a new part opens.
	assert.Equal(t, int64(40), PartSize(parts[1]))
}

func TestPlan_ExactThresholdOpensNewPart(t *testing.T) {
	parts := Plan(files(60, 40), 100)
	require.Len(t, parts, 2)
}

func TestPlan_OversizedFileIsolated(t *testing.T) {
	parts := Plan(files(10, 250, 10), 100)
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 1)
	assert.Equal(t, int64(250), PartSize(parts[1]))
	assert.Len(t, parts[1], 1)
	assert.Equal(t, int64(10), PartSize(parts[2]))
}

func TestPlan_Empty(t *testing.T) {
	assert.Empty(t, Plan(nil, 100))
}

func TestPlan_TwoComponentScenario(t *testing.T) {
	split := int64(200 * mib)
	src := []model.SourceFile{
		{Path: "/dump.sql", SizeBytes: 50 * mib, Component: "database"},
		{Path: "/uploads.bin", SizeBytes: 320 * mib, Component: "uploads"},
	}

	var parts [][]model.SourceFile
	for _, g := range groupByComponent(src) {
		parts = append(parts, Plan(g.files, split)...)
	}
	require.Len(t, parts, 2)
	assert.Equal(t, 50*mib, PartSize(parts[0]))
	assert.Equal(t, 320*mib, PartSize(parts[1]))
}

func TestPlan_SplitProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		split := int64(rng.Intn(500) + 1)
		sizes := make([]int64, rng.Intn(40))
		var total int64
		for i := range sizes {
			sizes[i] = int64(rng.Intn(800))
			total += sizes[i]
		}

		parts := Plan(files(sizes...), split)

		var seen int
		var sum int64
		for _, p := range parts {
			require.NotEmpty(t, p)
			size := PartSize(p)
			if size >= split {
				require.Len(t, p, 1, "only a lone oversized file may reach the split size")
			}
			seen += len(p)
			sum += size
		}
		require.Equal(t, len(sizes), seen)
		require.Equal(t, total, sum)
	}
}

func TestArchiveName(t *testing.T) {
	assert.Equal(t, "b1-uploads.tar.gz", ArchiveName("b1", "uploads", 1, FormatTarGz))
	assert.Equal(t, "b1-uploads-part002.tar.gz", ArchiveName("b1", "uploads", 2, FormatTarGz))
	assert.Equal(t, "b1-wp-content_x.zip", ArchiveName("b1", "wp/content x", 1, FormatZip))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatTarGz, f)

	f, err = ParseFormat("ZIP")
	require.NoError(t, err)
	assert.Equal(t, FormatZip, f)

	_, err = ParseFormat("rar")
	assert.Error(t, err)
}
