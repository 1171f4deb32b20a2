package export

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilename(t *testing.T) {
	clock := time.Date(2024, 3, 1, 10, 15, 30, 0, time.UTC)

	assert.Equal(t, "medical_codes_abc123_2024-03-01T10-15-30.csv", Filename("abc123", CSV, clock))
	assert.Equal(t, "medical_codes_abc123_2024-03-01T10-15-30.xlsx", Filename("abc123", Excel, clock))
}

func TestFilename_NormalizesToUTCAndDropsSubseconds(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	clock := time.Date(2024, 3, 1, 5, 15, 30, 999_000_000, est)

	assert.Equal(t, "medical_codes_s1_2024-03-01T10-15-30.csv", Filename("s1", CSV, clock))
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"csv": CSV, "CSV": CSV, "excel": Excel, "xlsx": Excel, " xls ": Excel} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("pdf")
	assert.Error(t, err)
	assert.False(t, Format("pdf").Valid())
}

func TestSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	path, n, err := Save(context.Background(), strings.NewReader("code,description\nE11.9,Type 2 diabetes\n"), dir, "a.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.csv"), path)
	assert.EqualValues(t, 39, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "code,description\nE11.9,Type 2 diabetes\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be renamed away")
}

func TestSave_CanceledLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Save(ctx, strings.NewReader("data"), dir, "a.csv")
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
