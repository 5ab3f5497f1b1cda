package locator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, dir, name string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("log"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestLocateByModificationTime(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)

	// name order and mtime order disagree
	writeLog(t, dir, "training_b.log", base)
	newest := writeLog(t, dir, "training_a.log", base.Add(10*time.Minute))
	writeLog(t, dir, "training_c.log", base.Add(5*time.Minute))

	got, err := Locate(dir, DefaultPattern)
	require.NoError(t, err)
	assert.Equal(t, newest, got)
}

func TestLocateNewerNameWins(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)

	writeLog(t, dir, "training_a.log", base)
	newest := writeLog(t, dir, "training_b.log", base.Add(time.Minute))

	got, err := Locate(dir, "")
	require.NoError(t, err)
	assert.Equal(t, newest, got)
}

func TestLocateIgnoresNonMatching(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)

	want := writeLog(t, dir, "training_run.log", base)
	writeLog(t, dir, "eval_run.log", base.Add(time.Hour))
	writeLog(t, dir, "training_run.txt", base.Add(time.Hour))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "training_dir.log"), 0o755))

	got, err := Locate(dir, DefaultPattern)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLocateNotFound(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
	}{
		{
			name:  "missing directory",
			setup: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") },
		},
		{
			name:  "empty directory",
			setup: func(t *testing.T) string { return t.TempDir() },
		},
		{
			name: "no matching files",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeLog(t, dir, "other.log", time.Now())
				return dir
			},
		},
		{
			name: "path is a file",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				return writeLog(t, dir, "training_x.log", time.Now())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Locate(tt.setup(t), DefaultPattern)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestLocateBadPattern(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "training_a.log", time.Now())

	_, err := Locate(dir, "[")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}
