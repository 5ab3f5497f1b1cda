package locator

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultPattern matches the files written by the training scripts.
const DefaultPattern = "training_*.log"

// ErrNotFound is returned when the log directory is missing or holds no
// matching log file.
var ErrNotFound = errors.New("training log not found")

// Locate returns the most recently modified file in dir whose name matches
// pattern. Names are not used for ordering.
func Locate(dir, pattern string) (string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Wrapf(ErrNotFound, "log directory not found: %s", dir)
		}
		return "", errors.Wrapf(err, "failed to stat log directory %s", dir)
	}
	if !info.IsDir() {
		return "", errors.Wrapf(ErrNotFound, "log directory not found: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read log directory %s", dir)
	}

	var (
		latest   string
		latestMT int64
	)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ok, err := filepath.Match(pattern, entry.Name())
		if err != nil {
			return "", errors.Wrapf(err, "invalid log file pattern %q", pattern)
		}
		if !ok {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		mt := fi.ModTime().UnixNano()
		if latest == "" || mt > latestMT {
			latest = filepath.Join(dir, entry.Name())
			latestMT = mt
		}
	}

	if latest == "" {
		return "", errors.Wrapf(ErrNotFound, "no training log files found in %s", dir)
	}

	log.Debug().Str("dir", dir).Str("file", latest).Msg("located latest training log")
	return latest, nil
}
