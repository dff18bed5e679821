package retrieval

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MaxScanEntries bounds the fallback directory scan.
const MaxScanEntries = 256

var errArtifactMissing = errors.New("no artifact produced")

var partialSuffixes = []string{".part", ".ytdl", ".tmp"}

func isPartial(name string) bool {
	for _, s := range partialSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// locateArtifact finds the file the provider wrote for base. The expected
// "<base><ext>" path wins; otherwise at most limit directory entries are
// scanned for a regular "<base>.*<ext>" file.
func locateArtifact(dir, base, ext string, limit int) (string, error) {
	expected := filepath.Join(dir, base+ext)
	if info, err := os.Stat(expected); err == nil && info.Mode().IsRegular() {
		return expected, nil
	}

	f, err := os.Open(dir)
	if err != nil {
		return "", err
	}
	defer f.Close()

	entries, err := f.ReadDir(limit)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || isPartial(name) {
			continue
		}
		if strings.HasPrefix(name, base+".") && strings.HasSuffix(name, ext) {
			return filepath.Join(dir, name), nil
		}
	}
	return "", errArtifactMissing
}

// removeJobFiles deletes the regular "<base>.*" files in dir and returns how
// many were removed.
func removeJobFiles(dir, base string) int {
	matches, err := filepath.Glob(filepath.Join(dir, base+".*"))
	if err != nil {
		return 0
	}
	removed := 0
	for _, m := range matches {
		if info, err := os.Lstat(m); err == nil && info.Mode().IsRegular() {
			if os.Remove(m) == nil {
				removed++
			}
		}
	}
	return removed
}
