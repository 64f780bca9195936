package bundle

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"
)

// ManifestVersion stamps manifest.v1.json.
const ManifestVersion = "caf.bundle_manifest.v1"

const manifestName = "manifest.v1.json"

// Manifest lists every file the bundle ships with size and BLAKE3 digest,
// sorted by path. Posting tools verify bundles against it before upload.
type Manifest struct {
	Version string         `json:"version"`
	Files   []ManifestFile `json:"files"`
}

// ManifestFile is one manifest entry. Path is bundle-relative and
// POSIX-normalized.
type ManifestFile struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Blake3 string `json:"blake3"`
}

// writeManifest hashes every file under root and drops manifest.v1.json at
// the root. It runs on the temp tree before the atomic swap, so the
// manifest itself is covered by the swap. Returns the number of files
// listed.
func writeManifest(root string) (int, error) {
	var files []ManifestFile

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", path, err)
		}
		digest, size, err := blake3Sum(path)
		if err != nil {
			return err
		}
		files = append(files, ManifestFile{
			Path:   filepath.ToSlash(rel),
			Size:   size,
			Blake3: digest,
		})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bundle: hash tree %s: %w", root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	data, err := json.MarshalIndent(Manifest{Version: ManifestVersion, Files: files}, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("bundle: marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, manifestName), append(data, '\n'), 0o644); err != nil {
		return 0, fmt.Errorf("bundle: write manifest: %w", err)
	}
	return len(files), nil
}

func blake3Sum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
