// Package fsutil implements the sandbox artifact store primitives: atomic
// JSON/text writes and symlink-aware path confinement. Every sandbox-relative
// path in the system passes through one of the confinement helpers before any
// read or write.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscape marks a path that resolves outside its confining root.
// Callers treat it as fatal and never retry.
var ErrPathEscape = fmt.Errorf("path escapes confinement root")

// Resolve joins root and rel and ensures the result is physically underneath
// the resolved root. It protects against traversal, symlink escape and
// backslash bypass. rel MUST be relative.
func Resolve(root, rel string) (string, error) {
	if strings.Contains(rel, "\\") {
		return "", fmt.Errorf("%w: backslash in %q", ErrPathEscape, rel)
	}

	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "/") {
		return "", fmt.Errorf("%w: target must be relative: %q", ErrPathEscape, rel)
	}
	// Clean collapses "a/../b"; anything still starting with ".." points outside.
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: traversal in %q", ErrPathEscape, rel)
	}

	realRoot, err := resolveRoot(root)
	if err != nil {
		return "", err
	}
	return checkWithin(realRoot, filepath.Join(realRoot, cleaned))
}

// ResolveAbs ensures the absolute path target is physically underneath the
// resolved root.
func ResolveAbs(root, target string) (string, error) {
	if strings.Contains(target, "\\") {
		return "", fmt.Errorf("%w: backslash in %q", ErrPathEscape, target)
	}
	if !filepath.IsAbs(target) {
		return "", fmt.Errorf("%w: target must be absolute: %q", ErrPathEscape, target)
	}

	realRoot, err := resolveRoot(root)
	if err != nil {
		return "", err
	}
	return checkWithin(realRoot, filepath.Clean(target))
}

// SafeRelPath canonicalizes p and root, verifies p is a descendant of root,
// and returns the POSIX-normalized relative path.
func SafeRelPath(p, root string) (string, error) {
	realRoot, err := resolveRoot(root)
	if err != nil {
		return "", err
	}

	abs := p
	if !filepath.IsAbs(abs) {
		abs, err = filepath.Abs(p)
		if err != nil {
			return "", fmt.Errorf("canonicalize %q: %w", p, err)
		}
	}
	real, err := checkWithin(realRoot, filepath.Clean(abs))
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(realRoot, real)
	if err != nil {
		return "", fmt.Errorf("rel computation failed: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// EnsureUnder reports whether p resolves strictly inside root. It is the
// boolean form used at sandbox boundaries where the caller owns the error.
func EnsureUnder(p, root string) bool {
	var err error
	if filepath.IsAbs(p) {
		_, err = ResolveAbs(root, p)
	} else {
		_, err = Resolve(root, p)
	}
	return err == nil
}

// resolveRoot canonicalizes the confinement root, following symlinks when the
// root exists.
func resolveRoot(root string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid root path: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return "", err
		}
		realRoot = absRoot
	}
	return realRoot, nil
}

// checkWithin resolves symlinks on fullPath (or its nearest existing parent
// when the leaf does not exist yet) and verifies the result stays under
// realRoot.
func checkWithin(realRoot, fullPath string) (string, error) {
	var realPath string
	if _, err := os.Lstat(fullPath); err == nil {
		rp, err := filepath.EvalSymlinks(fullPath)
		if err != nil {
			// Existing but unresolvable entries are denied rather than trusted.
			return "", fmt.Errorf("failed to resolve path: %w", err)
		}
		realPath = rp
	} else {
		dir := filepath.Dir(fullPath)
		if rp, err := filepath.EvalSymlinks(dir); err == nil {
			realPath = filepath.Join(rp, filepath.Base(fullPath))
		} else if _, statErr := os.Stat(dir); statErr == nil {
			// Parent exists but cannot be resolved (permissions, loop). Fail closed.
			return "", fmt.Errorf("failed to resolve parent path: %w", err)
		} else {
			// Parent absent too; rely on the lexical Rel check below.
			realPath = fullPath
		}
	}

	rel, err := filepath.Rel(realRoot, realPath)
	if err != nil {
		return "", fmt.Errorf("rel computation failed: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s resolves outside %s", ErrPathEscape, realPath, realRoot)
	}
	return realPath, nil
}

// IsRegularFile checks that path exists and is a regular file.
func IsRegularFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", path)
	}
	return nil
}
