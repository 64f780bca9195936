package fsutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const copyChunk = 32 * 1024

// CopyFile copies src to dst in chunks, checking ctx between chunks so large
// media files do not pin a cancelled operation. dst is created with 0644 and
// truncated when present; parent directories are created as needed.
func CopyFile(ctx context.Context, dst, src string) error {
	if err := IsRegularFile(src); err != nil {
		return fmt.Errorf("copy source: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir for %s: %v", ErrFs, dst, err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrFs, dst, err)
	}

	buf := make([]byte, copyChunk)
	for {
		if err := ctx.Err(); err != nil {
			out.Close()
			os.Remove(dst)
			return err
		}
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				os.Remove(dst)
				return fmt.Errorf("%w: write %s: %v", ErrFs, dst, werr)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			os.Remove(dst)
			return fmt.Errorf("read %s: %w", src, rerr)
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrFs, dst, err)
	}
	return nil
}

// SamePath reports whether a and b resolve to the same physical path.
func SamePath(a, b string) (bool, error) {
	ra, err := resolveReal(a)
	if err != nil {
		return false, err
	}
	rb, err := resolveReal(b)
	if err != nil {
		return false, err
	}
	return ra == rb, nil
}

func resolveReal(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("canonicalize %q: %w", p, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return filepath.Clean(abs), nil
		}
		return "", fmt.Errorf("resolve %q: %w", p, err)
	}
	return real, nil
}
