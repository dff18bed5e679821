package utils

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const copyChunk = 32 * 1024

// CopyWithProgress copies src to dst, reporting progress after each chunk.
// It stops early when ctx is cancelled.
func CopyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, total int64, progress func(done, total int64)) (int64, error) {
	buf := make([]byte, copyChunk)
	var done int64
	for {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			w, err := dst.Write(buf[:n])
			done += int64(w)
			if err != nil {
				return done, err
			}
			if w != n {
				return done, io.ErrShortWrite
			}
			if progress != nil {
				progress(done, total)
			}
		}
		if readErr == io.EOF {
			return done, nil
		}
		if readErr != nil {
			return done, readErr
		}
	}
}

// CopyFile copies src into dst, creating dst's directory.
func CopyFile(ctx context.Context, src, dst string, progress func(done, total int64)) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", dst, err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	if _, err := CopyWithProgress(ctx, out, in, info.Size(), progress); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
