// Package filecopy is the OS copy primitive: file-to-file and recursive
// directory-to-directory copies that report bytes transferred and stop
// between entries when the context is cancelled.
package filecopy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/paulschiretz/pgl-appsave/pkg/plog"
	"github.com/paulschiretz/pgl-appsave/pkg/pool"
	"github.com/paulschiretz/pgl-appsave/pkg/util"
)

// Copier copies files through a shared buffer pool.
type Copier struct {
	ioBufferPool *pool.FixedBufferPool
	retryCount   int
	retryWait    time.Duration
}

// NewCopier creates a Copier. Failed file copies are retried retryCount times.
func NewCopier(ioBufferPool *pool.FixedBufferPool, retryCount int, retryWait time.Duration) *Copier {
	return &Copier{
		ioBufferPool: ioBufferPool,
		retryCount:   retryCount,
		retryWait:    retryWait,
	}
}

// Copy copies src to dst and returns the number of bytes written.
//
// A directory is merged into dst: existing files are overwritten, others are
// left alone. excludes are matched against forward-slash paths relative to
// src; an excluded directory skips its whole subtree. On cancellation the
// bytes copied so far are returned together with the context error.
func (c *Copier) Copy(ctx context.Context, src, dst string, excludes []*regexp.Regexp) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	info, err := os.Stat(src)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return c.copyFile(ctx, src, dst, info)
	}
	return c.copyDir(ctx, src, dst, excludes)
}

func (c *Copier) copyDir(ctx context.Context, src, dst string, excludes []*regexp.Regexp) (int64, error) {
	var written int64
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel != "." && isExcluded(util.NormalizePath(rel), excludes) {
			plog.Debug("Excluded", "path", util.NormalizePath(rel))
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			perm := util.WithUserExecutePermission(util.WithUserWritePermission(info.Mode().Perm()))
			if err := os.MkdirAll(target, perm); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", target, err)
			}
			return nil
		case info.Mode().IsRegular():
			n, err := c.copyFile(ctx, path, target, info)
			written += n
			return err
		default:
			plog.Debug("Skipping non-regular file", "path", path, "mode", info.Mode().String())
			return nil
		}
	})
	return written, err
}

func isExcluded(relKey string, excludes []*regexp.Regexp) bool {
	for _, re := range excludes {
		if re.MatchString(relKey) {
			return true
		}
	}
	return false
}

// copyFile copies one file atomically: the content goes to a temporary file
// next to dst which is renamed over dst once permissions and timestamps are set.
func (c *Copier) copyFile(ctx context.Context, src, dst string, srcInfo os.FileInfo) (int64, error) {
	var lastErr error
	for i := 0; i <= c.retryCount; i++ {
		if i > 0 {
			plog.Warn("Retrying file copy", "file", src, "attempt", fmt.Sprintf("%d/%d", i, c.retryCount), "after", c.retryWait)
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(c.retryWait):
			}
		}

		var n int64
		n, lastErr = c.copyFileOnce(src, dst, srcInfo)
		if lastErr == nil {
			return n, nil
		}
		// A missing source will not appear by retrying.
		if errors.Is(lastErr, os.ErrNotExist) {
			return 0, lastErr
		}
	}
	return 0, fmt.Errorf("failed to copy file %s after %d retries: %w", src, c.retryCount, lastErr)
}

func (c *Copier) copyFileOnce(src, dst string, srcInfo os.FileInfo) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open source file %s: %w", src, err)
	}
	defer in.Close()

	dstDir := filepath.Dir(dst)
	if err := os.MkdirAll(dstDir, util.UserWritableDirPerms); err != nil {
		return 0, fmt.Errorf("failed to ensure destination directory %s exists: %w", dstDir, err)
	}

	out, err := os.CreateTemp(dstDir, "pgl-appsave-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file in %s: %w", dstDir, err)
	}
	tempPath := out.Name()
	// Cleared after a successful rename.
	defer func() {
		if tempPath != "" {
			os.Remove(tempPath)
		}
	}()

	bufPtr := c.ioBufferPool.Get()
	defer c.ioBufferPool.Put(bufPtr)

	n, err := io.CopyBuffer(out, in, *bufPtr)
	if err != nil {
		out.Close()
		return 0, fmt.Errorf("failed to copy content from %s to %s: %w", src, tempPath, err)
	}

	// Keep the copy writable so the next run can replace it.
	if err := out.Chmod(util.WithUserWritePermission(srcInfo.Mode().Perm())); err != nil {
		out.Close()
		return 0, fmt.Errorf("failed to set permissions on temporary file %s: %w", tempPath, err)
	}

	// Close before Chtimes; flushing can touch the modification time.
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temporary file %s: %w", tempPath, err)
	}
	if err := os.Chtimes(tempPath, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return 0, fmt.Errorf("failed to set timestamps on %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, dst); err != nil {
		return 0, fmt.Errorf("failed to move %s into place: %w", dst, err)
	}
	tempPath = ""
	return n, nil
}
