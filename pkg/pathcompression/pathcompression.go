// Package pathcompression packs the content directory of a backup set into a
// single archive after a backup, and unpacks it again before a restore.
//
// Archives hold directories and regular files only. Entry names are
// forward-slash paths relative to the packed directory.
package pathcompression

import (
	"archive/tar"
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-appsave/pkg/plog"
	"github.com/paulschiretz/pgl-appsave/pkg/pool"
	"github.com/paulschiretz/pgl-appsave/pkg/util"
)

// PathCompressor compresses and extracts backup set content.
type PathCompressor struct {
	ioBufferPool *pool.FixedBufferPool
	dryRun       bool
}

// NewPathCompressor creates a PathCompressor. In dry-run mode nothing is written.
func NewPathCompressor(ioBufferPool *pool.FixedBufferPool, dryRun bool) *PathCompressor {
	return &PathCompressor{ioBufferPool: ioBufferPool, dryRun: dryRun}
}

// Compress writes absSourcePath into the archive absArchiveFilePath. The
// archive is assembled in a temporary file and renamed into place.
func (c *PathCompressor) Compress(ctx context.Context, absSourcePath, absArchiveFilePath string, format Format, level Level) (retErr error) {
	if c.dryRun {
		plog.Notice("[DRY RUN] COMPRESS", "source", absSourcePath, "target", absArchiveFilePath)
		return nil
	}
	plog.Notice("COMPRESS", "source", absSourcePath, "target", absArchiveFilePath, "format", format)

	trgF, err := os.CreateTemp(filepath.Dir(absArchiveFilePath), "pgl-appsave-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp archive: %w", err)
	}
	tempTrgPath := trgF.Name()
	defer func() {
		if retErr != nil {
			trgF.Close()
			os.Remove(tempTrgPath)
		}
	}()

	bw := bufio.NewWriterSize(trgF, int(c.ioBufferPool.Size()))
	switch format {
	case TarGz, TarZst:
		err = c.writeTar(ctx, absSourcePath, bw, format, level)
	case Zip:
		err = c.writeZip(ctx, absSourcePath, bw, level)
	default:
		err = fmt.Errorf("unsupported compression format %q", format)
	}
	if err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush archive: %w", err)
	}
	if err := trgF.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tempTrgPath, absArchiveFilePath); err != nil {
		return fmt.Errorf("failed to rename temp archive to final path: %w", err)
	}
	return nil
}

// walk calls fn for every directory and regular file below root, root excluded.
func walk(ctx context.Context, root string, fn func(absPath, relKey string, info fs.FileInfo) error) error {
	return filepath.WalkDir(root, func(absPath string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return err
		}
		if absPath == root {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			plog.Debug("Skipping non-regular file in archive", "path", absPath)
			return nil
		}
		rel, err := filepath.Rel(root, absPath)
		if err != nil {
			return err
		}
		return fn(absPath, util.NormalizePath(rel), info)
	})
}

func (c *PathCompressor) copyFrom(w io.Writer, absPath string) error {
	in, err := os.Open(absPath)
	if err != nil {
		return err
	}
	defer in.Close()
	bufPtr := c.ioBufferPool.Get()
	defer c.ioBufferPool.Put(bufPtr)
	_, err = io.CopyBuffer(w, in, *bufPtr)
	return err
}

func (c *PathCompressor) writeTar(ctx context.Context, root string, w io.Writer, format Format, level Level) error {
	var wc io.WriteCloser
	var err error
	if format == TarGz {
		wc, err = pgzip.NewWriterLevel(w, level.gzipLevel())
	} else {
		wc, err = zstd.NewWriter(w, zstd.WithEncoderLevel(level.zstdLevel()))
	}
	if err != nil {
		return fmt.Errorf("failed to create %s writer: %w", format, err)
	}

	tw := tar.NewWriter(wc)
	err = walk(ctx, root, func(absPath, relKey string, info fs.FileInfo) error {
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = relKey
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("failed to write tar header for %s: %w", relKey, err)
		}
		if info.IsDir() {
			return nil
		}
		return c.copyFrom(tw, absPath)
	})
	if err != nil {
		wc.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		wc.Close()
		return fmt.Errorf("failed to close tar writer: %w", err)
	}
	return wc.Close()
}

func (c *PathCompressor) writeZip(ctx context.Context, root string, w io.Writer, level Level) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level.flateLevel())
	})
	err := walk(ctx, root, func(absPath, relKey string, info fs.FileInfo) error {
		fh, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		fh.Name = relKey
		if info.IsDir() {
			fh.Name += "/"
			fh.Method = zip.Store
		} else {
			fh.Method = zip.Deflate
		}
		fw, err := zw.CreateHeader(fh)
		if err != nil {
			return fmt.Errorf("failed to write zip header for %s: %w", relKey, err)
		}
		if info.IsDir() {
			return nil
		}
		return c.copyFrom(fw, absPath)
	})
	if err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// Extract unpacks absArchiveFilePath into absExtractTargetPath, overwriting
// existing files. Entries that would land outside the target are rejected.
func (c *PathCompressor) Extract(ctx context.Context, absArchiveFilePath, absExtractTargetPath string, format Format) error {
	if c.dryRun {
		plog.Notice("[DRY RUN] EXTRACT", "source", absArchiveFilePath, "target", absExtractTargetPath)
		return nil
	}
	plog.Notice("EXTRACT", "source", absArchiveFilePath, "target", absExtractTargetPath)

	if err := os.MkdirAll(absExtractTargetPath, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create extraction directory: %w", err)
	}
	switch format {
	case TarGz, TarZst:
		return c.extractTar(ctx, absArchiveFilePath, absExtractTargetPath, format)
	case Zip:
		return c.extractZip(ctx, absArchiveFilePath, absExtractTargetPath)
	}
	return fmt.Errorf("unsupported compression format %q", format)
}

// safeTarget joins name onto root and rejects paths escaping root (zip slip).
func safeTarget(root, name string) (string, error) {
	absTarget := filepath.Join(root, util.DenormalizePath(util.NormalizePath(name)))
	cleanRoot := filepath.Clean(root)
	if absTarget != cleanRoot && !strings.HasPrefix(absTarget, cleanRoot+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal file path in archive: %s", name)
	}
	return absTarget, nil
}

// entryMode strips SUID and SGID and keeps the entry user writable.
func entryMode(mode fs.FileMode) fs.FileMode {
	return util.WithUserWritePermission(mode.Perm() &^ (os.ModeSetuid | os.ModeSetgid))
}

func (c *PathCompressor) writeEntry(absTarget string, mode fs.FileMode, modTime time.Time, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(absTarget), util.UserWritableDirPerms); err != nil {
		return err
	}
	// Remove first so a symlink planted at the target is not followed.
	_ = os.Remove(absTarget)
	out, err := os.OpenFile(absTarget, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, entryMode(mode))
	if err != nil {
		return err
	}
	bufPtr := c.ioBufferPool.Get()
	_, err = io.CopyBuffer(out, r, *bufPtr)
	c.ioBufferPool.Put(bufPtr)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to extract %s: %w", absTarget, err)
	}
	return os.Chtimes(absTarget, modTime, modTime)
}

func (c *PathCompressor) extractTar(ctx context.Context, archive, root string, format Format) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReaderSize(f, int(c.ioBufferPool.Size()))
	if format == TarGz {
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	} else {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return err
		}
		defer zr.Close()
		r = zr
	}

	tr := tar.NewReader(r)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		absTarget, err := safeTarget(root, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(absTarget, util.WithUserExecutePermission(entryMode(hdr.FileInfo().Mode()))); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := c.writeEntry(absTarget, hdr.FileInfo().Mode(), hdr.ModTime, tr); err != nil {
				return err
			}
		default:
			plog.Debug("Skipping unsupported archive entry", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}
}

func (c *PathCompressor) extractZip(ctx context.Context, archive, root string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("failed to open zip file: %w", err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		absTarget, err := safeTarget(root, zf.Name)
		if err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(absTarget, util.WithUserExecutePermission(entryMode(zf.Mode()))); err != nil {
				return err
			}
			continue
		}
		if !zf.Mode().IsRegular() {
			plog.Debug("Skipping unsupported archive entry", "name", zf.Name)
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		err = c.writeEntry(absTarget, zf.Mode(), zf.Modified, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
