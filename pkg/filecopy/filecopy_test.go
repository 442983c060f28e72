package filecopy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-appsave/pkg/pool"
)

// helper to create a file with specific content and mod time.
func createFile(t *testing.T, path, content string, modTime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create dir for test file: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("failed to set mod time for test file: %v", err)
	}
}

// helper to check if a path exists.
func pathExists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	if err == nil {
		return true
	}
	if os.IsNotExist(err) {
		return false
	}
	t.Fatalf("unexpected error checking path %s: %v", path, err)
	return false
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(b)
}

func newTestCopier() *Copier {
	return NewCopier(pool.NewFixedBuffer(16), 0, 0)
}

func TestCopy_File(t *testing.T) {
	src := filepath.Join(t.TempDir(), "settings.ini")
	modTime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	createFile(t, src, "theme=dark\nfont=mono\n", modTime)

	dst := filepath.Join(t.TempDir(), "a", "b", "settings.ini")
	n, err := newTestCopier().Copy(context.Background(), src, dst, nil)
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if n != int64(len("theme=dark\nfont=mono\n")) {
		t.Errorf("expected %d bytes, got %d", len("theme=dark\nfont=mono\n"), n)
	}
	if got := readFile(t, dst); got != "theme=dark\nfont=mono\n" {
		t.Errorf("unexpected content %q", got)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(modTime) {
		t.Errorf("expected mod time %v, got %v", modTime, info.ModTime())
	}

	entries, _ := os.ReadDir(filepath.Dir(dst))
	if len(entries) != 1 {
		t.Errorf("expected no temp files left behind, got %d entries", len(entries))
	}
}

func TestCopy_FileOverwritesReadOnlyCopy(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("rename over a read-only file is not portable to windows")
	}
	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "cfg")
	createFile(t, src, "v1", time.Now())
	if err := os.Chmod(src, 0444); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "cfg")
	c := newTestCopier()
	if _, err := c.Copy(context.Background(), src, dst, nil); err != nil {
		t.Fatalf("first copy failed: %v", err)
	}
	info, _ := os.Stat(dst)
	if info.Mode().Perm()&0200 == 0 {
		t.Errorf("expected the copy to be user writable, got %v", info.Mode().Perm())
	}

	os.Chmod(src, 0644)
	createFile(t, src, "v2", time.Now())
	if _, err := c.Copy(context.Background(), src, dst, nil); err != nil {
		t.Fatalf("second copy failed: %v", err)
	}
	if got := readFile(t, dst); got != "v2" {
		t.Errorf("expected overwritten content v2, got %q", got)
	}
}

func TestCopy_DirectoryMergeAndExcludes(t *testing.T) {
	src := t.TempDir()
	now := time.Now()
	createFile(t, filepath.Join(src, "config.json"), "{}", now)
	createFile(t, filepath.Join(src, "profiles", "default.json"), "abc", now)
	createFile(t, filepath.Join(src, "Cache", "blob.bin"), "0123456789", now)
	createFile(t, filepath.Join(src, "logs", "today.log"), "log", now)

	dst := t.TempDir()
	createFile(t, filepath.Join(dst, "keep.txt"), "untouched", now)
	createFile(t, filepath.Join(dst, "config.json"), "old", now)

	excludes := []*regexp.Regexp{
		regexp.MustCompile(`^Cache$`),
		regexp.MustCompile(`\.log$`),
	}
	n, err := newTestCopier().Copy(context.Background(), src, dst, excludes)
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if n != int64(len("{}")+len("abc")) {
		t.Errorf("expected %d bytes, got %d", len("{}")+len("abc"), n)
	}

	testCases := []struct {
		rel    string
		exists bool
	}{
		{"config.json", true},
		{"profiles/default.json", true},
		{"keep.txt", true},
		{"Cache", false},
		{"Cache/blob.bin", false},
		{"logs", true},
		{"logs/today.log", false},
	}
	for _, tc := range testCases {
		t.Run(tc.rel, func(t *testing.T) {
			if got := pathExists(t, filepath.Join(dst, filepath.FromSlash(tc.rel))); got != tc.exists {
				t.Errorf("exists(%s) = %v, want %v", tc.rel, got, tc.exists)
			}
		})
	}
	if got := readFile(t, filepath.Join(dst, "config.json")); got != "{}" {
		t.Errorf("expected config.json to be overwritten, got %q", got)
	}
	if got := readFile(t, filepath.Join(dst, "keep.txt")); got != "untouched" {
		t.Errorf("expected merge to leave keep.txt alone, got %q", got)
	}
}

func TestCopy_MissingSource(t *testing.T) {
	_, err := newTestCopier().Copy(context.Background(), filepath.Join(t.TempDir(), "nope"), t.TempDir(), nil)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestCopy_Cancellation(t *testing.T) {
	t.Run("Cancelled before start", func(t *testing.T) {
		src := filepath.Join(t.TempDir(), "f")
		createFile(t, src, "x", time.Now())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		dst := filepath.Join(t.TempDir(), "f")
		if _, err := newTestCopier().Copy(ctx, src, dst, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if pathExists(t, dst) {
			t.Error("expected nothing to be copied")
		}
	})

	t.Run("Cancelled between directory entries", func(t *testing.T) {
		src := t.TempDir()
		for _, name := range []string{"a", "b", "c", "d"} {
			createFile(t, filepath.Join(src, name), name, time.Now())
		}
		// Root, a and b are visited before the context reports cancellation.
		ctx := newCancelAfter(3)
		dst := t.TempDir()

		n, err := newTestCopier().Copy(ctx, src, dst, nil)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 bytes copied before cancellation, got %d", n)
		}
		for name, want := range map[string]bool{"a": true, "b": true, "c": false, "d": false} {
			if got := pathExists(t, filepath.Join(dst, name)); got != want {
				t.Errorf("exists(%s) = %v, want %v", name, got, want)
			}
		}
	})
}

// cancelAfter is a context that reports cancellation after n Done() polls.
type cancelAfter struct {
	context.Context
	remaining int
	open      chan struct{}
	closed    chan struct{}
}

func newCancelAfter(n int) *cancelAfter {
	c := &cancelAfter{
		Context:   context.Background(),
		remaining: n,
		open:      make(chan struct{}),
		closed:    make(chan struct{}),
	}
	close(c.closed)
	return c
}

func (c *cancelAfter) Done() <-chan struct{} {
	if c.remaining <= 0 {
		return c.closed
	}
	c.remaining--
	return c.open
}

func (c *cancelAfter) Err() error {
	if c.remaining <= 0 {
		return context.Canceled
	}
	return nil
}

func TestCopy_RetryGivesUpAfterRetryCount(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("directory permissions are not enforced the same way on windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	src := filepath.Join(t.TempDir(), "f")
	createFile(t, src, "x", time.Now())

	lockedDir := t.TempDir()
	if err := os.Chmod(lockedDir, 0555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(lockedDir, 0755) })

	c := NewCopier(pool.NewFixedBuffer(16), 2, time.Millisecond)
	_, err := c.Copy(context.Background(), src, filepath.Join(lockedDir, "f"), nil)
	if err == nil {
		t.Fatal("expected an error writing into a read-only directory")
	}
}
