package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-appsave/pkg/util"
)

func writeOwner(t *testing.T, path string, owner Owner) {
	t.Helper()
	data, err := json.Marshal(owner)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, util.UserWritableFilePerms); err != nil {
		t.Fatalf("failed to write lock file: %v", err)
	}
}

func staleOwner() Owner {
	return Owner{
		PID:        12345,
		Hostname:   "stale-host",
		Holder:     "stale-run",
		Token:      "stale-token",
		LastUpdate: time.Now().Add(-(staleTimeout + time.Minute)),
	}
}

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, LockFileName)

	lock, err := Acquire(context.Background(), dir, "backup")
	if err != nil {
		t.Fatalf("expected to acquire lock, got %v", err)
	}
	if lock.Path() != lockPath {
		t.Errorf("expected lock path %s, got %s", lockPath, lock.Path())
	}
	owner, err := readOwner(lockPath)
	if err != nil {
		t.Fatalf("failed to read lock file: %v", err)
	}
	if owner.Holder != "backup" || owner.PID != int64(os.Getpid()) || owner.Token == "" {
		t.Errorf("unexpected lock content %+v", owner)
	}

	lock.Release()
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatal("lock file was not removed after release")
	}
	lock.Release() // second release is a no-op
}

func TestAcquire_Contention(t *testing.T) {
	dir := t.TempDir()

	lock1, err := Acquire(context.Background(), dir, "run-1")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer lock1.Release()

	_, err = Acquire(context.Background(), dir, "run-2")
	var active *ErrLockActive
	if !errors.As(err, &active) {
		t.Fatalf("expected *ErrLockActive, got %T: %v", err, err)
	}
	if active.Owner.Holder != "run-1" {
		t.Errorf("expected the error to name run-1, got %q", active.Owner.Holder)
	}
}

func TestAcquire_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Acquire(ctx, t.TempDir(), "run"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestAcquire_StaleLock(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, LockFileName)
	writeOwner(t, lockPath, staleOwner())

	lock, err := Acquire(context.Background(), dir, "new-run")
	if err != nil {
		t.Fatalf("failed to take over stale lock: %v", err)
	}
	defer lock.Release()

	owner, err := readOwner(lockPath)
	if err != nil {
		t.Fatal(err)
	}
	if owner.Holder != "new-run" {
		t.Errorf("expected new-run to hold the lock, got %q", owner.Holder)
	}
	matches, _ := filepath.Glob(lockPath + ".*.stale")
	if len(matches) != 0 {
		t.Errorf("expected no leftover stale files, got %v", matches)
	}
}

func TestAcquire_CorruptLock(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, LockFileName), []byte("{corrupt"), util.UserWritableFilePerms); err != nil {
		t.Fatal(err)
	}
	lock, err := Acquire(context.Background(), dir, "run")
	if err != nil {
		t.Fatalf("expected corrupt lock to be taken over, got %v", err)
	}
	lock.Release()
}

func TestAcquire_StaleLockContention(t *testing.T) {
	dir := t.TempDir()
	writeOwner(t, filepath.Join(dir, LockFileName), staleOwner())

	var wg sync.WaitGroup
	acquired := make(chan *Lock, 2)
	for n := 0; n < 2; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lock, err := Acquire(context.Background(), dir, "contender"); err == nil {
				acquired <- lock
			}
		}()
	}
	wg.Wait()
	close(acquired)

	if len(acquired) != 1 {
		t.Fatalf("expected exactly one contender to win, %d did", len(acquired))
	}
	for lock := range acquired {
		lock.Release()
	}
}

func TestHeartbeatKeepsLockFresh(t *testing.T) {
	originalHeartbeat, originalStale := heartbeatInterval, staleTimeout
	heartbeatInterval = 50 * time.Millisecond
	staleTimeout = 3 * heartbeatInterval
	t.Cleanup(func() {
		heartbeatInterval = originalHeartbeat
		staleTimeout = originalStale
	})

	dir := t.TempDir()
	lock, err := Acquire(context.Background(), dir, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	// Longer than the stale timeout: only the heartbeat keeps the lock alive.
	time.Sleep(staleTimeout + heartbeatInterval)

	_, err = Acquire(context.Background(), dir, "run-2")
	var active *ErrLockActive
	if !errors.As(err, &active) {
		t.Fatalf("expected ErrLockActive, got %v", err)
	}
}

func TestRelease_KeepsForeignLock(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, LockFileName)
	lock, err := Acquire(context.Background(), dir, "run-1")
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a takeover by another holder.
	foreign := staleOwner()
	foreign.Token = "foreign"
	foreign.LastUpdate = time.Now()
	writeOwner(t, lockPath, foreign)

	lock.Release()
	if _, err := os.Stat(lockPath); err != nil {
		t.Errorf("expected the foreign lock to survive release: %v", err)
	}
}

func TestReadOwner(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")

	t.Run("Valid", func(t *testing.T) {
		writeOwner(t, lockPath, Owner{PID: 1, Holder: "valid", Token: "abc"})
		owner, err := readOwner(lockPath)
		if err != nil || owner.Holder != "valid" {
			t.Errorf("unexpected result %+v %v", owner, err)
		}
	})

	t.Run("Persistently empty", func(t *testing.T) {
		if err := os.WriteFile(lockPath, nil, util.UserWritableFilePerms); err != nil {
			t.Fatal(err)
		}
		if _, err := readOwner(lockPath); !errors.Is(err, ErrCorruptLockFile) {
			t.Errorf("expected ErrCorruptLockFile, got %v", err)
		}
	})

	t.Run("Persistently corrupt", func(t *testing.T) {
		if err := os.WriteFile(lockPath, []byte("{corrupt"), util.UserWritableFilePerms); err != nil {
			t.Fatal(err)
		}
		if _, err := readOwner(lockPath); !errors.Is(err, ErrCorruptLockFile) {
			t.Errorf("expected ErrCorruptLockFile, got %v", err)
		}
	})

	t.Run("Transiently empty", func(t *testing.T) {
		if err := os.WriteFile(lockPath, nil, util.UserWritableFilePerms); err != nil {
			t.Fatal(err)
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			time.Sleep(20 * time.Millisecond)
			data, _ := json.Marshal(Owner{PID: 2, Holder: "transient"})
			_ = os.WriteFile(lockPath, data, util.UserWritableFilePerms)
		}()
		owner, err := readOwner(lockPath)
		<-done
		if err != nil || owner.Holder != "transient" {
			t.Errorf("unexpected result %+v %v", owner, err)
		}
	})
}

func TestRemoveLeftoverTemps(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, LockFileName)

	oldTemp := lockPath + ".123.tmp"
	newTemp := lockPath + ".456.tmp"
	for _, p := range []string{oldTemp, newTemp} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-(staleTimeout + time.Minute))
	if err := os.Chtimes(oldTemp, old, old); err != nil {
		t.Fatal(err)
	}

	removeLeftoverTemps(lockPath)

	if _, err := os.Stat(oldTemp); !os.IsNotExist(err) {
		t.Error("expected old temp file to be removed")
	}
	if _, err := os.Stat(newTemp); err != nil {
		t.Errorf("expected recent temp file to be kept: %v", err)
	}
}
