// Package lockfile guards a directory against concurrent writers, across
// processes and within one. A held lock is refreshed by a heartbeat; a lock
// whose heartbeat stopped for longer than the stale timeout may be taken over.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paulschiretz/pgl-appsave/pkg/plog"
	"github.com/paulschiretz/pgl-appsave/pkg/util"
)

// LockFileName is the lock file created in the guarded directory.
const LockFileName = ".~pgl-appsave.lock"

// Owner is what a lock file records about its holder.
type Owner struct {
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	Holder     string    `json:"holder"`
	Token      string    `json:"token"`
	LastUpdate time.Time `json:"lastUpdate"`
}

// ErrLockActive is returned by Acquire while another holder keeps the lock alive.
type ErrLockActive struct {
	Owner Owner
	Age   time.Duration
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("locked by %s (PID %d on %s), last heartbeat %s ago",
		e.Owner.Holder, e.Owner.PID, e.Owner.Hostname, e.Age.Truncate(time.Second))
}

var (
	// ErrLostRace is returned when a concurrent takeover of a stale lock won.
	ErrLostRace = errors.New("lost race during stale lock takeover")
	// ErrCorruptLockFile is returned for lock files that stay empty or unparsable.
	ErrCorruptLockFile = errors.New("lock file is corrupt or empty")
)

// Vars so tests can shorten them.
var (
	heartbeatInterval = time.Minute
	staleTimeout      = 3 * heartbeatInterval
	retryDelay        = 100 * time.Millisecond
)

// Lock is a held lock. Release it exactly when the guarded work is done.
type Lock struct {
	path  string
	owner Owner

	mu       sync.Mutex
	stop     context.CancelFunc
	released bool
}

// Acquire takes the lock of dir for holder. ctx only bounds the acquisition;
// the heartbeat runs until Release.
func Acquire(ctx context.Context, dir, holder string) (*Lock, error) {
	path := filepath.Join(dir, LockFileName)

	const attempts = 3
	for n := 0; n < attempts; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		owner, err := newOwner(holder)
		if err != nil {
			return nil, err
		}
		err = createExclusive(path, owner)
		if err == nil {
			return start(path, owner), nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file %s: %w", path, err)
		}

		current, err := readOwner(path)
		staleToken := current.Token
		switch {
		case errors.Is(err, ErrCorruptLockFile):
			plog.Warn("Found corrupt lock file, treating it as stale", "path", path, "error", err)
		case os.IsNotExist(err):
			// Released between our create and read.
			continue
		case err != nil:
			time.Sleep(retryDelay)
			continue
		default:
			if age := time.Since(current.LastUpdate); age < staleTimeout {
				return nil, &ErrLockActive{Owner: current, Age: age}
			}
			plog.Warn("Found stale lock, taking it over", "path", path, "holder", current.Holder, "pid", current.PID)
		}

		if err := takeover(path, staleToken, owner); err != nil {
			if errors.Is(err, ErrLostRace) {
				plog.Debug("Lost lock takeover race, retrying", "path", path)
			} else {
				plog.Warn("Lock takeover failed, retrying", "path", path, "error", err)
			}
			time.Sleep(retryDelay)
			continue
		}
		return start(path, owner), nil
	}
	return nil, fmt.Errorf("failed to acquire lock %s after %d attempts", path, attempts)
}

// Path returns the lock file.
func (l *Lock) Path() string {
	return l.path
}

// Release stops the heartbeat and removes the lock file. Later calls are no-ops.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	l.stop()

	// Never remove a lock somebody else took over.
	if current, err := readOwner(l.path); err == nil && current.Token != l.owner.Token {
		plog.Warn("Lock was taken over by another holder, leaving it in place", "path", l.path, "holder", current.Holder)
		return
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		plog.Warn("Failed to remove lock file", "path", l.path, "error", err)
		return
	}
	plog.Debug("Lock released", "path", l.path)
}

func newOwner(holder string) (Owner, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return Owner{}, fmt.Errorf("failed to read hostname: %w", err)
	}
	return Owner{
		PID:        int64(os.Getpid()),
		Hostname:   hostname,
		Holder:     holder,
		Token:      uuid.NewString(),
		LastUpdate: time.Now().UTC(),
	}, nil
}

func start(path string, owner Owner) *Lock {
	removeLeftoverTemps(path)
	ctx, cancel := context.WithCancel(context.Background())
	l := &Lock{path: path, owner: owner, stop: cancel}
	go l.heartbeat(ctx)
	return l
}

func (l *Lock) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			owner := l.owner
			owner.LastUpdate = time.Now().UTC()
			if err := writeAtomic(l.path, owner); err != nil {
				plog.Warn("Lock heartbeat failed", "path", l.path, "error", err)
			}
		}
	}
}

// createExclusive fails with an os.IsExist error when the lock file exists.
func createExclusive(path string, owner Owner) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(owner, "", "  ")
	if err == nil {
		_, err = f.Write(data)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}

// takeover moves the stale lock aside and recreates it exclusively. If what
// was moved is no longer the lock we judged stale, a concurrent takeover won
// and the moved file is put back.
func takeover(path, staleToken string, owner Owner) error {
	tomb := path + "." + owner.Token + ".stale"
	if err := os.Rename(path, tomb); err != nil {
		if os.IsNotExist(err) {
			return ErrLostRace
		}
		return err
	}
	if moved, err := readOwner(tomb); err == nil && moved.Token != staleToken {
		if err := os.Rename(tomb, path); err != nil {
			plog.Warn("Failed to restore lock file after lost takeover", "path", path, "error", err)
		}
		return ErrLostRace
	}
	_ = os.Remove(tomb)

	if err := createExclusive(path, owner); err != nil {
		if os.IsExist(err) {
			return ErrLostRace
		}
		return err
	}
	return nil
}

// writeAtomic replaces path through a temp file in the same directory, so
// readers never see a partial lock file.
func writeAtomic(path string, owner Owner) error {
	data, err := json.MarshalIndent(owner, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock content: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp lock file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// readOwner retries briefly on empty or unparsable content.
func readOwner(path string) (Owner, error) {
	var lastErr error
	for n := 0; n < 3; n++ {
		data, err := os.ReadFile(path)
		if err != nil {
			return Owner{}, err
		}
		var owner Owner
		if len(data) == 0 {
			lastErr = errors.New("lock file is empty")
		} else if lastErr = json.Unmarshal(data, &owner); lastErr == nil {
			return owner, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return Owner{}, fmt.Errorf("%w: %v", ErrCorruptLockFile, lastErr)
}

// removeLeftoverTemps deletes temp files of crashed takeovers or heartbeats.
// Recent ones may belong to a live writer and are kept.
func removeLeftoverTemps(path string) {
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), filepath.Base(path)+".*.tmp"))
	if err != nil {
		return
	}
	threshold := time.Now().Add(-staleTimeout)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.ModTime().Before(threshold) {
			continue
		}
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove leftover temp lock file", "path", m, "error", err)
		}
	}
}
