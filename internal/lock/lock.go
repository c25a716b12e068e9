// Package lock serializes kerf processes sharing one forest database.
//
// Locks are advisory files under a lock directory, taken with flock(2)
// through gofrs/flock so they work across platforms and are released by
// the kernel when a process dies.
package lock

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrRunInProgress is returned by Run when another recalculation holds the
// run lock.
var ErrRunInProgress = errors.New("another recalculation is in progress")

const (
	runLockFile = "recalc.lock"
	retryDelay  = 50 * time.Millisecond
)

// Lock is a held lock; Release is idempotent.
type Lock struct {
	fl *flock.Flock
}

// Release unlocks the file.
func (l *Lock) Release() {
	if l == nil || l.fl == nil {
		return
	}
	_ = l.fl.Unlock()
	l.fl = nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	if l == nil || l.fl == nil {
		return ""
	}
	return l.fl.Path()
}

// Run takes the non-blocking run lock in dir so that two recalculations
// never overlap.
func Run(dir string) (*Lock, error) {
	fl, err := newFlock(dir, runLockFile)
	if err != nil {
		return nil, err
	}
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring run lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock held: %s)", ErrRunInProgress, fl.Path())
	}
	return &Lock{fl: fl}, nil
}

// Project blocks until the lock of one project is held or ctx is done.
// Strict mode holds it while the project is recalculated and while it is
// edited through kerf, so edits and recomputation of a project never
// interleave.
func Project(ctx context.Context, dir, project string) (*Lock, error) {
	fl, err := newFlock(dir, "project-"+url.PathEscape(project)+".lock")
	if err != nil {
		return nil, err
	}
	locked, err := fl.TryLockContext(ctx, retryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock project %s: %w", project, err)
	}
	if !locked {
		return nil, fmt.Errorf("lock project %s: not acquired", project)
	}
	return &Lock{fl: fl}, nil
}

// Gate adapts Project to the batch executor's project gate.
func Gate(dir string) func(ctx context.Context, project string) (func(), error) {
	return func(ctx context.Context, project string) (func(), error) {
		l, err := Project(ctx, dir, project)
		if err != nil {
			return nil, err
		}
		return l.Release, nil
	}
}

func newFlock(dir, name string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	return flock.New(filepath.Join(dir, name)), nil
}
