// Package lock coordinates Sync, Flush and RemoveNode across processes with an
// advisory lock on a per-root lock file.
//
// The lock file is opened when a lock is acquired and closed again on release;
// it is never held for the lifetime of the process. Locks are advisory and only
// exclude cooperating processes.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Mode selects shared or exclusive locking.
type Mode int

const (
	// Shared lets several readers in; used for roots this process cannot write.
	Shared Mode = iota
	// Exclusive admits a single holder.
	Exclusive
)

func (m Mode) String() string {
	switch m {
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Locker guards one lock file. The embedded RWMutex mirrors the file lock so
// goroutines of the same process are serialised even where the platform lock
// is held per process rather than per open file.
type Locker struct {
	path   string
	mu     sync.RWMutex
	logger zerolog.Logger
}

// New returns a Locker for the lock file at path.
func New(path string, logger zerolog.Logger) *Locker {
	return &Locker{path: path, logger: logger}
}

// Path returns the lock file location.
func (l *Locker) Path() string { return l.path }

// Ensure creates the lock file if it does not exist yet.
func (l *Locker) Ensure(perm fs.FileMode) error {
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, perm)
	if err != nil {
		return fmt.Errorf("failed to create lock file %s: %w", l.path, err)
	}
	return f.Close()
}

// Handle is a held lock. Release must be called exactly once; further calls
// are no-ops.
type Handle struct {
	locker   *Locker
	mode     Mode
	file     *os.File
	once     sync.Once
	released error
}

// Mode reports the mode the handle was acquired with.
func (h *Handle) Mode() Mode { return h.mode }

// Acquire blocks until the lock is held in the requested mode.
func (l *Locker) Acquire(mode Mode) (*Handle, error) {
	switch mode {
	case Shared:
		l.mu.RLock()
	case Exclusive:
		l.mu.Lock()
	default:
		return nil, fmt.Errorf("unknown lock mode %v", mode)
	}

	h := &Handle{locker: l, mode: mode}

	flag := os.O_RDWR | os.O_CREATE
	if mode == Shared {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(l.path, flag, 0o600)
	if err != nil {
		if mode == Shared && errors.Is(err, fs.ErrNotExist) {
			// Read-only root without a lock file: nobody can write here anyway.
			l.logger.Debug().Str("lock", l.path).Msg("lock file missing in read-only root, continuing unlocked")
			return h, nil
		}
		l.unlockMutex(mode)
		return nil, fmt.Errorf("failed to open lock file %s: %w", l.path, err)
	}

	if err := lockFile(f, mode); err != nil {
		f.Close()
		l.unlockMutex(mode)
		return nil, fmt.Errorf("failed to acquire %s lock on %s: %w", mode, l.path, err)
	}

	h.file = f
	l.logger.Debug().Str("lock", l.path).Stringer("mode", mode).Msg("lock acquired")
	return h, nil
}

// Release drops the OS lock, closes the lock file and unblocks waiters.
func (h *Handle) Release() error {
	h.once.Do(func() {
		if h.file != nil {
			err := unlockFile(h.file)
			if cerr := h.file.Close(); err == nil {
				err = cerr
			}
			h.released = err
		}
		h.locker.unlockMutex(h.mode)
		h.locker.logger.Debug().Str("lock", h.locker.path).Stringer("mode", h.mode).Msg("lock released")
	})
	return h.released
}

func (l *Locker) unlockMutex(mode Mode) {
	if mode == Shared {
		l.mu.RUnlock()
		return
	}
	l.mu.Unlock()
}
