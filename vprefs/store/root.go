package store

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/ZanzyTHEbar/virtual-prefs/vprefs/store/lock"

	"github.com/rs/zerolog"
)

// root holds the per-tree state shared by every node of one preference tree:
// its base directory, lock file, modification marker and path index.
type root struct {
	user         bool
	kind         string
	dir          string
	dataFileName string
	writable     bool
	dirPerm      os.FileMode
	filePerm     os.FileMode

	files   *FileOps
	locker  *lock.Locker
	modFile string
	index   *PathIndex
	events  *dispatcher
	logger  zerolog.Logger
	node    *Node

	mu      sync.Mutex
	modTime int64 // mod-file mtime as recorded after our last completed pass
}

// writableDir decides whether a root may be written. Tests replace it to open
// a root read-only.
var writableDir = isWritable

func (reg *Registry) newRoot(user bool) (*root, error) {
	r := &root{
		user:         user,
		kind:         "system",
		dir:          reg.opts.systemRoot,
		dataFileName: reg.opts.dataFileName,
		dirPerm:      0o755,
		filePerm:     0o644,
		files:        reg.files,
		events:       reg.events,
	}
	if user {
		r.kind = "user"
		r.dir = reg.opts.userRoot
		r.dirPerm = 0o700
		r.filePerm = 0o600
	}
	r.logger = reg.logger.With().Str("root", r.kind).Logger()

	if err := r.files.CreateDirectory(r.dir, r.dirPerm); err != nil {
		if user || reg.opts.systemFallback == "" {
			return nil, err
		}
		r.logger.Warn().Err(err).Str("dir", r.dir).Str("fallback", reg.opts.systemFallback).Msg("could not create system preferences directory, using fallback")
		r.dir = reg.opts.systemFallback
		if err := r.files.CreateDirectory(r.dir, r.dirPerm); err != nil {
			return nil, err
		}
	}

	r.writable = writableDir(r.dir)
	r.locker = lock.New(filepath.Join(r.dir, "."+r.kind+".lock"), r.logger)
	r.modFile = filepath.Join(r.dir, ".systemModFile")
	if user {
		r.modFile = filepath.Join(r.dir, ".userModFile."+reg.opts.owner)
	}

	if r.writable {
		if err := r.locker.Ensure(r.filePerm); err != nil {
			r.logger.Warn().Err(err).Msg("failed to create lock file")
		}
		if err := r.files.Touch(r.modFile, r.filePerm); err != nil {
			r.logger.Warn().Err(err).Msg("failed to create modification file")
		}
	} else {
		r.logger.Warn().Str("dir", r.dir).Msg("preferences directory is not writable, changes cannot be saved")
	}
	r.modTime = r.files.ModMillis(r.modFile)

	r.index = NewPathIndex(r.logger)
	r.node = newRootNode(r)
	if err := r.index.Insert(r.node); err != nil {
		return nil, err
	}

	r.logger.Debug().
		Str("dir", r.dir).
		Bool("writable", r.writable).
		Int64("mod_time", r.modTime).
		Msg("preferences root ready")
	return r, nil
}

// lockMode is shared only for a system root this process cannot write.
func (r *root) lockMode() lock.Mode {
	if r.user || r.writable {
		return lock.Exclusive
	}
	return lock.Shared
}

// observe reads the mod file and reports whether another process touched the
// tree since our last completed pass.
func (r *root) observe() (int64, bool) {
	observed := r.files.ModMillis(r.modFile)

	r.mu.Lock()
	defer r.mu.Unlock()
	return observed, observed != r.modTime
}

// advance marks the tree as modified by this pass. When settled is false the
// recorded value is left alone so the next pass still checks every node.
func (r *root) advance(observed int64, settled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.writable {
		if settled {
			r.modTime = observed
		}
		return
	}

	next := max(observed, r.modTime) + 1000
	if err := r.files.SetModMillis(r.modFile, next); err != nil {
		r.logger.Warn().Err(err).Str("file", r.modFile).Msg("failed to advance modification file")
		next = observed
	}
	if settled {
		r.modTime = next
	}
}
