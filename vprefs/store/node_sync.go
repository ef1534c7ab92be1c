package store

import (
	"errors"

	"github.com/ZanzyTHEbar/virtual-prefs/vprefs/store/common"
)

// Sync reconciles this node and every instantiated descendant with disk:
// external changes are merged in, pending local changes are replayed on top
// and written back. The root's file lock is held for the whole pass.
func (n *Node) Sync() error {
	return n.sync(false)
}

// Flush writes pending changes of this subtree. Flushing a removed node is a
// no-op.
func (n *Node) Flush() error {
	return n.sync(true)
}

func (n *Node) sync(flush bool) error {
	if n.IsRemoved() {
		if flush {
			return nil
		}
		return common.ErrNodeRemoved
	}

	r := n.root
	h, err := r.locker.Acquire(r.lockMode())
	if err != nil {
		return common.NewBackingStoreError("lock", r.locker.Path(), err)
	}
	defer func() {
		if rerr := h.Release(); rerr != nil {
			r.logger.Warn().Err(rerr).Str("lock", r.locker.Path()).Msg("failed to release lock")
		}
	}()

	observed, modified := r.observe()
	r.logger.Debug().
		Str("node", n.absPath).
		Bool("root_modified", modified).
		Bool("flush", flush).
		Msg("sync pass")

	wrote, err := n.syncTree(modified)
	if err != nil && !wrote {
		return err
	}

	// A subtree pass leaves nodes outside it unchecked, so the external
	// modification must stay visible to the next pass.
	r.advance(observed, !modified || n.parent == nil)
	return err
}

// syncTree runs syncSpi on n and then on its live children, parent first. Each
// node's lock is held only while that node is synced. Errors of one child do
// not stop its siblings.
func (n *Node) syncTree(modified bool) (bool, error) {
	n.mu.Lock()
	wrote, err := n.syncSpi(modified)
	kids := n.cachedChildren()
	n.mu.Unlock()
	if err != nil {
		return wrote, err
	}

	var errs []error
	for _, kid := range kids {
		if kid.IsRemoved() {
			continue
		}
		kidWrote, kerr := kid.syncTree(modified)
		wrote = wrote || kidWrote
		if kerr != nil && !errors.Is(kerr, common.ErrNodeRemoved) {
			errs = append(errs, kerr)
		}
	}
	return wrote, errors.Join(errs...)
}

// syncSpi merges and writes back a single node. The caller holds n.mu.
func (n *Node) syncSpi(modified bool) (bool, error) {
	if n.removed {
		return false, common.ErrNodeRemoved
	}
	if n.cache == nil {
		return false, nil
	}

	files := n.root.files
	if modified {
		if mod := files.ModMillis(n.dataFile); mod != n.lastSyncTime {
			if err := n.loadCache(); err != nil {
				return false, common.NewBackingStoreError("reload", n.dataFile, err)
			}
			n.changes.Replay(n.cache)
			n.lastSyncTime = mod
		}
	} else if n.lastSyncTime != 0 && !files.DirExists(n.dir) {
		n.root.logger.Warn().Str("node", n.absPath).Msg("node removed in background, replaying local changes")
		n.cache = make(map[string]string)
		n.changes.Replay(n.cache)
	}

	if n.changes.Empty() {
		return false, nil
	}

	if err := files.CreateDirectory(n.dir, n.root.dirPerm); err != nil {
		return false, err
	}
	if err := files.WriteMapAtomic(n.dataFile, n.tmpFile, n.cache, n.root.filePerm); err != nil {
		return false, err
	}

	mod := files.ModMillis(n.dataFile)
	if mod <= n.lastSyncTime {
		mod = n.lastSyncTime + 1000
		if err := files.SetModMillis(n.dataFile, mod); err != nil {
			n.root.logger.Warn().Err(err).Str("file", n.dataFile).Msg("failed to advance data file timestamp")
		}
	}
	n.lastSyncTime = mod
	n.changes.Clear()

	n.root.logger.Debug().
		Str("node", n.absPath).
		Int("keys", len(n.cache)).
		Int64("last_sync", mod).
		Msg("wrote preferences")
	return true, nil
}

// initCacheIfNecessary loads the cache on first access. A missing data file
// loads as an empty map, so nodes created meanwhile by another process are
// picked up. Load failures fall back to an empty cache. The caller holds n.mu.
func (n *Node) initCacheIfNecessary() {
	if n.cache != nil {
		return
	}
	if err := n.loadCache(); err != nil {
		n.root.logger.Warn().Err(err).Str("file", n.dataFile).Msg("failed to load preferences, starting empty")
		n.cache = make(map[string]string)
	}
}

// loadCache replaces the cache with the contents of the data file. A missing
// file is an empty map; a malformed one is quarantined and treated as empty.
// Other I/O errors leave cache and lastSyncTime untouched. The caller holds
// n.mu.
func (n *Node) loadCache() error {
	files := n.root.files
	m, mod, err := files.LoadMap(n.dataFile)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrNotFound):
		if n.lastSyncTime != 0 {
			n.root.logger.Warn().Str("file", n.dataFile).Msg("preferences file removed in background")
		}
		m, mod = make(map[string]string), 0
	case common.IsFormatError(err):
		n.root.logger.Warn().Err(err).Str("file", n.dataFile).Msg("invalid preferences format")
		if dst, qerr := files.Quarantine(n.dataFile); qerr != nil {
			n.root.logger.Warn().Err(qerr).Str("file", n.dataFile).Msg("failed to quarantine preferences file")
		} else {
			n.root.logger.Warn().Str("file", n.dataFile).Str("moved_to", dst).Msg("quarantined malformed preferences file")
		}
		m = make(map[string]string)
	default:
		return err
	}

	n.cache = m
	n.lastSyncTime = mod
	return nil
}
