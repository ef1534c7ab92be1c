package store

import (
	"errors"
	"path/filepath"

	"github.com/ZanzyTHEbar/virtual-prefs/vprefs/store/common"
	"github.com/ZanzyTHEbar/virtual-prefs/vprefs/store/lock"
)

// RemoveNode deletes the node and all of its descendants, on disk and in
// memory. Removal is best effort: if a deletion fails partway, the
// directories already cleaned stay cleaned and a *common.BackingStoreError
// is returned. Roots cannot be removed.
func (n *Node) RemoveNode() error {
	if n.parent == nil {
		return common.ErrRootRemoval
	}

	r := n.root
	h, err := r.locker.Acquire(lock.Exclusive)
	if err != nil {
		return common.NewBackingStoreError("lock", r.locker.Path(), err)
	}
	defer func() {
		if rerr := h.Release(); rerr != nil {
			r.logger.Warn().Err(rerr).Str("lock", r.locker.Path()).Msg("failed to release lock")
		}
	}()

	p := n.parent
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.removed {
		return common.ErrNodeRemoved
	}
	if err := n.removeTree(); err != nil {
		return err
	}
	delete(p.kids, n.name)
	r.index.RemoveSubtree(n.absPath)

	r.logger.Debug().Str("node", n.absPath).Msg("removed node")
	return nil
}

// removeTree tears down every descendant, instantiating on-disk children
// first so they are torn down too, and then the node itself.
func (n *Node) removeTree() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.removed {
		return common.ErrNodeRemoved
	}

	names, err := n.childNamesLocked()
	if err != nil {
		return err
	}
	for name := range names {
		n.childLocked(name)
	}

	var errs []error
	for _, name := range sortedNodeNames(n.kids) {
		if err := n.kids[name].removeTree(); err != nil {
			errs = append(errs, err)
			continue
		}
		delete(n.kids, name)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if err := n.removeSpi(); err != nil {
		return err
	}
	n.removed = true
	n.root.index.Remove(n.absPath)
	return nil
}

// removeSpi deletes the node's own files and directory. A node whose
// creation was never written only drops its pending changes; its directory is
// still deleted if a child's write-back or another process created it. The
// caller holds n.mu.
func (n *Node) removeSpi() error {
	if n.changes.CancelNodeCreate() {
		n.changes.Clear()
	}

	files := n.root.files
	if !files.DirExists(n.dir) {
		return nil
	}

	if err := files.RemoveIfExists(n.dataFile); err != nil {
		return common.NewBackingStoreError("remove data file", n.dataFile, err)
	}
	if err := files.RemoveIfExists(n.tmpFile); err != nil {
		return common.NewBackingStoreError("remove temp file", n.tmpFile, err)
	}

	junk, err := files.EntryNames(n.dir)
	if err != nil {
		return common.NewBackingStoreError("list directory", n.dir, err)
	}
	if len(junk) > 0 {
		n.root.logger.Warn().
			Str("dir", n.dir).
			Strs("files", junk).
			Msg("found extraneous files when removing node")
		for _, name := range junk {
			extra := filepath.Join(n.dir, name)
			if err := files.RemoveIfExists(extra); err != nil {
				return common.NewBackingStoreError("remove extraneous file", extra, err)
			}
		}
	}

	return files.RemoveDirectory(n.dir)
}
