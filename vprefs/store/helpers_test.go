package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected failure")

// testDirs is one shared on-disk location; every registry opened on it acts
// like a separate process.
type testDirs struct {
	user   string
	system string
}

func newTestDirs(t *testing.T) testDirs {
	t.Helper()
	base := t.TempDir()
	return testDirs{
		user:   filepath.Join(base, "user"),
		system: filepath.Join(base, "system"),
	}
}

func newTestRegistry(t *testing.T, dirs testDirs, opts ...Option) *Registry {
	t.Helper()
	all := append([]Option{
		WithUserRoot(dirs.user),
		WithSystemRoot(dirs.system, ""),
		WithOwner("tester"),
	}, opts...)
	reg := NewRegistry(all...)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func mustUserRoot(t *testing.T, reg *Registry) *Node {
	t.Helper()
	n, err := reg.UserRoot()
	require.NoError(t, err)
	return n
}

func mustNode(t *testing.T, parent *Node, p string) *Node {
	t.Helper()
	n, err := parent.Node(p)
	require.NoError(t, err)
	return n
}

func readDataFile(t *testing.T, n *Node) map[string]string {
	t.Helper()
	m, _, err := NewFileOps(afero.NewOsFs()).LoadMap(n.dataFile)
	require.NoError(t, err)
	return m
}

func lastSyncTime(n *Node) int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastSyncTime
}

func pendingChanges(n *Node) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.changes.Len()
}

// waitMtimeTick makes sure the next write gets a different timestamp than
// the last one on filesystems with coarse resolution.
func waitMtimeTick() {
	time.Sleep(5 * time.Millisecond)
}

// faultyFs wraps the OS filesystem and fails selected operations on demand.
type faultyFs struct {
	afero.Fs

	mu           sync.Mutex
	failRename   string // rename targets containing this fail
	failRemove   string // removals of exactly this path fail
	renameFailed atomic.Int32
}

func newFaultyFs() *faultyFs {
	return &faultyFs{Fs: afero.NewOsFs()}
}

func (f *faultyFs) setFailRename(substr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRename = substr
}

func (f *faultyFs) setFailRemove(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRemove = p
}

func (f *faultyFs) Rename(oldname, newname string) error {
	f.mu.Lock()
	fail := f.failRename != "" && strings.Contains(newname, f.failRename)
	f.mu.Unlock()
	if fail {
		f.renameFailed.Add(1)
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: errInjected}
	}
	return f.Fs.Rename(oldname, newname)
}

func (f *faultyFs) Remove(name string) error {
	f.mu.Lock()
	fail := f.failRemove != "" && name == f.failRemove
	f.mu.Unlock()
	if fail {
		return &os.PathError{Op: "remove", Path: name, Err: errInjected}
	}
	return f.Fs.Remove(name)
}

// recordingFs counts every call that reaches the filesystem, and separately
// the ones that can change it.
type recordingFs struct {
	afero.Fs
	calls  atomic.Int64
	writes atomic.Int64
}

func (r *recordingFs) mutate() {
	r.calls.Add(1)
	r.writes.Add(1)
}

func newRecordingFs() *recordingFs {
	return &recordingFs{Fs: afero.NewOsFs()}
}

func (r *recordingFs) Create(name string) (afero.File, error) {
	r.mutate()
	return r.Fs.Create(name)
}

func (r *recordingFs) Mkdir(name string, perm os.FileMode) error {
	r.mutate()
	return r.Fs.Mkdir(name, perm)
}

func (r *recordingFs) MkdirAll(p string, perm os.FileMode) error {
	r.mutate()
	return r.Fs.MkdirAll(p, perm)
}

func (r *recordingFs) Open(name string) (afero.File, error) {
	r.calls.Add(1)
	return r.Fs.Open(name)
}

func (r *recordingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC) != 0 {
		r.mutate()
	} else {
		r.calls.Add(1)
	}
	return r.Fs.OpenFile(name, flag, perm)
}

func (r *recordingFs) Remove(name string) error {
	r.mutate()
	return r.Fs.Remove(name)
}

func (r *recordingFs) RemoveAll(p string) error {
	r.mutate()
	return r.Fs.RemoveAll(p)
}

func (r *recordingFs) Rename(oldname, newname string) error {
	r.mutate()
	return r.Fs.Rename(oldname, newname)
}

func (r *recordingFs) Stat(name string) (os.FileInfo, error) {
	r.calls.Add(1)
	return r.Fs.Stat(name)
}

func (r *recordingFs) Chtimes(name string, atime, mtime time.Time) error {
	r.mutate()
	return r.Fs.Chtimes(name, atime, mtime)
}
