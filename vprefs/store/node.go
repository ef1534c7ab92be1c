package store

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ZanzyTHEbar/virtual-prefs/vprefs/store/changelog"
	"github.com/ZanzyTHEbar/virtual-prefs/vprefs/store/common"
	"github.com/ZanzyTHEbar/virtual-prefs/vprefs/store/namecodec"
)

// Limits on keys, values and node names, in characters.
const (
	MaxKeyLength   = 80
	MaxValueLength = 8 * 1024
	MaxNameLength  = 80
)

// Node is one point in a preference tree, backed by a directory holding a
// single data file. Reads and writes only touch the in-memory cache and the
// change log; Sync and Flush reconcile them with disk.
//
// A Node is safe for concurrent use. Nodes are obtained from a Registry root
// and are never constructed directly.
type Node struct {
	name     string
	absPath  string
	parent   *Node
	root     *root
	dir      string
	dataFile string
	tmpFile  string

	mu           sync.Mutex
	kids         map[string]*Node
	cache        map[string]string // nil until first access
	lastSyncTime int64             // Unix ms of the data file as last loaded or written; 0 = never
	changes      *changelog.Log
	removed      bool
	listeners    []listener
	nextListener uint64
}

func newRootNode(r *root) *Node {
	return &Node{
		absPath:  "/",
		root:     r,
		dir:      r.dir,
		dataFile: filepath.Join(r.dir, r.dataFileName),
		tmpFile:  filepath.Join(r.dir, r.dataFileName+".tmp"),
		kids:     make(map[string]*Node),
		changes:  changelog.New(),
	}
}

// newChild builds the handle for name below parent. The caller holds parent.mu.
func newChild(parent *Node, name string) *Node {
	dir := filepath.Join(parent.dir, namecodec.Encode(name))
	absPath := "/" + name
	if parent.parent != nil {
		absPath = parent.absPath + "/" + name
	}

	n := &Node{
		name:     name,
		absPath:  absPath,
		parent:   parent,
		root:     parent.root,
		dir:      dir,
		dataFile: filepath.Join(dir, parent.root.dataFileName),
		tmpFile:  filepath.Join(dir, parent.root.dataFileName+".tmp"),
		kids:     make(map[string]*Node),
		changes:  changelog.New(),
	}

	if !parent.root.files.DirExists(dir) {
		n.changes.NodeCreate()
	}
	return n
}

// Name returns the node's name; the root's name is empty.
func (n *Node) Name() string { return n.name }

// AbsolutePath returns the slash separated path from the root, "/" for the root.
func (n *Node) AbsolutePath() string { return n.absPath }

// Parent returns the parent node, nil for a root.
func (n *Node) Parent() *Node { return n.parent }

// IsUserNode reports whether the node belongs to the user tree.
func (n *Node) IsUserNode() bool { return n.root.user }

// Directory returns the directory backing the node.
func (n *Node) Directory() string { return n.dir }

// IsRemoved reports whether RemoveNode has been called on this node or an ancestor.
func (n *Node) IsRemoved() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.removed
}

// IsNew reports whether the node has never been written to disk by this process
// and did not exist when its handle was created.
func (n *Node) IsNew() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.changes.HasNodeCreate()
}

func (n *Node) String() string {
	kind := "System"
	if n.root.user {
		kind = "User"
	}
	return fmt.Sprintf("%s Preference Node: %s", kind, n.absPath)
}

// Get returns the cached value for key.
func (n *Node) Get(key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.removed {
		return "", false, common.ErrNodeRemoved
	}
	n.initCacheIfNecessary()
	v, ok := n.cache[key]
	return v, ok, nil
}

// Put sets key to value in the cache and logs the change for the next sync.
func (n *Node) Put(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.removed {
		return common.ErrNodeRemoved
	}
	n.initCacheIfNecessary()
	n.cache[key] = value
	n.changes.Put(key, value)
	n.notifyLocked(ChangeEvent{Node: n, Key: key, Value: value})
	return nil
}

// Remove deletes key from the cache and logs the change for the next sync.
func (n *Node) Remove(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.removed {
		return common.ErrNodeRemoved
	}
	n.initCacheIfNecessary()
	delete(n.cache, key)
	n.changes.Remove(key)
	n.notifyLocked(ChangeEvent{Node: n, Key: key, Removed: true})
	return nil
}

// Clear removes every key of the node.
func (n *Node) Clear() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.removed {
		return common.ErrNodeRemoved
	}
	n.initCacheIfNecessary()
	for _, key := range sortedKeys(n.cache) {
		delete(n.cache, key)
		n.changes.Remove(key)
		n.notifyLocked(ChangeEvent{Node: n, Key: key, Removed: true})
	}
	return nil
}

// Keys returns the node's keys, pending mutations included, in sorted order.
func (n *Node) Keys() ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.removed {
		return nil, common.ErrNodeRemoved
	}
	n.initCacheIfNecessary()
	return sortedKeys(n.cache), nil
}

// ChildNames lists the node's children: subdirectories on disk plus children
// created in this process but not written yet. Child caches are not loaded.
func (n *Node) ChildNames() ([]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.removed {
		return nil, common.ErrNodeRemoved
	}

	names, err := n.childNamesLocked()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (n *Node) childNamesLocked() (map[string]struct{}, error) {
	names := make(map[string]struct{}, len(n.kids))
	for name := range n.kids {
		names[name] = struct{}{}
	}

	// Another process may have created children since this handle was made.
	dirs, err := n.root.files.SubdirNames(n.dir)
	if err != nil {
		return nil, err
	}
	for _, d := range dirs {
		name, err := namecodec.Decode(d)
		if err != nil {
			n.root.logger.Debug().Err(err).Str("dir", filepath.Join(n.dir, d)).Msg("skipping undecodable node directory")
			continue
		}
		names[name] = struct{}{}
	}
	return names, nil
}

// Child returns the handle for the named child, creating it if needed. A child
// whose directory does not exist is only written once it is read or modified
// and then synced.
func (n *Node) Child(name string) (*Node, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.removed {
		return nil, common.ErrNodeRemoved
	}
	return n.childLocked(name), nil
}

func (n *Node) childLocked(name string) *Node {
	if kid, ok := n.kids[name]; ok {
		return kid
	}
	kid := newChild(n, name)
	n.kids[name] = kid
	if err := n.root.index.Insert(kid); err != nil {
		n.root.logger.Warn().Err(err).Str("node", kid.absPath).Msg("failed to index node")
	}
	return kid
}

// Node resolves a slash separated path. Absolute paths start at the root of
// this node's tree, relative ones at n. The empty path is n itself.
func (n *Node) Node(p string) (*Node, error) {
	if p == "" {
		if n.IsRemoved() {
			return nil, common.ErrNodeRemoved
		}
		return n, nil
	}

	start, rel, err := n.splitPath(p)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(p, "/") {
		if hit, ok := n.root.index.Lookup(p); ok && !hit.IsRemoved() {
			return hit, nil
		}
	}

	cur := start
	for _, seg := range rel {
		if cur, err = cur.Child(seg); err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// NodeExists reports whether the node at p exists, either on disk or as a
// handle in this process, without creating anything.
func (n *Node) NodeExists(p string) (bool, error) {
	if p == "" {
		return !n.IsRemoved(), nil
	}
	if n.IsRemoved() {
		return false, common.ErrNodeRemoved
	}

	start, rel, err := n.splitPath(p)
	if err != nil {
		return false, err
	}

	cur := start
	dir := start.dir
	for _, seg := range rel {
		if cur != nil {
			cur.mu.Lock()
			kid, ok := cur.kids[seg]
			cur.mu.Unlock()
			if ok {
				cur, dir = kid, kid.dir
				continue
			}
			cur = nil
		}
		dir = filepath.Join(dir, namecodec.Encode(seg))
		if !n.root.files.DirExists(dir) {
			return false, nil
		}
	}
	if cur != nil {
		return !cur.IsRemoved(), nil
	}
	return true, nil
}

// splitPath validates p and returns the node it is relative to plus its segments.
func (n *Node) splitPath(p string) (*Node, []string, error) {
	start := n
	rel := p
	if strings.HasPrefix(p, "/") {
		start = n.top()
		rel = p[1:]
	}
	if rel == "" {
		return start, nil, nil
	}
	if strings.HasSuffix(rel, "/") || strings.Contains(rel, "//") {
		return nil, nil, fmt.Errorf("%w: %q", common.ErrInvalidPath, p)
	}

	segs := strings.Split(rel, "/")
	for _, seg := range segs {
		if err := validateName(seg); err != nil {
			return nil, nil, err
		}
	}
	return start, segs, nil
}

func (n *Node) top() *Node {
	cur := n
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// cachedChildren snapshots the live child handles. The caller holds n.mu.
func (n *Node) cachedChildren() []*Node {
	kids := make([]*Node, 0, len(n.kids))
	for _, name := range sortedNodeNames(n.kids) {
		kids = append(kids, n.kids[name])
	}
	return kids
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedNodeNames(m map[string]*Node) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", common.ErrInvalidKey)
	}
	if utf8.RuneCountInString(key) > MaxKeyLength {
		return fmt.Errorf("%w: key longer than %d characters", common.ErrInvalidKey, MaxKeyLength)
	}
	if strings.ContainsRune(key, 0) {
		return fmt.Errorf("%w: key contains U+0000", common.ErrInvalidKey)
	}
	if !utf8.ValidString(key) {
		return fmt.Errorf("%w: key is not valid UTF-8", common.ErrInvalidKey)
	}
	return nil
}

func validateValue(value string) error {
	if utf8.RuneCountInString(value) > MaxValueLength {
		return fmt.Errorf("%w: value longer than %d characters", common.ErrInvalidValue, MaxValueLength)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("%w: value contains U+0000", common.ErrInvalidValue)
	}
	if !utf8.ValidString(value) {
		return fmt.Errorf("%w: value is not valid UTF-8", common.ErrInvalidValue)
	}
	return nil
}

func validateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", common.ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", common.ErrInvalidName, name)
	case strings.ContainsRune(name, '/'):
		return fmt.Errorf("%w: %q contains '/'", common.ErrInvalidName, name)
	case !utf8.ValidString(name):
		return fmt.Errorf("%w: not valid UTF-8", common.ErrInvalidName)
	case utf8.RuneCountInString(name) > MaxNameLength:
		return fmt.Errorf("%w: longer than %d characters", common.ErrInvalidName, MaxNameLength)
	}
	return nil
}
