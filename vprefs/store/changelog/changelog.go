// Package changelog records the mutations applied to a node's cache since its
// last successful write-back, so they can be replayed on top of a fresh load.
package changelog

import "fmt"

// Kind identifies a change
type Kind int

const (
	// Put sets Key to Value
	Put Kind = iota
	// Remove deletes Key
	Remove
	// NodeCreate marks a node that does not exist on disk yet; replaying it
	// does nothing, but its presence forces the node to be written.
	NodeCreate
)

func (k Kind) String() string {
	switch k {
	case Put:
		return "put"
	case Remove:
		return "remove"
	case NodeCreate:
		return "node-create"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Change is a single logged mutation
type Change struct {
	Kind  Kind
	Key   string
	Value string
}

// Apply replays the change against m.
func (c Change) Apply(m map[string]string) {
	switch c.Kind {
	case Put:
		m[c.Key] = c.Value
	case Remove:
		delete(m, c.Key)
	}
}

// Log is an ordered list of changes. It is not safe for concurrent use; the
// owning node's lock guards it.
type Log struct {
	changes []Change
}

// New returns an empty log.
func New() *Log {
	return &Log{}
}

// Put appends a Put change.
func (l *Log) Put(key, value string) {
	l.changes = append(l.changes, Change{Kind: Put, Key: key, Value: value})
}

// Remove appends a Remove change.
func (l *Log) Remove(key string) {
	l.changes = append(l.changes, Change{Kind: Remove, Key: key})
}

// NodeCreate appends the creation sentinel unless one is already pending.
func (l *Log) NodeCreate() {
	if l.HasNodeCreate() {
		return
	}
	l.changes = append(l.changes, Change{Kind: NodeCreate})
}

// HasNodeCreate reports whether a creation sentinel is pending.
func (l *Log) HasNodeCreate() bool {
	for _, c := range l.changes {
		if c.Kind == NodeCreate {
			return true
		}
	}
	return false
}

// CancelNodeCreate drops the pending creation sentinel and reports whether
// there was one.
func (l *Log) CancelNodeCreate() bool {
	for i, c := range l.changes {
		if c.Kind == NodeCreate {
			l.changes = append(l.changes[:i], l.changes[i+1:]...)
			return true
		}
	}
	return false
}

// Replay applies every change to m in log order.
func (l *Log) Replay(m map[string]string) {
	for _, c := range l.changes {
		c.Apply(m)
	}
}

// Len returns the number of pending changes.
func (l *Log) Len() int { return len(l.changes) }

// Empty reports whether nothing is pending.
func (l *Log) Empty() bool { return len(l.changes) == 0 }

// Clear forgets every change, typically after a successful write-back.
func (l *Log) Clear() { l.changes = nil }

// Changes returns a copy of the pending changes.
func (l *Log) Changes() []Change {
	out := make([]Change, len(l.changes))
	copy(out, l.changes)
	return out
}
