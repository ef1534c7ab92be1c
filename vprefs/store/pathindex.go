package store

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/armon/go-radix"
	"github.com/rs/zerolog"
)

// PathIndexStats tracks lookup counters for a path index
type PathIndexStats struct {
	TotalNodes int64
	Lookups    int64
	Hits       int64
	Insertions int64
	Deletions  int64
}

// PathIndex maps absolute node paths ("/", "/audio/output") to the live
// *Node handles of one root, so Registry.Lookup can skip walking the tree.
type PathIndex struct {
	tree   *radix.Tree
	mu     sync.RWMutex
	stats  PathIndexStats
	logger zerolog.Logger
}

// NewPathIndex creates an empty path index
func NewPathIndex(logger zerolog.Logger) *PathIndex {
	return &PathIndex{
		tree:   radix.New(),
		logger: logger,
	}
}

// Insert records node under its absolute path.
func (idx *PathIndex) Insert(node *Node) error {
	if node == nil {
		return fmt.Errorf("invalid input: node cannot be nil")
	}

	p := normalizePath(node.AbsolutePath())

	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, updated := idx.tree.Insert(p, node)
	if !updated {
		idx.stats.TotalNodes++
	}
	idx.stats.Insertions++

	idx.logger.Debug().Str("path", p).Bool("was_update", updated).Msg("path index insertion")
	return nil
}

// Lookup finds a node by exact absolute path.
func (idx *PathIndex) Lookup(p string) (*Node, bool) {
	p = normalizePath(p)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.stats.Lookups++
	value, found := idx.tree.Get(p)
	if !found {
		return nil, false
	}
	idx.stats.Hits++
	return value.(*Node), true
}

// Remove deletes the entry for exactly p.
func (idx *PathIndex) Remove(p string) bool {
	p = normalizePath(p)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, deleted := idx.tree.Delete(p)
	if deleted {
		idx.stats.TotalNodes--
		idx.stats.Deletions++
	}
	return deleted
}

// RemoveSubtree deletes p and all descendants, returning how many entries
// were dropped. "/a" does not cover "/ab".
func (idx *PathIndex) RemoveSubtree(p string) int {
	p = normalizePath(p)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	var keys []string
	idx.tree.WalkPrefix(p, func(key string, _ interface{}) bool {
		if isWithin(p, key) {
			keys = append(keys, key)
		}
		return false
	})
	for _, k := range keys {
		if _, deleted := idx.tree.Delete(k); deleted {
			idx.stats.TotalNodes--
			idx.stats.Deletions++
		}
	}

	idx.logger.Debug().Str("path", p).Int("removed", len(keys)).Msg("path index subtree removal")
	return len(keys)
}

// Stats returns a copy of the counters
func (idx *PathIndex) Stats() PathIndexStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.stats
}

// Validate checks that every entry sits under the path its node reports.
func (idx *PathIndex) Validate() []error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var errs []error
	count := 0
	idx.tree.Walk(func(key string, value interface{}) bool {
		count++
		node, ok := value.(*Node)
		if !ok {
			errs = append(errs, fmt.Errorf("invalid_node_type: %s", key))
			return false
		}
		if got := normalizePath(node.AbsolutePath()); got != key {
			errs = append(errs, fmt.Errorf("path_mismatch: indexed at %s but node reports %s", key, got))
		}
		return false
	})

	if int64(count) != idx.stats.TotalNodes {
		errs = append(errs, fmt.Errorf("stats_mismatch: %d entries, stats report %d", count, idx.stats.TotalNodes))
	}
	return errs
}

// normalizePath ensures consistent path formatting for the index
func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// isWithin reports whether key is prefix itself or lies below it.
func isWithin(prefix, key string) bool {
	if key == prefix || prefix == "/" {
		return true
	}
	return strings.HasPrefix(key, prefix+"/")
}
