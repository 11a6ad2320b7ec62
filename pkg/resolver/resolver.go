// Package resolver maps an item's target parent path to a node in the
// target tree, resolving each path at most once per run.
package resolver

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/drivera73/alfresco-bulk-import/pkg/item"
	"github.com/drivera73/alfresco-bulk-import/pkg/repository"
)

// OutOfOrderBatchError reports a parent path that does not exist yet. The
// batch should be resubmitted once the batch creating Path has committed.
type OutOfOrderBatchError struct {
	Path string
	Err  error
}

func (e *OutOfOrderBatchError) Error() string {
	return fmt.Sprintf("parent path [%s] does not exist yet; batch imported out of order", e.Path)
}

func (e *OutOfOrderBatchError) Unwrap() error {
	return e.Err
}

// Cache is the run-wide path cache for one target folder. Entries are never
// invalidated during a run.
type Cache struct {
	target  repository.NodeRef
	entries sync.Map // normalized path -> repository.NodeRef
	group   singleflight.Group

	resolutions atomic.Int64
}

// NewCache creates a cache rooted at target
func NewCache(target repository.NodeRef) *Cache {
	return &Cache{target: target}
}

// Target returns the root node of the cache
func (c *Cache) Target() repository.NodeRef {
	return c.target
}

// Lookup returns a cached node for path
func (c *Cache) Lookup(path string) (repository.NodeRef, bool) {
	key := item.CleanPath(path)
	if key == "" {
		return c.target, true
	}
	v, ok := c.entries.Load(key)
	if !ok {
		return "", false
	}
	return v.(repository.NodeRef), true
}

// Put stores ref for path unless an entry already exists
func (c *Cache) Put(path string, ref repository.NodeRef) {
	key := item.CleanPath(path)
	if key == "" {
		return
	}
	c.entries.LoadOrStore(key, ref)
}

// Resolutions is the number of repository path walks performed
func (c *Cache) Resolutions() int64 {
	return c.resolutions.Load()
}

// Resolve returns the node at path below the target, walking the repository
// through tx on a cache miss. Concurrent misses for the same path share one
// walk. A missing path element yields *OutOfOrderBatchError.
func (c *Cache) Resolve(tx repository.Tx, path string) (repository.NodeRef, error) {
	key := item.CleanPath(path)
	if ref, ok := c.Lookup(key); ok {
		return ref, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if ref, ok := c.Lookup(key); ok {
			return ref, nil
		}
		c.resolutions.Add(1)
		ref, err := tx.ResolvePath(c.target, item.SplitPath(key))
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, &OutOfOrderBatchError{Path: key, Err: err}
			}
			return nil, fmt.Errorf("resolve %s: %w", key, err)
		}
		actual, _ := c.entries.LoadOrStore(key, ref)
		return actual, nil
	})
	if err != nil {
		return "", err
	}
	return v.(repository.NodeRef), nil
}

// Scope is a batch-local view of the cache. Nodes created by the batch are
// visible to later items of the same batch immediately and are published
// to the shared cache only by Commit, after the batch transaction has
// committed.
type Scope struct {
	cache   *Cache
	pending map[string]repository.NodeRef
}

// Scope starts a batch-local view
func (c *Cache) Scope() *Scope {
	return &Scope{cache: c, pending: make(map[string]repository.NodeRef)}
}

// Resolve checks the batch's own nodes before the shared cache
func (s *Scope) Resolve(tx repository.Tx, path string) (repository.NodeRef, error) {
	if ref, ok := s.pending[item.CleanPath(path)]; ok {
		return ref, nil
	}
	return s.cache.Resolve(tx, path)
}

// Put records a node created by this batch
func (s *Scope) Put(path string, ref repository.NodeRef) {
	if key := item.CleanPath(path); key != "" {
		s.pending[key] = ref
	}
}

// Reset drops pending entries, for a transaction that will be retried
func (s *Scope) Reset() {
	clear(s.pending)
}

// Commit publishes pending entries to the shared cache
func (s *Scope) Commit() {
	for path, ref := range s.pending {
		s.cache.Put(path, ref)
	}
	clear(s.pending)
}
