// Package memory is an in-process Repository. Each writable transaction
// works on a copy of the tree that replaces the committed tree on success.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drivera73/alfresco-bulk-import/internal/retry"
	"github.com/drivera73/alfresco-bulk-import/pkg/repository"
)

// Repository is an in-memory repository.Repository
type Repository struct {
	dict   repository.Dictionary
	root   repository.NodeRef
	policy retry.Policy

	mu        sync.RWMutex
	committed *tree
	content   *contentStore

	mutations atomic.Int64
	versions  atomic.Int64
	conflicts atomic.Int64
}

// New creates an empty repository with a root folder. A nil dict uses the
// default content model.
func New(dict repository.Dictionary) *Repository {
	if dict == nil {
		dict = repository.DefaultModel()
	}
	r := &Repository{
		dict:      dict,
		root:      "root",
		policy:    retry.Policy{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: 50 * time.Millisecond},
		committed: newTree(),
		content:   &contentStore{blobs: make(map[string][]byte)},
	}
	r.committed.nodes[r.root] = &repository.Node{
		Ref:        r.root,
		Name:       "Company Home",
		Type:       repository.TypeFolder,
		Properties: map[string]string{repository.PropName: "Company Home"},
	}
	return r
}

// Root returns the root folder
func (r *Repository) Root() repository.NodeRef {
	return r.root
}

// Dictionary returns the content model
func (r *Repository) Dictionary() repository.Dictionary {
	return r.dict
}

// InjectConflicts makes the next n writable commits fail with ErrConflict
func (r *Repository) InjectConflicts(n int) {
	r.conflicts.Store(int64(n))
}

// Mutations is the number of mutating calls received, committed or not
func (r *Repository) Mutations() int64 {
	return r.mutations.Load()
}

// VersionCalls is the number of CreateVersion calls received
func (r *Repository) VersionCalls() int64 {
	return r.versions.Load()
}

// RunInTransaction runs fn against a private copy of the tree, retrying on
// ErrConflict. Read-only transactions see the committed tree directly and
// reject writes.
func (r *Repository) RunInTransaction(ctx context.Context, opts repository.TxOptions, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if opts.ReadOnly {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return fn(r.newTx(ctx, r.committed, opts))
	}

	return retry.Do(ctx, r.policy, isConflict, func(int) error {
		return r.commit(ctx, opts, fn)
	})
}

func (r *Repository) commit(ctx context.Context, opts repository.TxOptions, fn func(tx repository.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	work := r.committed.clone()
	if err := fn(r.newTx(ctx, work, opts)); err != nil {
		return err
	}
	if r.conflicts.Load() > 0 {
		r.conflicts.Add(-1)
		return repository.ErrConflict
	}
	r.committed = work
	return nil
}

func isConflict(err error) bool {
	return errors.Is(err, repository.ErrConflict)
}

func (r *Repository) newTx(ctx context.Context, t *tree, opts repository.TxOptions) repository.Tx {
	return &countingTx{
		TreeTx: repository.NewTreeTx(ctx, t, r.content, r.dict, opts),
		repo:   r,
	}
}

// countingTx records mutating calls for diagnostics
type countingTx struct {
	*repository.TreeTx
	repo *Repository
}

func (t *countingTx) CreateNode(parent repository.NodeRef, assocType, name, nodeType string, props map[string]string) (repository.NodeRef, error) {
	t.repo.mutations.Add(1)
	return t.TreeTx.CreateNode(parent, assocType, name, nodeType, props)
}

func (t *countingTx) SetType(ref repository.NodeRef, nodeType string) error {
	t.repo.mutations.Add(1)
	return t.TreeTx.SetType(ref, nodeType)
}

func (t *countingTx) AddAspect(ref repository.NodeRef, aspect string) error {
	t.repo.mutations.Add(1)
	return t.TreeTx.AddAspect(ref, aspect)
}

func (t *countingTx) AddProperties(ref repository.NodeRef, props map[string]string) error {
	t.repo.mutations.Add(1)
	return t.TreeTx.AddProperties(ref, props)
}

func (t *countingTx) CreateVersion(ref repository.NodeRef, props map[string]string) (string, error) {
	t.repo.mutations.Add(1)
	t.repo.versions.Add(1)
	return t.TreeTx.CreateVersion(ref, props)
}

func (t *countingTx) Writer(ref repository.NodeRef) (io.WriteCloser, error) {
	t.repo.mutations.Add(1)
	return t.TreeTx.Writer(ref)
}

func (t *countingTx) LinkContent(ref repository.NodeRef, location string, size int64) error {
	t.repo.mutations.Add(1)
	return t.TreeTx.LinkContent(ref, location, size)
}

type childKey struct {
	parent repository.NodeRef
	name   string
}

// tree implements repository.Backend over maps
type tree struct {
	nodes    map[repository.NodeRef]*repository.Node
	children map[childKey]repository.NodeRef
	versions map[repository.NodeRef][]repository.VersionRecord
}

func newTree() *tree {
	return &tree{
		nodes:    make(map[repository.NodeRef]*repository.Node),
		children: make(map[childKey]repository.NodeRef),
		versions: make(map[repository.NodeRef][]repository.VersionRecord),
	}
}

func (t *tree) clone() *tree {
	c := newTree()
	for k, n := range t.nodes {
		c.nodes[k] = repository.CloneNode(n)
	}
	for k, v := range t.children {
		c.children[k] = v
	}
	for k, v := range t.versions {
		c.versions[k] = append([]repository.VersionRecord(nil), v...)
	}
	return c
}

func (t *tree) GetNode(ref repository.NodeRef) (*repository.Node, error) {
	n, ok := t.nodes[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrNotFound, ref)
	}
	return repository.CloneNode(n), nil
}

func (t *tree) PutNode(n *repository.Node) error {
	t.nodes[n.Ref] = repository.CloneNode(n)
	return nil
}

func (t *tree) GetChild(parent repository.NodeRef, name string) (repository.NodeRef, error) {
	ref, ok := t.children[childKey{parent, name}]
	if !ok {
		return "", fmt.Errorf("%w: %s", repository.ErrNotFound, name)
	}
	return ref, nil
}

func (t *tree) PutChild(parent repository.NodeRef, name string, child repository.NodeRef) error {
	t.children[childKey{parent, name}] = child
	return nil
}

func (t *tree) DeleteChild(parent repository.NodeRef, name string) error {
	delete(t.children, childKey{parent, name})
	return nil
}

func (t *tree) ListChildren(parent repository.NodeRef) ([]repository.NodeRef, error) {
	var refs []repository.NodeRef
	for k, ref := range t.children {
		if k.parent == parent {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func (t *tree) GetVersions(ref repository.NodeRef) ([]repository.VersionRecord, error) {
	return append([]repository.VersionRecord(nil), t.versions[ref]...), nil
}

func (t *tree) PutVersion(ref repository.NodeRef, seq int, v repository.VersionRecord) error {
	history := t.versions[ref]
	if seq != len(history) {
		return fmt.Errorf("version sequence %d out of order for %s", seq, ref)
	}
	t.versions[ref] = append(history, v)
	return nil
}

// contentStore keeps content bytes. Blobs are immutable once written, so
// they are shared across transactions; an aborted transaction leaves an
// unreferenced blob behind.
type contentStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (s *contentStore) Writer(_ context.Context, id string) (io.WriteCloser, error) {
	return &blobWriter{store: s, id: id}, nil
}

func (s *contentStore) Reader(_ context.Context, id string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: content %s", repository.ErrNotFound, id)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type blobWriter struct {
	store *contentStore
	id    string
	buf   bytes.Buffer
}

func (w *blobWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *blobWriter) Close() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.blobs[w.id] = w.buf.Bytes()
	return nil
}

func (w *blobWriter) Abort(error) error {
	w.buf.Reset()
	return nil
}
