// Package badger is a persistent Repository on BadgerDB. Node records,
// child indexes and version history are keyed by prefix; content bytes live
// in a separate content store.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/drivera73/alfresco-bulk-import/internal/retry"
	"github.com/drivera73/alfresco-bulk-import/pkg/repository"
)

const defaultCacheSize = 4096

// Options configures Open
type Options struct {
	// Path of the database directory. Ignored when InMemory is set.
	Path      string
	InMemory  bool
	CacheSize int
	Retry     retry.Policy
	Content   repository.ContentStore
	Dict      repository.Dictionary
}

// Repository implements repository.Repository on BadgerDB
type Repository struct {
	db      *badger.DB
	root    repository.NodeRef
	dict    repository.Dictionary
	content repository.ContentStore
	policy  retry.Policy

	// cache holds committed node records for read-only transactions.
	// gen changes on every commit so that readers which started before a
	// commit never populate the cache with superseded records.
	cacheMu sync.Mutex
	gen     uint64
	cache   *lru.Cache[repository.NodeRef, *repository.Node]
}

// Open opens or creates the database and its root node
func Open(ctx context.Context, opts Options) (*Repository, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Content == nil {
		return nil, fmt.Errorf("badger repository requires a content store")
	}

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts = bopts.WithLoggingLevel(badger.WARNING).WithCompression(options.None)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", opts.Path, err)
	}

	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[repository.NodeRef, *repository.Node](size)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create node cache: %w", err)
	}

	policy := opts.Retry
	if policy.MaxRetries == 0 && policy.BaseDelay == 0 {
		policy = retry.DefaultPolicy()
	}
	dict := opts.Dict
	if dict == nil {
		dict = repository.DefaultModel()
	}

	r := &Repository{
		db:      db,
		dict:    dict,
		content: opts.Content,
		policy:  policy,
		cache:   cache,
	}
	if err := r.initRoot(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize root: %w", err)
	}
	return r, nil
}

func (r *Repository) initRoot() error {
	return r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyRoot))
		if err == nil {
			return item.Value(func(val []byte) error {
				r.root = repository.NodeRef(val)
				return nil
			})
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		r.root = repository.NodeRef(uuid.NewString())
		root := &repository.Node{
			Ref:        r.root,
			Name:       "Company Home",
			Type:       repository.TypeFolder,
			Properties: map[string]string{repository.PropName: "Company Home"},
		}
		data, err := json.Marshal(root)
		if err != nil {
			return err
		}
		if err := txn.Set(keyNode(r.root), data); err != nil {
			return err
		}
		return txn.Set([]byte(keyRoot), []byte(r.root))
	})
}

// Close closes the database
func (r *Repository) Close() error {
	return r.db.Close()
}

// Root returns the root folder
func (r *Repository) Root() repository.NodeRef {
	return r.root
}

// Dictionary returns the content model
func (r *Repository) Dictionary() repository.Dictionary {
	return r.dict
}

// RunInTransaction runs fn in a badger transaction. Writable transactions
// are retried with backoff when the commit reports a conflict.
func (r *Repository) RunInTransaction(ctx context.Context, opts repository.TxOptions, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if opts.ReadOnly {
		r.cacheMu.Lock()
		gen := r.gen
		r.cacheMu.Unlock()

		txn := r.db.NewTransaction(false)
		defer txn.Discard()
		b := &txnBackend{repo: r, txn: txn, readOnly: true, gen: gen}
		return fn(repository.NewTreeTx(ctx, b, r.content, r.dict, opts))
	}

	err := retry.Do(ctx, r.policy, isConflict, func(int) error {
		return r.update(ctx, opts, fn)
	})
	if err != nil && isConflict(err) {
		return fmt.Errorf("%w: %w", repository.ErrRetriesFailed, err)
	}
	return err
}

func (r *Repository) update(ctx context.Context, opts repository.TxOptions, fn func(tx repository.Tx) error) error {
	txn := r.db.NewTransaction(true)
	defer txn.Discard()

	b := &txnBackend{repo: r, txn: txn, dirty: make(map[repository.NodeRef]struct{})}
	if err := fn(repository.NewTreeTx(ctx, b, r.content, r.dict, opts)); err != nil {
		return err
	}

	if err := txn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return fmt.Errorf("%w: %v", repository.ErrConflict, err)
		}
		return fmt.Errorf("commit: %w", err)
	}
	r.invalidate(b.dirty)
	return nil
}

func (r *Repository) invalidate(refs map[repository.NodeRef]struct{}) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	r.gen++
	for ref := range refs {
		r.cache.Remove(ref)
	}
}

func (r *Repository) cached(ref repository.NodeRef) (*repository.Node, bool) {
	return r.cache.Get(ref)
}

func (r *Repository) remember(gen uint64, n *repository.Node) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	if gen == r.gen {
		r.cache.Add(n.Ref, repository.CloneNode(n))
	}
}

func isConflict(err error) bool {
	return errors.Is(err, repository.ErrConflict)
}
