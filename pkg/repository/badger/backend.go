package badger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/drivera73/alfresco-bulk-import/pkg/repository"
)

// txnBackend implements repository.Backend on one badger transaction
type txnBackend struct {
	repo     *Repository
	txn      *badger.Txn
	readOnly bool
	gen      uint64
	dirty    map[repository.NodeRef]struct{}
}

func (b *txnBackend) GetNode(ref repository.NodeRef) (*repository.Node, error) {
	if b.readOnly {
		if n, ok := b.repo.cached(ref); ok {
			return repository.CloneNode(n), nil
		}
	}

	var n repository.Node
	if err := b.getJSON(keyNode(ref), &n); err != nil {
		return nil, fmt.Errorf("node %s: %w", ref, err)
	}
	if b.readOnly {
		b.repo.remember(b.gen, &n)
	}
	return &n, nil
}

func (b *txnBackend) PutNode(n *repository.Node) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode node: %w", err)
	}
	b.dirty[n.Ref] = struct{}{}
	return b.txn.Set(keyNode(n.Ref), data)
}

func (b *txnBackend) GetChild(parent repository.NodeRef, name string) (repository.NodeRef, error) {
	item, err := b.txn.Get(keyChild(parent, name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: %s", repository.ErrNotFound, name)
	}
	if err != nil {
		return "", err
	}
	var ref repository.NodeRef
	err = item.Value(func(val []byte) error {
		ref = repository.NodeRef(val)
		return nil
	})
	return ref, err
}

func (b *txnBackend) PutChild(parent repository.NodeRef, name string, child repository.NodeRef) error {
	return b.txn.Set(keyChild(parent, name), []byte(child))
}

func (b *txnBackend) DeleteChild(parent repository.NodeRef, name string) error {
	return b.txn.Delete(keyChild(parent, name))
}

func (b *txnBackend) ListChildren(parent repository.NodeRef) ([]repository.NodeRef, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = keyChildPrefix(parent)

	it := b.txn.NewIterator(opts)
	defer it.Close()

	var refs []repository.NodeRef
	for it.Rewind(); it.Valid(); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			refs = append(refs, repository.NodeRef(bytes.Clone(val)))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return refs, nil
}

func (b *txnBackend) GetVersions(ref repository.NodeRef) ([]repository.VersionRecord, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = keyVersionPrefix(ref)

	it := b.txn.NewIterator(opts)
	defer it.Close()

	var history []repository.VersionRecord
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		seq, err := seqFromVersionKey(item.Key())
		if err != nil {
			return nil, err
		}
		if seq != len(history) {
			return nil, fmt.Errorf("version history of %s has a gap at %d", ref, len(history))
		}
		var v repository.VersionRecord
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &v) }); err != nil {
			return nil, fmt.Errorf("decode version: %w", err)
		}
		history = append(history, v)
	}
	return history, nil
}

func (b *txnBackend) PutVersion(ref repository.NodeRef, seq int, v repository.VersionRecord) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode version: %w", err)
	}
	return b.txn.Set(keyVersion(ref, seq), data)
}

func (b *txnBackend) getJSON(key []byte, v any) error {
	item, err := b.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return repository.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}
