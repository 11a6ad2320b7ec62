package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivera73/alfresco-bulk-import/pkg/repository"
	"github.com/drivera73/alfresco-bulk-import/pkg/repository/memory"
)

func setup(t *testing.T) (*memory.Repository, repository.NodeRef, repository.NodeRef) {
	t.Helper()
	repo := memory.New(nil)
	var target, sub repository.NodeRef
	err := repo.RunInTransaction(context.Background(), repository.TxOptions{}, func(tx repository.Tx) error {
		var err error
		target, err = tx.CreateNode(repo.Root(), repository.AssocContains, "docs", repository.TypeFolder, nil)
		if err != nil {
			return err
		}
		a, err := tx.CreateNode(target, repository.AssocContains, "a", repository.TypeFolder, nil)
		if err != nil {
			return err
		}
		sub, err = tx.CreateNode(a, repository.AssocContains, "b", repository.TypeFolder, nil)
		return err
	})
	require.NoError(t, err)
	return repo, target, sub
}

func readOnly(t *testing.T, repo repository.Repository, fn func(tx repository.Tx)) {
	t.Helper()
	err := repo.RunInTransaction(context.Background(), repository.TxOptions{ReadOnly: true}, func(tx repository.Tx) error {
		fn(tx)
		return nil
	})
	require.NoError(t, err)
}

func TestCache_ResolveAndMemoize(t *testing.T) {
	repo, target, sub := setup(t)
	c := NewCache(target)

	readOnly(t, repo, func(tx repository.Tx) {
		ref, err := c.Resolve(tx, "a/b")
		require.NoError(t, err)
		assert.Equal(t, sub, ref)

		ref, err = c.Resolve(tx, `a\b\`)
		require.NoError(t, err)
		assert.Equal(t, sub, ref)

		ref, err = c.Resolve(tx, "")
		require.NoError(t, err)
		assert.Equal(t, target, ref)
	})
	assert.Equal(t, int64(1), c.Resolutions())
}

func TestCache_MissingPathIsOutOfOrder(t *testing.T) {
	repo, target, _ := setup(t)
	c := NewCache(target)

	readOnly(t, repo, func(tx repository.Tx) {
		_, err := c.Resolve(tx, "a/missing/deeper")
		var ooo *OutOfOrderBatchError
		require.True(t, errors.As(err, &ooo))
		assert.Equal(t, "a/missing/deeper", ooo.Path)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	_, ok := c.Lookup("a/missing/deeper")
	assert.False(t, ok, "failures are not cached")
}

func TestCache_AtMostOneResolutionUnderConcurrency(t *testing.T) {
	repo, target, sub := setup(t)
	c := NewCache(target)

	readOnly(t, repo, func(tx repository.Tx) {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ref, err := c.Resolve(tx, "a/b")
				assert.NoError(t, err)
				assert.Equal(t, sub, ref)
			}()
		}
		wg.Wait()
	})
	assert.Equal(t, int64(1), c.Resolutions())
}

func TestCache_PutKeepsFirst(t *testing.T) {
	c := NewCache("root")
	c.Put("x/y", "first")
	c.Put("x/y/", "second")

	ref, ok := c.Lookup("x/y")
	require.True(t, ok)
	assert.Equal(t, repository.NodeRef("first"), ref)
}

func TestScope_PublishesOnlyOnCommit(t *testing.T) {
	c := NewCache("root")
	s := c.Scope()
	s.Put("new", "n1")

	ref, err := s.Resolve(nil, "new")
	require.NoError(t, err)
	assert.Equal(t, repository.NodeRef("n1"), ref)

	_, ok := c.Lookup("new")
	assert.False(t, ok)

	s.Commit()
	ref, ok = c.Lookup("new")
	require.True(t, ok)
	assert.Equal(t, repository.NodeRef("n1"), ref)
}

func TestScope_ResetDiscardsPending(t *testing.T) {
	c := NewCache("root")
	s := c.Scope()
	s.Put("new", "n1")
	s.Reset()
	s.Commit()

	_, ok := c.Lookup("new")
	assert.False(t, ok)
}
