package memory

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivera73/alfresco-bulk-import/pkg/repository"
)

func TestRepository_CreateAndResolve(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	var doc repository.NodeRef
	err := r.RunInTransaction(ctx, repository.TxOptions{}, func(tx repository.Tx) error {
		folder, err := tx.CreateNode(r.Root(), repository.AssocContains, "docs", repository.TypeFolder, nil)
		if err != nil {
			return err
		}
		doc, err = tx.CreateNode(folder, repository.AssocContains, "a.txt", repository.TypeContent, map[string]string{"cm:title": "A"})
		return err
	})
	require.NoError(t, err)

	err = r.RunInTransaction(ctx, repository.TxOptions{ReadOnly: true}, func(tx repository.Tx) error {
		ref, err := tx.ResolvePath(r.Root(), []string{"docs", "a.txt"})
		require.NoError(t, err)
		assert.Equal(t, doc, ref)

		n, err := tx.Node(ref)
		require.NoError(t, err)
		assert.Equal(t, "a.txt", n.Name)
		assert.Equal(t, "A", n.Properties["cm:title"])
		assert.True(t, n.HasAspect(repository.AspectAuditable))
		assert.NotEmpty(t, n.Properties[repository.PropCreated])

		_, err = tx.ResolvePath(r.Root(), []string{"docs", "missing"})
		assert.ErrorIs(t, err, repository.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestRepository_RollbackOnError(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	boom := errors.New("boom")

	err := r.RunInTransaction(ctx, repository.TxOptions{}, func(tx repository.Tx) error {
		if _, err := tx.CreateNode(r.Root(), repository.AssocContains, "docs", repository.TypeFolder, nil); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = r.RunInTransaction(ctx, repository.TxOptions{ReadOnly: true}, func(tx repository.Tx) error {
		_, err := tx.FindChild(r.Root(), repository.AssocContains, "docs")
		assert.ErrorIs(t, err, repository.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestRepository_ReadOnlyRejectsWrites(t *testing.T) {
	r := New(nil)
	err := r.RunInTransaction(context.Background(), repository.TxOptions{ReadOnly: true}, func(tx repository.Tx) error {
		_, err := tx.CreateNode(r.Root(), repository.AssocContains, "docs", repository.TypeFolder, nil)
		return err
	})
	assert.ErrorIs(t, err, repository.ErrReadOnly)
	assert.Equal(t, int64(1), r.Mutations())
}

func TestRepository_ConflictRetry(t *testing.T) {
	r := New(nil)
	r.InjectConflicts(2)

	calls := 0
	err := r.RunInTransaction(context.Background(), repository.TxOptions{}, func(tx repository.Tx) error {
		calls++
		_, err := tx.CreateNode(r.Root(), repository.AssocContains, "docs", repository.TypeFolder, nil)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRepository_VersionsAndContent(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	var ref repository.NodeRef
	err := r.RunInTransaction(ctx, repository.TxOptions{DisableAuditing: true}, func(tx repository.Tx) error {
		var err error
		ref, err = tx.CreateNode(r.Root(), repository.AssocContains, "a.txt", repository.TypeContent, nil)
		if err != nil {
			return err
		}
		if err := write(tx, ref, "one"); err != nil {
			return err
		}
		if _, err := tx.CreateVersion(ref, map[string]string{repository.PropVersionType: repository.VersionMajor}); err != nil {
			return err
		}
		if err := write(tx, ref, "two"); err != nil {
			return err
		}
		_, err = tx.CreateVersion(ref, map[string]string{repository.PropVersionType: repository.VersionMinor})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), r.VersionCalls())

	err = r.RunInTransaction(ctx, repository.TxOptions{ReadOnly: true}, func(tx repository.Tx) error {
		history, err := tx.Versions(ref)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "1.0", history[0].Label)
		assert.Equal(t, "1.1", history[1].Label)

		assert.Equal(t, "one", read(t, tx, history[0].Label, ref))
		assert.Equal(t, "two", read(t, tx, "", ref))

		n, err := tx.Node(ref)
		require.NoError(t, err)
		assert.True(t, n.HasAspect(repository.AspectVersionable))
		assert.Empty(t, n.Properties[repository.PropCreated])
		return nil
	})
	require.NoError(t, err)
}

func TestRepository_RenameThroughProperties(t *testing.T) {
	r := New(nil)
	ctx := context.Background()

	err := r.RunInTransaction(ctx, repository.TxOptions{}, func(tx repository.Tx) error {
		ref, err := tx.CreateNode(r.Root(), repository.AssocContains, "old", repository.TypeFolder, nil)
		if err != nil {
			return err
		}
		return tx.AddProperties(ref, map[string]string{repository.PropName: "new"})
	})
	require.NoError(t, err)

	err = r.RunInTransaction(ctx, repository.TxOptions{ReadOnly: true}, func(tx repository.Tx) error {
		_, err := tx.FindChild(r.Root(), repository.AssocContains, "new")
		assert.NoError(t, err)
		_, err = tx.FindChild(r.Root(), repository.AssocContains, "old")
		assert.ErrorIs(t, err, repository.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestRepository_UnknownType(t *testing.T) {
	r := New(nil)
	err := r.RunInTransaction(context.Background(), repository.TxOptions{}, func(tx repository.Tx) error {
		_, err := tx.CreateNode(r.Root(), repository.AssocContains, "x", "acme:missing", nil)
		return err
	})
	assert.ErrorIs(t, err, repository.ErrTypeNotFound)
}

func write(tx repository.Tx, ref repository.NodeRef, s string) error {
	w, err := tx.Writer(ref)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, s); err != nil {
		return err
	}
	return w.Close()
}

func read(t *testing.T, tx repository.Tx, label string, ref repository.NodeRef) string {
	t.Helper()
	var rc io.ReadCloser
	var err error
	if label == "" {
		rc, err = tx.ContentReader(ref)
	} else {
		rc, err = tx.VersionContentReader(ref, label)
	}
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestRepository_AbortedWriteLeavesNodeEmpty(t *testing.T) {
	r := New(nil)
	err := r.RunInTransaction(context.Background(), repository.TxOptions{}, func(tx repository.Tx) error {
		doc, err := tx.CreateNode(r.Root(), repository.AssocContains, "a.txt", repository.TypeContent, nil)
		if err != nil {
			return err
		}
		w, err := tx.Writer(doc)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, "partial"); err != nil {
			return err
		}
		if err := repository.Abort(w, errors.New("source read failed")); err != nil {
			return err
		}
		n, err := tx.Node(doc)
		if err != nil {
			return err
		}
		assert.Nil(t, n.Content)
		return nil
	})
	require.NoError(t, err)
}
