package export

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivera73/alfresco-bulk-import/internal/logging"
	"github.com/drivera73/alfresco-bulk-import/pkg/metadata"
	"github.com/drivera73/alfresco-bulk-import/pkg/repository"
	"github.com/drivera73/alfresco-bulk-import/pkg/repository/memory"
)

// seed builds Sites/docs/report.txt with two history entries and
// Sites/docs/empty/
func seed(t *testing.T) *memory.Repository {
	t.Helper()
	r := memory.New(nil)
	err := r.RunInTransaction(context.Background(), repository.TxOptions{DisableAuditing: true}, func(tx repository.Tx) error {
		sites, err := tx.CreateNode(r.Root(), repository.AssocContains, "Sites", repository.TypeFolder, nil)
		if err != nil {
			return err
		}
		docs, err := tx.CreateNode(sites, repository.AssocContains, "docs", repository.TypeFolder, map[string]string{"cm:title": "Documents"})
		if err != nil {
			return err
		}
		if _, err := tx.CreateNode(docs, repository.AssocContains, "empty", repository.TypeFolder, nil); err != nil {
			return err
		}
		ref, err := tx.CreateNode(docs, repository.AssocContains, "report.txt", repository.TypeContent, map[string]string{"cm:title": "Report"})
		if err != nil {
			return err
		}
		if err := write(tx, ref, "one"); err != nil {
			return err
		}
		if _, err := tx.CreateVersion(ref, map[string]string{repository.PropVersionType: repository.VersionMajor}); err != nil {
			return err
		}
		if err := write(tx, ref, "two!"); err != nil {
			return err
		}
		_, err = tx.CreateVersion(ref, map[string]string{repository.PropVersionType: repository.VersionMinor})
		return err
	})
	require.NoError(t, err)
	return r
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

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestExport_Everything(t *testing.T) {
	r := seed(t)
	dest := t.TempDir()

	res, err := New(r, logging.Discard(), DefaultOptions()).Export(context.Background(), "Sites", dest)
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Folders)
	assert.Equal(t, int64(1), res.Documents)
	assert.Equal(t, int64(2), res.Versions)
	assert.Equal(t, int64(3+4+4), res.Bytes)

	assert.DirExists(t, filepath.Join(dest, "docs", "empty"))
	assert.Equal(t, "two!", readFile(t, filepath.Join(dest, "docs", "report.txt")))
	assert.Equal(t, "one", readFile(t, filepath.Join(dest, "docs", "report.txt.v1.0")))
	assert.Equal(t, "two!", readFile(t, filepath.Join(dest, "docs", "report.txt.v1.1")))
	assert.FileExists(t, filepath.Join(dest, "docs", "report.txt.metadata.properties.xml.v1.0"))

	md, err := metadata.FileLoader{}.Load(filepath.Join(dest, "docs", "report.txt"+metadata.Suffix))
	require.NoError(t, err)
	assert.Equal(t, repository.TypeContent, md.Type)
	assert.Equal(t, "Report", md.Properties["cm:title"])
	assert.Equal(t, "1.1", md.Properties["cm:versionLabel"])
	assert.NotContains(t, md.Properties, "cm:content")

	folder, err := metadata.FileLoader{}.Load(filepath.Join(dest, "docs"+metadata.Suffix))
	require.NoError(t, err)
	assert.Equal(t, "Documents", folder.Properties["cm:title"])
}

func TestExport_Options(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		present []string
		absent  []string
	}{
		{
			name:    "head only",
			opts:    Options{Content: true, Metadata: true},
			present: []string{"docs/report.txt", "docs/report.txt" + metadata.Suffix},
			absent:  []string{"docs/report.txt.v1.0"},
		},
		{
			name:    "metadata only",
			opts:    Options{Metadata: true, Versions: true},
			present: []string{"docs/report.txt" + metadata.Suffix, "docs/report.txt" + metadata.Suffix + ".v1.0"},
			absent:  []string{"docs/report.txt", "docs/report.txt.v1.0"},
		},
		{
			name:    "folders only",
			opts:    Options{Content: true, Metadata: true, FoldersOnly: true},
			present: []string{"docs/empty", "docs" + metadata.Suffix},
			absent:  []string{"docs/report.txt"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest := t.TempDir()
			_, err := New(seed(t), logging.Discard(), tt.opts).Export(context.Background(), "Sites", dest)
			require.NoError(t, err)
			for _, p := range tt.present {
				_, err := os.Stat(filepath.Join(dest, filepath.FromSlash(p)))
				assert.NoError(t, err, p)
			}
			for _, p := range tt.absent {
				_, err := os.Stat(filepath.Join(dest, filepath.FromSlash(p)))
				assert.True(t, os.IsNotExist(err), p)
			}
		})
	}
}

func TestExport_SkipExisting(t *testing.T) {
	r := seed(t)
	dest := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dest, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "docs", "report.txt"), []byte("local"), 0o644))

	opts := DefaultOptions()
	opts.SkipExisting = true
	res, err := New(r, logging.Discard(), opts).Export(context.Background(), "Sites", dest)
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Skipped)
	assert.Equal(t, int64(0), res.Documents)
	assert.Equal(t, "local", readFile(t, filepath.Join(dest, "docs", "report.txt")))
}

func TestExport_MissingSource(t *testing.T) {
	_, err := New(seed(t), logging.Discard(), DefaultOptions()).Export(context.Background(), "Nope", t.TempDir())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestExport_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(seed(t), logging.Discard(), DefaultOptions()).Export(ctx, "Sites", t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}
