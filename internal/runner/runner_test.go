package runner

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivera73/alfresco-bulk-import/internal/config"
	"github.com/drivera73/alfresco-bulk-import/internal/logging"
	"github.com/drivera73/alfresco-bulk-import/pkg/export"
	"github.com/drivera73/alfresco-bulk-import/pkg/repository"
	"github.com/drivera73/alfresco-bulk-import/pkg/repository/memory"
	"github.com/drivera73/alfresco-bulk-import/pkg/scancache"
	"github.com/drivera73/alfresco-bulk-import/pkg/status"
)

const folderMetadata = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE properties SYSTEM "http://java.sun.com/dtd/properties.dtd">
<properties>
  <entry key="cm:title">Documents</entry>
</properties>
`

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, data := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	}
}

func sourceTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"docs.metadata.properties.xml": folderMetadata,
		"docs/report.txt.v1":           "one",
		"docs/report.txt.v2":           "two!!",
		"docs/sub/a.txt":               "a",
	})
	return root
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Repository.InMemory = true
	cfg.Import.Threads = 4
	cfg.Import.BatchSize = 10
	config.ApplyDefaults(&cfg)
	return &cfg
}

func newRunner(cfg *config.Config) (*Runner, *memory.Repository) {
	repo := memory.New(nil)
	return New(cfg, repo, status.New(), logging.Discard()), repo
}

func resolve(t *testing.T, repo repository.Repository, path ...string) (*repository.Node, string) {
	t.Helper()
	var n *repository.Node
	var data string
	err := repo.RunInTransaction(context.Background(), repository.TxOptions{ReadOnly: true}, func(tx repository.Tx) error {
		ref, err := tx.ResolvePath(repo.Root(), path)
		if err != nil {
			return err
		}
		if n, err = tx.Node(ref); err != nil {
			return err
		}
		if n.Content == nil {
			return nil
		}
		rc, err := tx.ContentReader(ref)
		if err != nil {
			return err
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		data = string(b)
		return err
	})
	require.NoError(t, err)
	return n, data
}

func exists(repo repository.Repository, path ...string) bool {
	err := repo.RunInTransaction(context.Background(), repository.TxOptions{ReadOnly: true}, func(tx repository.Tx) error {
		_, err := tx.ResolvePath(repo.Root(), path)
		return err
	})
	return err == nil
}

func counter(st *status.Status, name string) int64 {
	return st.TargetCounter(name).Value()
}

func TestRunner_Import(t *testing.T) {
	r, repo := newRunner(testConfig(t))

	require.NoError(t, r.Import(context.Background(), sourceTree(t), ""))

	st := r.Status()
	assert.Equal(t, status.Succeeded, st.State())
	assert.Empty(t, st.Errors())
	assert.Equal(t, int64(4), counter(st, status.NodesImported))
	assert.Equal(t, int64(1), counter(st, status.VersionsImported))
	assert.Equal(t, int64(9), counter(st, status.BytesImported))
	assert.Equal(t, int64(1), repo.VersionCalls())

	docs, _ := resolve(t, repo, "docs")
	assert.Equal(t, "Documents", docs.Properties["cm:title"])

	report, data := resolve(t, repo, "docs", "report.txt")
	assert.Equal(t, "two!!", data)
	assert.True(t, report.HasAspect(repository.AspectVersionable))

	_, data = resolve(t, repo, "docs", "sub", "a.txt")
	assert.Equal(t, "a", data)
}

func TestRunner_ImportOutOfOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.Import.BatchSize = 1
	cfg.Import.Threads = 8
	cfg.Import.MaxOutOfOrderRounds = 10
	r, repo := newRunner(cfg)

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a/b/c/d/e/leaf.txt": "leaf",
		"a/b/c/one.txt":      "1",
		"a/two.txt":          "2",
	})

	require.NoError(t, r.Import(context.Background(), root, ""))

	st := r.Status()
	assert.Empty(t, st.Errors())
	assert.Equal(t, status.Succeeded, st.State())
	assert.Equal(t, int64(8), counter(st, status.NodesImported))
	assert.True(t, exists(repo, "a", "b", "c", "d", "e", "leaf.txt"))
}

func TestRunner_DryRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Import.DryRun = true
	r, repo := newRunner(cfg)

	require.NoError(t, r.Import(context.Background(), sourceTree(t), ""))

	st := r.Status()
	assert.True(t, st.DryRun())
	assert.Equal(t, status.Succeeded, st.State())
	assert.Zero(t, repo.Mutations())
	assert.False(t, exists(repo, "docs"))
	assert.Zero(t, counter(st, status.NodesImported))
}

func TestRunner_ImportErrors(t *testing.T) {
	tests := []struct {
		name   string
		source func(t *testing.T) string
		target string
	}{
		{
			name:   "missing target",
			source: sourceTree,
			target: "Sites/nope",
		},
		{
			name:   "missing source",
			source: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") },
		},
		{
			name: "source is a file",
			source: func(t *testing.T) string {
				p := filepath.Join(t.TempDir(), "file.txt")
				require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
				return p
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newRunner(testConfig(t))
			err := r.Import(context.Background(), tt.source(t), tt.target)
			assert.Error(t, err)
			assert.Equal(t, status.Failed, r.Status().State())
			assert.Equal(t, 1, r.Status().ErrorCount())
		})
	}
}

func TestRunner_AlreadyRunning(t *testing.T) {
	r, _ := newRunner(testConfig(t))
	require.True(t, r.Status().ImportStarted("elsewhere", "", false, 1))

	assert.ErrorIs(t, r.Import(context.Background(), sourceTree(t), ""), ErrAlreadyRunning)
	assert.ErrorIs(t, r.Scan(context.Background(), sourceTree(t)), ErrAlreadyRunning)
}

func TestRunner_ImportFromScanCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.Import.ScanCacheDir = t.TempDir()
	source := sourceTree(t)

	scanner, _ := newRunner(cfg)
	require.NoError(t, scanner.Scan(context.Background(), source))
	assert.FileExists(t, filepath.Join(cfg.Import.ScanCacheDir, scancache.FoldersFile))
	assert.FileExists(t, filepath.Join(cfg.Import.ScanCacheDir, scancache.FilesFile))

	// Files added after the scan are not seen when the cache is replayed.
	writeTree(t, source, map[string]string{"docs/late.txt": "late"})

	r, repo := newRunner(cfg)
	require.NoError(t, r.Import(context.Background(), source, ""))

	assert.Empty(t, r.Status().Errors())
	assert.True(t, exists(repo, "docs", "report.txt"))
	assert.True(t, exists(repo, "docs", "sub", "a.txt"))
	assert.False(t, exists(repo, "docs", "late.txt"))
}

func TestRunner_EmptyScanCacheFallsBackToWalk(t *testing.T) {
	cfg := testConfig(t)
	cfg.Import.ScanCacheDir = t.TempDir()
	writeTree(t, cfg.Import.ScanCacheDir, map[string]string{
		scancache.FoldersFile: "<scan></scan>",
		scancache.FilesFile:   "<scan></scan>",
	})

	r, repo := newRunner(cfg)
	require.NoError(t, r.Import(context.Background(), sourceTree(t), ""))

	assert.Empty(t, r.Status().Errors())
	assert.True(t, exists(repo, "docs", "sub", "a.txt"))
	assert.Positive(t, r.Status().SourceCounter(status.DirectoriesScanned).Value())
	assert.Positive(t, r.Status().SourceCounter(status.FilesScanned).Value())
}

func TestRunner_ScanRequiresCacheDir(t *testing.T) {
	r, _ := newRunner(testConfig(t))
	assert.Error(t, r.Scan(context.Background(), sourceTree(t)))
}

func TestRunner_Cancelled(t *testing.T) {
	r, _ := newRunner(testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Import(ctx, sourceTree(t), "")
	assert.ErrorIs(t, err, status.ErrInterrupted)
	assert.Equal(t, status.Stopped, r.Status().State())
}

func TestRunner_ImportThenExport(t *testing.T) {
	r, _ := newRunner(testConfig(t))
	require.NoError(t, r.Import(context.Background(), sourceTree(t), ""))

	dest := t.TempDir()
	res, err := r.Export(context.Background(), "docs", dest, export.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Folders)
	assert.Equal(t, int64(2), res.Documents)
	assert.Equal(t, int64(1), res.Versions)

	data, err := os.ReadFile(filepath.Join(dest, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "two!!", string(data))
	assert.FileExists(t, filepath.Join(dest, "report.txt.v1.0"))
	assert.FileExists(t, filepath.Join(dest, "sub", "a.txt"))
}

func TestOpenRepository(t *testing.T) {
	t.Run("in memory", func(t *testing.T) {
		cfg := testConfig(t)
		repo, closeFn, err := OpenRepository(context.Background(), cfg)
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &memory.Repository{}, repo)
	})

	t.Run("badger on disk", func(t *testing.T) {
		dir := t.TempDir()
		cfg := testConfig(t)
		cfg.Repository.InMemory = false
		cfg.Repository.Path = filepath.Join(dir, "db")
		cfg.Content.Path = filepath.Join(dir, "content")

		repo, closeFn, err := OpenRepository(context.Background(), cfg)
		require.NoError(t, err)

		r := New(cfg, repo, status.New(), logging.Discard())
		require.NoError(t, r.Import(context.Background(), sourceTree(t), ""))
		_, data := resolve(t, repo, "docs", "sub", "a.txt")
		assert.Equal(t, "a", data)
		require.NoError(t, closeFn())
	})

	t.Run("bad dictionary", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Repository.Dictionary = filepath.Join(t.TempDir(), "missing.yaml")
		_, _, err := OpenRepository(context.Background(), cfg)
		assert.Error(t, err)
	})
}
