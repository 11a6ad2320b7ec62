package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivera73/alfresco-bulk-import/internal/config"
	"github.com/drivera73/alfresco-bulk-import/internal/logging"
	"github.com/drivera73/alfresco-bulk-import/pkg/status"
)

func TestApplyFlags(t *testing.T) {
	root := newRootCmd()
	cmd, _, err := root.Find([]string{"import"})
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags([]string{
		"--threads", "3",
		"--dryrun",
		"--exclude", "**/*.tmp",
		"--content-path", "s3://bucket/blobs/",
		"--log-level", "debug",
	}))

	cfg := config.Defaults()
	config.ApplyDefaults(&cfg)
	require.NoError(t, applyFlags(cmd, &cfg))

	assert.Equal(t, 3, cfg.Import.Threads)
	assert.Equal(t, 6, cfg.Import.QueueCapacity)
	assert.True(t, cfg.Import.DryRun)
	assert.Equal(t, []string{"**/*.tmp"}, cfg.Import.Excludes)
	assert.Equal(t, "s3", cfg.Content.Type)
	assert.Equal(t, "bucket", cfg.Content.Bucket)
	assert.Equal(t, "blobs", cfg.Content.Prefix)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, 100, cfg.Import.BatchSize)
}

func TestApplyFlags_RepositoryMovesDerivedContent(t *testing.T) {
	root := newRootCmd()
	cmd, _, err := root.Find([]string{"import"})
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags([]string{"--repository", "/data/repo"}))

	cfg := config.Defaults()
	config.ApplyDefaults(&cfg)
	require.NoError(t, applyFlags(cmd, &cfg))

	assert.Equal(t, "/data/repo", cfg.Repository.Path)
	assert.Equal(t, filepath.Join("/data/repo", "content"), cfg.Content.Path)
}

func TestApplyFlags_Invalid(t *testing.T) {
	root := newRootCmd()
	cmd, _, err := root.Find([]string{"import"})
	require.NoError(t, err)
	require.NoError(t, cmd.ParseFlags([]string{"--batch-size", "-1"}))

	cfg := config.Defaults()
	config.ApplyDefaults(&cfg)
	assert.Error(t, applyFlags(cmd, &cfg))
}

func TestFinish(t *testing.T) {
	st := status.New()
	require.True(t, st.ImportStarted("src", "", false, 10))
	st.UnexpectedError("docs/a.txt", assert.AnError)
	st.ImportComplete()

	resultJSONFile = filepath.Join(t.TempDir(), "result.json")
	defer func() { resultJSONFile = "" }()

	err := finish(st, logging.Discard(), nil)
	assert.EqualError(t, err, "1 item(s) failed")

	data, err := os.ReadFile(resultJSONFile)
	require.NoError(t, err)
	var snap status.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, "Failed", snap.State)
	require.Len(t, snap.Errors, 1)
	assert.Equal(t, "docs/a.txt", snap.Errors[0].Item)
}
