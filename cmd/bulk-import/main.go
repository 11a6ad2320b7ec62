package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/drivera73/alfresco-bulk-import/internal/config"
	"github.com/drivera73/alfresco-bulk-import/internal/logging"
	"github.com/drivera73/alfresco-bulk-import/internal/runner"
	"github.com/drivera73/alfresco-bulk-import/pkg/content"
	"github.com/drivera73/alfresco-bulk-import/pkg/export"
	"github.com/drivera73/alfresco-bulk-import/pkg/status"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

var (
	configFile     string
	logLevel       string
	quiet          bool
	inMemory       bool
	repositoryPath string
	contentType    string
	contentPath    string
	resultJSONFile string

	dryRun          bool
	replaceExisting bool
	pessimistic     bool
	inPlace         bool
	threads         int
	batchSize       int
	batchBytes      int64
	scanCacheDir    string
	excludes        []string

	noVersions   bool
	noContent    bool
	noMetadata   bool
	foldersOnly  bool
	skipExisting bool
	concurrency  int
)

// ExportResult is written to the result file after an export
type ExportResult struct {
	Source  string         `json:"source"`
	Dest    string         `json:"dest"`
	Summary *export.Result `json:"summary,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bulk-import",
		Short: "Bulk import and export of content trees",
		Long: `bulk-import loads large filesystem trees, including version histories
and metadata files, into a content repository in parallel batches, and exports
repository trees back to the same layout.`,
		Version:      fmt.Sprintf("%s (commit: %s, built at: %s by %s)", version, commit, date, builtBy),
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Configuration file (default "+config.DefaultConfigPath()+")")
	pf.StringVar(&logLevel, "log-level", "", "Log level: DEBUG, INFO, WARN or ERROR")
	pf.BoolVar(&quiet, "quiet", false, "Suppress non-error output")
	pf.BoolVar(&inMemory, "in-memory", false, "Use a throwaway in-memory repository")
	pf.StringVar(&repositoryPath, "repository", "", "Repository database directory")
	pf.StringVar(&contentType, "content-store", "", "Content store type: filesystem or s3")
	pf.StringVar(&contentPath, "content-path", "", "Content store directory, or s3://bucket/prefix")
	pf.StringVar(&resultJSONFile, "result-json-file", "", "Path to output result as JSON file")

	rootCmd.AddCommand(newImportCmd(), newScanCmd(), newExportCmd())
	return rootCmd
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <SourceDir> [TargetPath]",
		Short: "Import a directory tree below a repository folder",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.BoolVar(&dryRun, "dryrun", false, "Validate against the repository without writing")
	f.BoolVar(&replaceExisting, "replace-existing", false, "Update nodes that already exist")
	f.BoolVar(&pessimistic, "pessimistic", false, "Fail a batch on the first item error")
	f.BoolVar(&inPlace, "in-place", false, "Link content where it lies instead of streaming it")
	f.IntVar(&threads, "threads", 0, "Number of import workers")
	f.IntVar(&batchSize, "batch-size", 0, "Maximum items per batch")
	f.Int64Var(&batchBytes, "batch-bytes", 0, "Maximum content bytes per batch")
	f.StringVar(&scanCacheDir, "scan-cache", "", "Scan cache directory to replay or write")
	f.StringSliceVar(&excludes, "exclude", nil, "Exclude patterns (multiple allowed)")
	return cmd
}

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <SourceDir>",
		Short: "Scan a directory tree into the scan cache without importing",
		Args:  cobra.ExactArgs(1),
		RunE:  runScan,
	}
	f := cmd.Flags()
	f.BoolVar(&inPlace, "in-place", false, "Record content as in place")
	f.StringVar(&scanCacheDir, "scan-cache", "", "Scan cache directory to write")
	f.StringSliceVar(&excludes, "exclude", nil, "Exclude patterns (multiple allowed)")
	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <SourcePath> <DestDir>",
		Short: "Export a repository folder to a directory tree",
		Args:  cobra.ExactArgs(2),
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.BoolVar(&noVersions, "no-versions", false, "Skip version history files")
	f.BoolVar(&noContent, "no-content", false, "Write metadata files only")
	f.BoolVar(&noMetadata, "no-metadata", false, "Skip metadata files")
	f.BoolVar(&foldersOnly, "folders-only", false, "Export the folder structure only")
	f.BoolVar(&skipExisting, "skip-existing", false, "Skip documents already present in the destination")
	f.IntVar(&concurrency, "concurrency", 8, "Number of documents written concurrently")
	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	target := ""
	if len(args) > 1 {
		target = args[1]
	}
	return withRunner(cmd, func(ctx context.Context, r *runner.Runner, log *logging.Logger) error {
		runErr := r.Import(ctx, args[0], target)
		return finish(r.Status(), log, runErr)
	})
}

func runScan(cmd *cobra.Command, args []string) error {
	return withRunner(cmd, func(ctx context.Context, r *runner.Runner, log *logging.Logger) error {
		runErr := r.Scan(ctx, args[0])
		return finish(r.Status(), log, runErr)
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	opts := export.Options{
		Versions:        !noVersions,
		Content:         !noContent,
		Metadata:        !noMetadata,
		FoldersOnly:     foldersOnly,
		SkipExisting:    skipExisting,
		VerifyChecksums: true,
		Concurrency:     concurrency,
	}
	return withRunner(cmd, func(ctx context.Context, r *runner.Runner, log *logging.Logger) error {
		res, err := r.Export(ctx, args[0], args[1], opts)

		if resultJSONFile != "" {
			out := ExportResult{Source: args[0], Dest: args[1], Summary: res}
			if err != nil {
				out.Error = err.Error()
			}
			if werr := writeJSON(resultJSONFile, out); werr != nil {
				return fmt.Errorf("failed to write result JSON: %w", werr)
			}
		}
		if err != nil {
			return err
		}
		log.Info("Exported %d folder(s), %d document(s), %d version(s), %s",
			res.Folders, res.Documents, res.Versions, logging.FormatBytes(res.Bytes))
		return nil
	})
}

// withRunner loads the configuration, opens the repository and runs fn with
// a context cancelled on SIGINT or SIGTERM
func withRunner(cmd *cobra.Command, fn func(ctx context.Context, r *runner.Runner, log *logging.Logger) error) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return err
	}

	log := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Quiet)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := runner.OpenRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}
	defer func() {
		if err := closeRepo(); err != nil {
			log.Error("Failed to close repository: %v", err)
		}
	}()

	return fn(ctx, runner.New(cfg, repo, status.New(), log), log)
}

// applyFlags overrides configuration values with flags set on the command
// line and re-validates the result
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if changed("quiet") {
		cfg.Logging.Quiet = quiet
	}
	if changed("in-memory") {
		cfg.Repository.InMemory = inMemory
	}
	if changed("repository") {
		// a content directory derived from the old repository path follows it
		if !changed("content-path") && cfg.Content.Path == filepath.Join(cfg.Repository.Path, "content") {
			cfg.Content.Path = ""
		}
		cfg.Repository.Path = repositoryPath
	}
	if changed("content-store") {
		cfg.Content.Type = contentType
	}
	if changed("content-path") {
		if err := setContentPath(cfg, contentPath); err != nil {
			return err
		}
	}
	if changed("dryrun") {
		cfg.Import.DryRun = dryRun
	}
	if changed("replace-existing") {
		cfg.Import.ReplaceExisting = replaceExisting
	}
	if changed("pessimistic") {
		cfg.Import.Pessimistic = pessimistic
	}
	if changed("in-place") {
		cfg.Import.InPlace = inPlace
	}
	if changed("threads") {
		cfg.Import.Threads = threads
		cfg.Import.QueueCapacity = 0
	}
	if changed("batch-size") {
		cfg.Import.BatchSize = batchSize
	}
	if changed("batch-bytes") {
		cfg.Import.BatchBytes = batchBytes
	}
	if changed("scan-cache") {
		cfg.Import.ScanCacheDir = scanCacheDir
	}
	if changed("exclude") {
		cfg.Import.Excludes = append(cfg.Import.Excludes, excludes...)
	}

	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

func setContentPath(cfg *config.Config, path string) error {
	if strings.HasPrefix(path, "s3://") {
		bucket, prefix, err := content.ParseS3URI(path)
		if err != nil {
			return err
		}
		cfg.Content.Type = "s3"
		cfg.Content.Bucket = bucket
		cfg.Content.Prefix = prefix
		return nil
	}
	cfg.Content.Path = path
	return nil
}

// finish prints the run summary, writes the result file and turns a failed
// run into an error so the process exits non-zero
func finish(st *status.Status, log *logging.Logger, runErr error) error {
	log.PrintSummary(st)

	if resultJSONFile != "" {
		if err := writeJSON(resultJSONFile, st.Snapshot()); err != nil {
			return fmt.Errorf("failed to write result JSON: %w", err)
		}
	}

	if runErr != nil {
		return runErr
	}
	if st.State() == status.Failed {
		return fmt.Errorf("%d item(s) failed", st.ErrorCount())
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}
