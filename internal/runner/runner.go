// Package runner wires the scan, batching and import stages into one run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/drivera73/alfresco-bulk-import/internal/config"
	"github.com/drivera73/alfresco-bulk-import/internal/logging"
	"github.com/drivera73/alfresco-bulk-import/internal/walker"
	"github.com/drivera73/alfresco-bulk-import/internal/worker"
	"github.com/drivera73/alfresco-bulk-import/pkg/analyser"
	"github.com/drivera73/alfresco-bulk-import/pkg/content"
	"github.com/drivera73/alfresco-bulk-import/pkg/export"
	"github.com/drivera73/alfresco-bulk-import/pkg/importer"
	"github.com/drivera73/alfresco-bulk-import/pkg/item"
	"github.com/drivera73/alfresco-bulk-import/pkg/metadata"
	"github.com/drivera73/alfresco-bulk-import/pkg/repository"
	"github.com/drivera73/alfresco-bulk-import/pkg/repository/badger"
	"github.com/drivera73/alfresco-bulk-import/pkg/repository/memory"
	"github.com/drivera73/alfresco-bulk-import/pkg/scancache"
	"github.com/drivera73/alfresco-bulk-import/pkg/status"
)

// ErrAlreadyRunning is returned when a run is started while another is active
var ErrAlreadyRunning = errors.New("an import is already in progress")

// Runner executes imports, scans and exports against one repository
type Runner struct {
	cfg    *config.Config
	repo   repository.Repository
	status *status.Status
	log    *logging.Logger
}

// New creates a runner
func New(cfg *config.Config, repo repository.Repository, st *status.Status, log *logging.Logger) *Runner {
	return &Runner{cfg: cfg, repo: repo, status: st, log: log}
}

// Status returns the status shared by every stage
func (r *Runner) Status() *status.Status {
	return r.status
}

// OpenRepository opens the repository described by cfg. The returned close
// function releases it.
func OpenRepository(ctx context.Context, cfg *config.Config) (repository.Repository, func() error, error) {
	var dict repository.Dictionary = repository.DefaultModel()
	if cfg.Repository.Dictionary != "" {
		m, err := repository.LoadModel(cfg.Repository.Dictionary)
		if err != nil {
			return nil, nil, err
		}
		dict = m
	}

	if cfg.Repository.InMemory {
		return memory.New(dict), func() error { return nil }, nil
	}

	store, err := content.Open(ctx, cfg.ContentOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("open content store: %w", err)
	}
	repo, err := badger.Open(ctx, badger.Options{
		Path:      cfg.Repository.Path,
		CacheSize: cfg.Repository.CacheSize,
		Retry:     cfg.RetryPolicy(),
		Content:   store,
		Dict:      dict,
	})
	if err != nil {
		return nil, nil, err
	}
	return repo, repo.Close, nil
}

// Import scans source and imports it below the target path. Item failures
// are recorded in the status; the returned error covers failures of the run
// itself.
func (r *Runner) Import(ctx context.Context, source, target string) error {
	opts := r.cfg.ImportOptions()
	if !r.status.ImportStarted(source, target, opts.DryRun, r.cfg.Import.BatchSize) {
		return ErrAlreadyRunning
	}
	defer r.status.ImportComplete()

	if err := r.status.CheckStopping(ctx); err != nil {
		r.status.Stop()
		return err
	}
	if err := checkSource(source); err != nil {
		r.status.UnexpectedError(source, err)
		return err
	}
	targetRef, err := r.resolveTarget(ctx, target)
	if err != nil {
		r.status.UnexpectedError(target, err)
		return err
	}

	r.log.Info("Importing %s into %s (dry run: %t, threads: %d)", source, target, opts.DryRun, r.cfg.Import.Threads)

	a := analyser.NewAnalyser(metadata.FileLoader{}, r.status, r.log, r.cfg.Import.InPlace)
	imp := importer.New(r.repo, targetRef, r.status, r.log)
	pool := worker.NewPool(imp, opts, worker.Config{
		Threads:             r.cfg.Import.Threads,
		QueueCapacity:       r.cfg.Import.QueueCapacity,
		MaxOutOfOrderRounds: r.cfg.Import.MaxOutOfOrderRounds,
	}, r.status, r.log)
	pool.Start(ctx)

	batcher := item.NewBatcher(r.cfg.Import.BatchSize, r.cfg.Import.BatchBytes, func(b *item.Batch) error {
		return pool.Submit(ctx, b)
	})

	scanErr := r.scan(ctx, source, a, batcher)
	if scanErr == nil {
		scanErr = batcher.Flush()
	}
	r.status.ScanningComplete()
	r.log.Info("Scanning complete, %d batch(es) queued", batcher.Emitted())

	pool.Wait(ctx)

	switch {
	case ctx.Err() != nil || r.status.IsStopping() || interrupted(scanErr):
		r.status.Stop()
		return r.status.CheckStopping(ctx)
	case scanErr != nil:
		r.status.UnexpectedError(source, scanErr)
		return fmt.Errorf("scan %s: %w", source, scanErr)
	}
	return nil
}

// Scan walks source and writes the scan cache without importing
func (r *Runner) Scan(ctx context.Context, source string) error {
	dir := r.cfg.Import.ScanCacheDir
	if dir == "" {
		return fmt.Errorf("scan cache directory is not configured")
	}
	if !r.status.ImportStarted(source, "", false, r.cfg.Import.BatchSize) {
		return ErrAlreadyRunning
	}
	defer r.status.ImportComplete()

	if err := checkSource(source); err != nil {
		r.status.UnexpectedError(source, err)
		return err
	}

	a := analyser.NewAnalyser(metadata.FileLoader{}, r.status, r.log, r.cfg.Import.InPlace)
	err := r.walk(ctx, source, a, discardSink{})
	r.status.ScanningComplete()
	switch {
	case interrupted(err):
		r.status.Stop()
		return err
	case err != nil:
		r.status.UnexpectedError(source, err)
		return err
	}
	r.log.Info("Scan cache written to %s", dir)
	return nil
}

// Export writes the repository subtree at source into dest
func (r *Runner) Export(ctx context.Context, source, dest string, opts export.Options) (*export.Result, error) {
	r.log.Info("Exporting %s to %s", source, dest)
	return export.New(r.repo, r.log, opts).Export(ctx, source, dest)
}

// scan replays the scan cache when it holds records and walks the source
// otherwise
func (r *Runner) scan(ctx context.Context, source string, a *analyser.Analyser, sink walker.Sink) error {
	if dir := r.cfg.Import.ScanCacheDir; dir != "" {
		cache := scancache.New(dir, source, a, r.status, r.log)
		folders, err := cache.ScanFolders(ctx, sink.Add)
		if err != nil {
			return err
		}
		if err := sink.FlushFolders(); err != nil {
			return err
		}
		files, err := cache.ScanFiles(ctx, sink.Add)
		if err != nil {
			return err
		}
		if folders || files {
			r.log.Info("Replayed scan cache from %s", dir)
			return nil
		}
	}
	return r.walk(ctx, source, a, sink)
}

func (r *Runner) walk(ctx context.Context, source string, a *analyser.Analyser, sink walker.Sink) error {
	w, err := walker.NewWalker(source, r.cfg.Import.Excludes, a, r.status, r.log)
	if err != nil {
		return err
	}
	if dir := r.cfg.Import.ScanCacheDir; dir != "" {
		rec, err := scancache.NewWriter(dir, source)
		if err != nil {
			return err
		}
		w.SetRecorder(rec)
		walkErr := w.Walk(ctx, sink)
		if err := rec.Close(); err != nil && walkErr == nil {
			return fmt.Errorf("close scan cache: %w", err)
		}
		return walkErr
	}
	return w.Walk(ctx, sink)
}

func (r *Runner) resolveTarget(ctx context.Context, target string) (repository.NodeRef, error) {
	var ref repository.NodeRef
	err := r.repo.RunInTransaction(ctx, repository.TxOptions{ReadOnly: true}, func(tx repository.Tx) error {
		var err error
		ref, err = tx.ResolvePath(r.repo.Root(), item.SplitPath(target))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("resolve target %q: %w", target, err)
	}
	return ref, nil
}

func checkSource(source string) error {
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", source)
	}
	return nil
}

func interrupted(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, status.ErrInterrupted) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type discardSink struct{}

func (discardSink) Add(*item.Item) error { return nil }
func (discardSink) FlushFolders() error  { return nil }
