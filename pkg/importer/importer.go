// Package importer writes batches of items into the target repository,
// one transaction per batch.
package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drivera73/alfresco-bulk-import/internal/logging"
	"github.com/drivera73/alfresco-bulk-import/pkg/item"
	"github.com/drivera73/alfresco-bulk-import/pkg/repository"
	"github.com/drivera73/alfresco-bulk-import/pkg/resolver"
	"github.com/drivera73/alfresco-bulk-import/pkg/status"
)

// Options control how a batch is imported
type Options struct {
	// ReplaceExisting updates nodes that already exist instead of skipping them
	ReplaceExisting bool
	// Pessimistic aborts the whole batch on the first item failure
	Pessimistic bool
	// DryRun validates without writing
	DryRun bool
	// Principal is recorded as the acting user
	Principal string
}

// Importer imports batches below one target folder
type Importer struct {
	repo   repository.Repository
	cache  *resolver.Cache
	status *status.Status
	log    *logging.Logger
}

// New creates an importer writing below target
func New(repo repository.Repository, target repository.NodeRef, st *status.Status, log *logging.Logger) *Importer {
	return &Importer{
		repo:   repo,
		cache:  resolver.NewCache(target),
		status: st,
		log:    log,
	}
}

// Cache returns the parent path cache shared by all batches
func (imp *Importer) Cache() *resolver.Cache {
	return imp.cache
}

// tally accumulates the effects of one batch attempt. It is applied to the
// status only after the transaction committed.
type tally struct {
	nodes      int64
	skipped    int64
	bytes      int64
	versions   int64
	properties int64
	aspects    int64
	inPlace    int64
	streamed   int64
	failures   []failure
}

type failure struct {
	item string
	err  error
}

// work is the state of one item being imported
type work struct {
	ctx    context.Context
	tx     repository.Tx
	item   *item.Item
	scope  *resolver.Scope
	tally  *tally
	dryRun *DryRun
}

// ImportBatch imports every item of batch in one transaction. Out-of-order
// and interruption errors always abort the batch. Other item failures abort
// it only in pessimistic mode; otherwise they are recorded on the status.
func (imp *Importer) ImportBatch(ctx context.Context, batch *item.Batch, opts Options) error {
	start := time.Now()
	imp.status.SetCurrentlyImporting(batch.String())
	imp.log.Debug("Importing %s", batch)

	mode := imp.modeFor(opts)
	scope := imp.cache.Scope()

	var t *tally
	err := mode.transact(ctx, func(tx repository.Tx) error {
		t = &tally{}
		scope.Reset()
		return imp.importItems(ctx, tx, mode, scope, batch, opts, t)
	})
	if err != nil {
		if isCancellation(err) && !errors.Is(err, ErrInterrupted) {
			err = fmt.Errorf("%w: %v", ErrInterrupted, err)
		}
		return err
	}

	scope.Commit()
	imp.apply(t, opts.DryRun)
	imp.log.Debug("Batch #%d (%d items) processed in %s", batch.Number, len(batch.Items), time.Since(start).Round(time.Millisecond))
	return nil
}

func (imp *Importer) importItems(ctx context.Context, tx repository.Tx, mode importMode, scope *resolver.Scope, batch *item.Batch, opts Options, t *tally) error {
	for _, it := range batch.Items {
		if err := imp.status.CheckStopping(ctx); err != nil {
			return err
		}

		w := &work{ctx: ctx, tx: tx, item: it, scope: scope, tally: t}
		if opts.DryRun {
			w.dryRun = NewDryRun(it)
		}

		err := imp.importItem(w, mode, opts.ReplaceExisting)
		if err == nil && w.dryRun != nil && w.dryRun.HasFaults() {
			err = &DryRunError{DryRun: w.dryRun}
		}
		if err == nil {
			continue
		}

		var ooo *OutOfOrderBatchError
		if errors.As(err, &ooo) || errors.Is(err, ErrInterrupted) {
			return err
		}
		if isCancellation(err) {
			return fmt.Errorf("%w: %v", ErrInterrupted, err)
		}

		var dre *DryRunError
		var iie *ItemImportError
		if !errors.As(err, &dre) && !errors.As(err, &iie) {
			err = &ItemImportError{Item: it, Err: err}
		}
		if opts.Pessimistic && !opts.DryRun {
			return err
		}
		t.failures = append(t.failures, failure{item: it.TargetPath(), err: err})
	}
	return nil
}

func (imp *Importer) importItem(w *work, mode importMode, replaceExisting bool) error {
	it := w.item
	ref, err := imp.findOrCreate(w, mode, replaceExisting)
	if err != nil || ref == "" {
		return err
	}

	if it.IsDirectory() {
		err = imp.importDirectory(w, mode, ref)
	} else {
		err = imp.importFile(w, mode, ref)
	}
	if err != nil {
		return err
	}
	if w.dryRun == nil {
		w.tally.nodes++
	}
	return nil
}

// findOrCreate returns the node for the item, or "" if it must be skipped
func (imp *Importer) findOrCreate(w *work, mode importMode, replaceExisting bool) (repository.NodeRef, error) {
	it := w.item

	parent, err := w.scope.Resolve(w.tx, it.TargetParent())
	if err != nil {
		var ooo *OutOfOrderBatchError
		if !errors.As(err, &ooo) {
			return "", err
		}
		if parent, err = mode.missingParent(w, ooo); err != nil {
			return "", err
		}
	}

	ref, found, err := mode.findChild(w, parent, it.TargetName())
	if err != nil {
		return "", err
	}

	switch {
	case !found:
		nodeType := it.First().Type
		if nodeType == "" {
			nodeType = defaultType(it)
		}
		imp.log.Debug("Creating %s '%s' of type %s", kind(it), it.TargetPath(), nodeType)
		if ref, err = mode.createNode(w, parent, it.TargetName(), nodeType); err != nil {
			return "", err
		}
	case replaceExisting:
		imp.log.Debug("Found existing node for '%s', replacing it", it.TargetPath())
	default:
		imp.log.Info("Skipping '%s' as it already exists in the repository and 'replace existing' is false", it.TargetPath())
		w.tally.skipped++
		return "", nil
	}

	if it.IsDirectory() {
		w.scope.Put(it.TargetPath(), ref)
	}
	return ref, nil
}

func (imp *Importer) importDirectory(w *work, mode importMode, ref repository.NodeRef) error {
	it := w.item
	if len(it.Versions()) > 1 {
		imp.log.Warn("Skipping versions for directory '%s': folders are not versioned", it.TargetPath())
	}
	head := it.Head()
	if head.HasContent() {
		imp.log.Warn("Skipping content for directory '%s': folders have no content", it.TargetPath())
	}
	return mode.applyMetadata(w, ref, head)
}

func (imp *Importer) importFile(w *work, mode importMode, ref repository.NodeRef) error {
	versions := w.item.Versions()
	if len(versions) == 1 {
		return imp.importVersion(w, mode, ref, nil, versions[0])
	}

	if err := mode.ensureVersionable(w, ref); err != nil {
		return err
	}
	for i := range versions {
		if err := imp.status.CheckStopping(w.ctx); err != nil {
			return err
		}
		var prev *item.Version
		if i > 0 {
			prev = &versions[i-1]
		}
		if err := imp.importVersion(w, mode, ref, prev, versions[i]); err != nil {
			return err
		}
	}
	return nil
}

// importVersion applies one version. prev is nil for the first version,
// which never creates a history entry.
func (imp *Importer) importVersion(w *work, mode importMode, ref repository.NodeRef, prev *item.Version, v item.Version) error {
	if v.HasMetadata() {
		if err := mode.applyMetadata(w, ref, v); err != nil {
			return err
		}
	}
	if v.HasContent() {
		if err := mode.applyContent(w, ref, v); err != nil {
			return err
		}
	}
	if prev == nil {
		return nil
	}
	return mode.createVersion(w, ref, v.Number.IsMajorStepFrom(prev.Number))
}

func (imp *Importer) apply(t *tally, dryRun bool) {
	st := imp.status
	st.IncrementTargetCounter(status.BatchesCompleted, 1)
	st.IncrementTargetCounter(status.NodesSkipped, t.skipped)
	st.IncrementTargetCounter(status.InPlaceContentLinked, t.inPlace)
	st.IncrementTargetCounter(status.ContentStreamed, t.streamed)
	if !dryRun {
		st.IncrementTargetCounter(status.NodesImported, t.nodes)
		st.IncrementTargetCounter(status.BytesImported, t.bytes)
		st.IncrementTargetCounter(status.VersionsImported, t.versions)
		st.IncrementTargetCounter(status.MetadataPropertiesImported, t.properties)
		st.IncrementTargetCounter(status.AspectsAssociated, t.aspects)
	}
	for _, f := range t.failures {
		imp.log.Error("%v", f.err)
		st.UnexpectedError(f.item, f.err)
	}
}

func (imp *Importer) modeFor(opts Options) importMode {
	if opts.DryRun {
		return &dryRunMode{imp: imp}
	}
	return &liveMode{imp: imp, principal: opts.Principal}
}

func defaultType(it *item.Item) string {
	if it.IsDirectory() {
		return repository.TypeFolder
	}
	return repository.TypeContent
}

func kind(it *item.Item) string {
	if it.IsDirectory() {
		return "directory"
	}
	return "file"
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
