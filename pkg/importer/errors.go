package importer

import (
	"errors"
	"fmt"

	"github.com/drivera73/alfresco-bulk-import/pkg/item"
	"github.com/drivera73/alfresco-bulk-import/pkg/resolver"
	"github.com/drivera73/alfresco-bulk-import/pkg/status"
)

// OutOfOrderBatchError is returned when an item's parent does not exist yet
type OutOfOrderBatchError = resolver.OutOfOrderBatchError

// ErrInterrupted is returned when a stop was requested or ctx was cancelled
var ErrInterrupted = status.ErrInterrupted

// ErrInPlaceWithoutContentPath means the source declared in-place content
// but gave no cm:content location. It indicates a broken source.
var ErrInPlaceWithoutContentPath = errors.New("content is in place but the cm:content property is missing")

// ItemImportError wraps the failure of one item
type ItemImportError struct {
	Item *item.Item
	Err  error
}

func (e *ItemImportError) Error() string {
	return fmt.Sprintf("import %s: %v", e.Item.SourcePath(), e.Err)
}

func (e *ItemImportError) Unwrap() error {
	return e.Err
}

// Report renders the failure with the item's source and target paths
func (e *ItemImportError) Report() string {
	return fmt.Sprintf("Source Path: [%s]\nTarget Path: [%s]\n\n%v\n", e.Item.SourcePath(), e.Item.TargetPath(), e.Err)
}

// DryRunError carries the faults found while validating one item
type DryRunError struct {
	DryRun *DryRun
}

func (e *DryRunError) Error() string {
	return fmt.Sprintf("dry run of %s found %d fault(s)", e.DryRun.Item().SourcePath(), e.DryRun.FaultCount())
}

// Report returns the structured fault report
func (e *DryRunError) Report() string {
	return e.DryRun.Report()
}
