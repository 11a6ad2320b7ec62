package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/drivera73/alfresco-bulk-import/internal/checksum"
	"github.com/drivera73/alfresco-bulk-import/pkg/item"
	"github.com/drivera73/alfresco-bulk-import/pkg/repository"
)

// importMode is chosen once per batch and performs every repository
// interaction. liveMode writes; dryRunMode only validates and records faults.
type importMode interface {
	transact(ctx context.Context, fn func(tx repository.Tx) error) error
	missingParent(w *work, err *OutOfOrderBatchError) (repository.NodeRef, error)
	findChild(w *work, parent repository.NodeRef, name string) (repository.NodeRef, bool, error)
	createNode(w *work, parent repository.NodeRef, name, nodeType string) (repository.NodeRef, error)
	ensureVersionable(w *work, ref repository.NodeRef) error
	applyMetadata(w *work, ref repository.NodeRef, v item.Version) error
	applyContent(w *work, ref repository.NodeRef, v item.Version) error
	createVersion(w *work, ref repository.NodeRef, major bool) error
}

type liveMode struct {
	imp       *Importer
	principal string
}

func (m *liveMode) transact(ctx context.Context, fn func(tx repository.Tx) error) error {
	opts := repository.TxOptions{
		RequiresNew:     true,
		DisableAuditing: true,
		Principal:       m.principal,
	}
	return m.imp.repo.RunInTransaction(ctx, opts, fn)
}

func (m *liveMode) missingParent(_ *work, err *OutOfOrderBatchError) (repository.NodeRef, error) {
	return "", err
}

func (m *liveMode) findChild(w *work, parent repository.NodeRef, name string) (repository.NodeRef, bool, error) {
	return findChild(w.tx, parent, name)
}

func (m *liveMode) createNode(w *work, parent repository.NodeRef, name, nodeType string) (repository.NodeRef, error) {
	return w.tx.CreateNode(parent, repository.AssocContains, name, nodeType, nil)
}

func (m *liveMode) ensureVersionable(w *work, ref repository.NodeRef) error {
	node, err := w.tx.Node(ref)
	if err != nil {
		return err
	}
	if node.HasAspect(repository.AspectVersionable) {
		return nil
	}
	return w.tx.AddAspect(ref, repository.AspectVersionable)
}

func (m *liveMode) applyMetadata(w *work, ref repository.NodeRef, v item.Version) error {
	if v.Type != "" {
		if err := w.tx.SetType(ref, v.Type); err != nil {
			return fmt.Errorf("set type %s: %w", v.Type, err)
		}
	}

	for _, aspect := range v.Aspects {
		if err := m.imp.status.CheckStopping(w.ctx); err != nil {
			return err
		}
		if err := w.tx.AddAspect(ref, aspect); err != nil {
			return fmt.Errorf("add aspect %s: %w", aspect, err)
		}
		w.tally.aspects++
	}

	props := make(map[string]string, len(v.Properties))
	for k, val := range v.Properties {
		if err := m.imp.status.CheckStopping(w.ctx); err != nil {
			return err
		}
		if k == item.ContentPropertyName {
			continue
		}
		props[k] = val
	}
	if len(props) == 0 {
		return nil
	}
	if err := w.tx.AddProperties(ref, props); err != nil {
		return fmt.Errorf("add properties: %w", err)
	}
	w.tally.properties += int64(len(props))
	return nil
}

func (m *liveMode) applyContent(w *work, ref repository.NodeRef, v item.Version) error {
	if v.Content == item.InPlace {
		location, ok := v.InPlacePath()
		if !ok {
			return ErrInPlaceWithoutContentPath
		}
		if err := w.tx.LinkContent(ref, location, v.Size); err != nil {
			return fmt.Errorf("link content %s: %w", location, err)
		}
		w.tally.inPlace++
		w.tally.bytes += v.Size
		return nil
	}

	n, err := streamContent(w.tx, ref, v.ContentFile)
	if err != nil {
		return err
	}
	w.tally.streamed++
	w.tally.bytes += n
	return nil
}

func (m *liveMode) createVersion(w *work, ref repository.NodeRef, major bool) error {
	versionType := repository.VersionMinor
	if major {
		versionType = repository.VersionMajor
	}
	label, err := w.tx.CreateVersion(ref, map[string]string{repository.PropVersionType: versionType})
	if err != nil {
		return fmt.Errorf("create version: %w", err)
	}
	m.imp.log.Debug("Created version %s of '%s'", label, w.item.TargetPath())
	w.tally.versions++
	return nil
}

// streamContent copies a source file into the node's content and verifies
// that the stored checksum matches what was read.
func streamContent(tx repository.Tx, ref repository.NodeRef, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open content: %w", err)
	}
	defer f.Close()

	src := checksum.NewReader(f)
	wc, err := tx.Writer(ref)
	if err != nil {
		return 0, fmt.Errorf("open content writer: %w", err)
	}
	n, err := io.Copy(wc, src)
	if err != nil {
		repository.Abort(wc, err)
		return 0, fmt.Errorf("stream content %s: %w", path, err)
	}
	if err := wc.Close(); err != nil {
		return 0, fmt.Errorf("store content %s: %w", path, err)
	}

	want, err := src.Checksum()
	if err != nil {
		return 0, err
	}
	node, err := tx.Node(ref)
	if err != nil {
		return 0, err
	}
	if node.Content == nil || node.Content.Checksum != want {
		return 0, fmt.Errorf("checksum mismatch after storing %s", path)
	}
	return n, nil
}

const syntheticPrefix = "dryrun:"

type dryRunMode struct {
	imp *Importer
}

func (m *dryRunMode) transact(ctx context.Context, fn func(tx repository.Tx) error) error {
	return m.imp.repo.RunInTransaction(ctx, repository.TxOptions{ReadOnly: true}, fn)
}

func (m *dryRunMode) missingParent(w *work, err *OutOfOrderBatchError) (repository.NodeRef, error) {
	w.dryRun.AddItemFault("Missing parent path [%s]", err.Path)
	return synthetic(err.Path), nil
}

func (m *dryRunMode) findChild(w *work, parent repository.NodeRef, name string) (repository.NodeRef, bool, error) {
	if isSynthetic(parent) {
		return "", false, nil
	}
	return findChild(w.tx, parent, name)
}

func (m *dryRunMode) createNode(w *work, _ repository.NodeRef, _, nodeType string) (repository.NodeRef, error) {
	if _, ok := m.imp.repo.Dictionary().Type(nodeType); !ok {
		w.dryRun.AddItemFault("Missing Type [%s]", nodeType)
		return "", &DryRunError{DryRun: w.dryRun}
	}
	return synthetic(w.item.TargetPath()), nil
}

func (m *dryRunMode) ensureVersionable(*work, repository.NodeRef) error {
	return nil
}

func (m *dryRunMode) applyMetadata(w *work, ref repository.NodeRef, v item.Version) error {
	dict := m.imp.repo.Dictionary()
	dr := w.dryRun

	nodeType := v.Type
	if nodeType != "" {
		if _, ok := dict.Type(nodeType); !ok {
			dr.AddVersionFault(v.Number, "Missing Type [%s]", nodeType)
			return &DryRunError{DryRun: dr}
		}
	} else {
		nodeType = m.currentType(w, ref)
	}

	missing := false
	for _, aspect := range v.Aspects {
		if err := m.imp.status.CheckStopping(w.ctx); err != nil {
			return err
		}
		if _, ok := dict.Aspect(aspect); !ok {
			dr.AddVersionFault(v.Number, "Missing Aspect [%s]", aspect)
			missing = true
		}
	}
	if missing {
		return &DryRunError{DryRun: dr}
	}

	if !v.HasMetadata() {
		return nil
	}

	props := make(map[string]string, len(v.Properties)+1)
	for k, val := range v.Properties {
		if err := m.imp.status.CheckStopping(w.ctx); err != nil {
			return err
		}
		props[k] = val
	}
	if _, ok := props[repository.PropName]; !ok {
		props[repository.PropName] = w.item.TargetName()
	}

	classes := append([]string{nodeType}, dict.DefaultAspects(nodeType)...)
	classes = append(classes, v.Aspects...)
	seen := make(map[string]bool)
	for _, class := range classes {
		for _, def := range dict.Properties(class) {
			if seen[def.Name] || strings.HasPrefix(def.Name, "sys:") {
				continue
			}
			seen[def.Name] = true

			value, ok := props[def.Name]
			if !ok || value == "" {
				if def.Mandatory {
					dr.AddVersionFault(v.Number, "Missing mandatory property [%s]", def.Name)
				}
				continue
			}
			for _, c := range def.Constraints {
				if err := c.Check(value); err != nil {
					dr.AddVersionFault(v.Number, "Constraint [%s] violation on property [%s]: %v", constraintName(c), def.Name, err)
				}
			}
		}
	}
	return nil
}

func (m *dryRunMode) applyContent(w *work, _ repository.NodeRef, v item.Version) error {
	dr := w.dryRun
	if v.Content == item.InPlace {
		location, ok := v.InPlacePath()
		if !ok {
			dr.AddVersionFault(v.Number, "Object with in-place content missing the content property")
			return &DryRunError{DryRun: dr}
		}
		if !readableFile(location) {
			dr.AddVersionFault(v.Number, "In-place content at [%s] is either missing, not a file, or not readable", location)
			return &DryRunError{DryRun: dr}
		}
		w.tally.inPlace++
		return nil
	}

	if !readableFile(v.ContentFile) {
		dr.AddVersionFault(v.Number, "Content file [%s] is either missing, not a file, or not readable", v.ContentFile)
		return nil
	}
	w.tally.streamed++
	return nil
}

func (m *dryRunMode) createVersion(*work, repository.NodeRef, bool) error {
	return nil
}

// currentType is the type the node would have before this version applies
func (m *dryRunMode) currentType(w *work, ref repository.NodeRef) string {
	if !isSynthetic(ref) {
		if node, err := w.tx.Node(ref); err == nil {
			return node.Type
		}
	}
	if t := w.item.First().Type; t != "" {
		return t
	}
	return defaultType(w.item)
}

func findChild(tx repository.Tx, parent repository.NodeRef, name string) (repository.NodeRef, bool, error) {
	ref, err := tx.FindChild(parent, repository.AssocContains, name)
	switch {
	case err == nil:
		return ref, true, nil
	case errors.Is(err, repository.ErrNotFound):
		return "", false, nil
	default:
		return "", false, err
	}
}

func readableFile(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

func synthetic(path string) repository.NodeRef {
	return repository.NodeRef(syntheticPrefix + item.CleanPath(path))
}

func isSynthetic(ref repository.NodeRef) bool {
	return strings.HasPrefix(string(ref), syntheticPrefix)
}

func constraintName(c *repository.Constraint) string {
	if c.Name != "" {
		return c.Name
	}
	return c.Kind
}
