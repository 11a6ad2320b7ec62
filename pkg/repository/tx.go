package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/drivera73/alfresco-bulk-import/internal/checksum"
)

// TreeTx implements Tx over a Backend. Repositories supply the backend for
// the current transaction; the tree semantics live here.
type TreeTx struct {
	ctx     context.Context
	backend Backend
	content ContentStore
	dict    Dictionary
	opts    TxOptions
	now     func() time.Time
}

// NewTreeTx creates a transaction view over backend
func NewTreeTx(ctx context.Context, backend Backend, content ContentStore, dict Dictionary, opts TxOptions) *TreeTx {
	return &TreeTx{ctx: ctx, backend: backend, content: content, dict: dict, opts: opts, now: time.Now}
}

func (t *TreeTx) writable() error {
	if t.opts.ReadOnly {
		return ErrReadOnly
	}
	return t.ctx.Err()
}

// ResolvePath walks elements below root by child name
func (t *TreeTx) ResolvePath(root NodeRef, elements []string) (NodeRef, error) {
	if _, err := t.backend.GetNode(root); err != nil {
		return "", fmt.Errorf("resolve root %s: %w", root, err)
	}
	current := root
	for _, name := range elements {
		child, err := t.backend.GetChild(current, name)
		if err != nil {
			return "", err
		}
		current = child
	}
	return current, nil
}

// FindChild looks up a child by name. The association type is accepted for
// interface parity; all children share the contains association.
func (t *TreeTx) FindChild(parent NodeRef, assocType, name string) (NodeRef, error) {
	return t.backend.GetChild(parent, name)
}

// CreateNode creates a child node
func (t *TreeTx) CreateNode(parent NodeRef, assocType, name, nodeType string, props map[string]string) (NodeRef, error) {
	if err := t.writable(); err != nil {
		return "", err
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if _, ok := t.dict.Type(nodeType); !ok {
		return "", fmt.Errorf("%w: %s", ErrTypeNotFound, nodeType)
	}
	if _, err := t.backend.GetNode(parent); err != nil {
		return "", fmt.Errorf("parent %s: %w", parent, err)
	}
	if _, err := t.backend.GetChild(parent, name); err == nil {
		return "", fmt.Errorf("%w: %s", ErrExists, name)
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	merged := make(map[string]string, len(props)+1)
	for k, v := range props {
		merged[k] = v
	}
	merged[PropName] = name

	n := &Node{
		Ref:        NodeRef(uuid.NewString()),
		Parent:     parent,
		Name:       name,
		Type:       nodeType,
		Aspects:    append([]string(nil), t.dict.DefaultAspects(nodeType)...),
		Properties: Stamp(merged, t.opts, t.now(), true),
	}
	if err := t.backend.PutNode(n); err != nil {
		return "", err
	}
	if err := t.backend.PutChild(parent, name, n.Ref); err != nil {
		return "", err
	}
	return n.Ref, nil
}

// SetType changes a node's type
func (t *TreeTx) SetType(ref NodeRef, nodeType string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.dict.Type(nodeType); !ok {
		return fmt.Errorf("%w: %s", ErrTypeNotFound, nodeType)
	}
	n, err := t.backend.GetNode(ref)
	if err != nil {
		return err
	}
	n.Type = nodeType
	for _, a := range t.dict.DefaultAspects(nodeType) {
		n.Aspects = AddAspect(n.Aspects, a)
	}
	return t.backend.PutNode(n)
}

// AddAspect attaches an aspect
func (t *TreeTx) AddAspect(ref NodeRef, aspect string) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.dict.Aspect(aspect); !ok {
		return fmt.Errorf("%w: aspect %s", ErrTypeNotFound, aspect)
	}
	n, err := t.backend.GetNode(ref)
	if err != nil {
		return err
	}
	n.Aspects = AddAspect(n.Aspects, aspect)
	return t.backend.PutNode(n)
}

// AddProperties merges props into the node. A changed cm:name renames it.
func (t *TreeTx) AddProperties(ref NodeRef, props map[string]string) error {
	if err := t.writable(); err != nil {
		return err
	}
	n, err := t.backend.GetNode(ref)
	if err != nil {
		return err
	}

	if name, ok := props[PropName]; ok && name != n.Name {
		if err := t.rename(n, name); err != nil {
			return err
		}
	}

	stamped := Stamp(props, t.opts, t.now(), false)
	if n.Properties == nil {
		n.Properties = make(map[string]string, len(stamped))
	}
	for k, v := range stamped {
		n.Properties[k] = v
	}
	return t.backend.PutNode(n)
}

func (t *TreeTx) rename(n *Node, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if n.Parent == "" {
		n.Name = name
		return nil
	}
	if _, err := t.backend.GetChild(n.Parent, name); err == nil {
		return fmt.Errorf("rename %s: %w: %s", n.Name, ErrExists, name)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := t.backend.DeleteChild(n.Parent, n.Name); err != nil {
		return err
	}
	if err := t.backend.PutChild(n.Parent, name, n.Ref); err != nil {
		return err
	}
	n.Name = name
	return nil
}

// CreateVersion snapshots the node into its version history and returns the
// new label.
func (t *TreeTx) CreateVersion(ref NodeRef, props map[string]string) (string, error) {
	if err := t.writable(); err != nil {
		return "", err
	}
	n, err := t.backend.GetNode(ref)
	if err != nil {
		return "", err
	}
	history, err := t.backend.GetVersions(ref)
	if err != nil {
		return "", err
	}

	prev := ""
	if len(history) > 0 {
		prev = history[len(history)-1].Label
	}
	major := IsMajor(props)
	label, err := NextLabel(prev, major)
	if err != nil {
		return "", err
	}

	if n.Properties == nil {
		n.Properties = make(map[string]string)
	}
	n.Properties["cm:versionLabel"] = label
	n.Aspects = AddAspect(n.Aspects, AspectVersionable)
	n.Versions = len(history) + 1

	snapshot := CloneNode(n)
	rec := VersionRecord{
		Label:      label,
		Major:      major,
		Type:       snapshot.Type,
		Aspects:    snapshot.Aspects,
		Properties: snapshot.Properties,
		Content:    snapshot.Content,
	}
	if err := t.backend.PutVersion(ref, len(history), rec); err != nil {
		return "", err
	}
	if err := t.backend.PutNode(n); err != nil {
		return "", err
	}
	return label, nil
}

// Writer opens a stream for new node content. The node is updated when the
// writer is closed.
func (t *TreeTx) Writer(ref NodeRef) (io.WriteCloser, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	if _, err := t.backend.GetNode(ref); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	w, err := t.content.Writer(t.ctx, id)
	if err != nil {
		return nil, fmt.Errorf("open content writer: %w", err)
	}
	return &contentWriter{tx: t, ref: ref, id: id, w: w, sum: checksum.NewWriter(w)}, nil
}

type contentWriter struct {
	tx  *TreeTx
	ref NodeRef
	id  string
	w   io.WriteCloser
	sum *checksum.Writer
}

func (cw *contentWriter) Write(p []byte) (int, error) {
	return cw.sum.Write(p)
}

func (cw *contentWriter) Close() error {
	if err := cw.w.Close(); err != nil {
		return fmt.Errorf("close content writer: %w", err)
	}
	n, err := cw.tx.backend.GetNode(cw.ref)
	if err != nil {
		return err
	}
	n.Content = &ContentData{
		ContentID: cw.id,
		Size:      cw.sum.Size(),
		Mimetype:  GuessMimetype(n.Name),
		Checksum:  cw.sum.Checksum(),
	}
	return cw.tx.backend.PutNode(n)
}

// Abort discards the partial content and leaves the node untouched
func (cw *contentWriter) Abort(cause error) error {
	return Abort(cw.w, cause)
}

// LinkContent points the node at content that already lives at location
func (t *TreeTx) LinkContent(ref NodeRef, location string, size int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	n, err := t.backend.GetNode(ref)
	if err != nil {
		return err
	}
	n.Content = &ContentData{Location: location, Size: size, Mimetype: GuessMimetype(n.Name)}
	return t.backend.PutNode(n)
}

// Node returns a copy of the node
func (t *TreeTx) Node(ref NodeRef) (*Node, error) {
	n, err := t.backend.GetNode(ref)
	if err != nil {
		return nil, err
	}
	return CloneNode(n), nil
}

// Children lists the node's children ordered by name
func (t *TreeTx) Children(ref NodeRef) ([]NodeRef, error) {
	refs, err := t.backend.ListChildren(ref)
	if err != nil {
		return nil, err
	}
	names := make(map[NodeRef]string, len(refs))
	for _, r := range refs {
		n, err := t.backend.GetNode(r)
		if err != nil {
			return nil, err
		}
		names[r] = n.Name
	}
	sort.Slice(refs, func(i, j int) bool { return names[refs[i]] < names[refs[j]] })
	return refs, nil
}

// Versions returns the version history oldest first
func (t *TreeTx) Versions(ref NodeRef) ([]VersionRecord, error) {
	return t.backend.GetVersions(ref)
}

// ContentReader opens the node's current content
func (t *TreeTx) ContentReader(ref NodeRef) (io.ReadCloser, error) {
	n, err := t.backend.GetNode(ref)
	if err != nil {
		return nil, err
	}
	return t.open(n.Content)
}

// VersionContentReader opens the content captured by a version
func (t *TreeTx) VersionContentReader(ref NodeRef, label string) (io.ReadCloser, error) {
	history, err := t.backend.GetVersions(ref)
	if err != nil {
		return nil, err
	}
	for _, v := range history {
		if v.Label == label {
			return t.open(v.Content)
		}
	}
	return nil, fmt.Errorf("version %s of %s: %w", label, ref, ErrNotFound)
}

func (t *TreeTx) open(cd *ContentData) (io.ReadCloser, error) {
	switch {
	case cd == nil:
		return nil, ErrNoContent
	case cd.Location != "":
		return os.Open(cd.Location)
	default:
		return t.content.Reader(t.ctx, cd.ContentID)
	}
}
