// Package repository defines the capabilities the importer needs from a
// tree-structured content repository.
package repository

import (
	"context"
	"errors"
	"io"
)

// Well-known qualified names of the content model
const (
	TypeFolder  = "cm:folder"
	TypeContent = "cm:content"
	TypeObject  = "cm:cmobject"

	AspectVersionable = "cm:versionable"
	AspectAuditable   = "cm:auditable"

	AssocContains = "cm:contains"

	PropName     = "cm:name"
	PropCreated  = "cm:created"
	PropCreator  = "cm:creator"
	PropModified = "cm:modified"
	PropModifier = "cm:modifier"

	// PropVersionType selects a MAJOR or MINOR history entry in CreateVersion
	PropVersionType = "versionType"
	VersionMajor    = "MAJOR"
	VersionMinor    = "MINOR"
)

var (
	ErrNotFound      = errors.New("node not found")
	ErrExists        = errors.New("node already exists")
	ErrReadOnly      = errors.New("transaction is read-only")
	ErrConflict      = errors.New("transaction conflict")
	ErrTypeNotFound  = errors.New("type not defined in dictionary")
	ErrNoContent     = errors.New("node has no content")
	ErrRetriesFailed = errors.New("transaction retries exhausted")
)

// NodeRef identifies a node. The zero value is not a valid node.
type NodeRef string

// TxOptions controls a transaction
type TxOptions struct {
	ReadOnly bool
	// RequiresNew is accepted for parity with container-managed
	// transactions; every call here starts a new transaction.
	RequiresNew bool
	// DisableAuditing stops automatic cm:created/cm:modified stamping so
	// that values supplied by the source are kept verbatim.
	DisableAuditing bool
	// Principal is recorded as creator/modifier when auditing is on.
	Principal string
}

// Repository is a transactional content tree.
type Repository interface {
	// Root returns the repository root node
	Root() NodeRef
	// Dictionary returns the content model used for validation
	Dictionary() Dictionary
	// RunInTransaction runs fn in a transaction, retrying the whole function
	// on transient conflicts. fn must be safe to run more than once.
	RunInTransaction(ctx context.Context, opts TxOptions, fn func(tx Tx) error) error
}

// Tx is the set of operations available inside a transaction
type Tx interface {
	Reader
	ResolvePath(root NodeRef, elements []string) (NodeRef, error)
	FindChild(parent NodeRef, assocType, name string) (NodeRef, error)
	CreateNode(parent NodeRef, assocType, name, nodeType string, props map[string]string) (NodeRef, error)
	SetType(node NodeRef, nodeType string) error
	AddAspect(node NodeRef, aspect string) error
	AddProperties(node NodeRef, props map[string]string) error
	CreateVersion(node NodeRef, props map[string]string) (string, error)
	Writer(node NodeRef) (io.WriteCloser, error)
	LinkContent(node NodeRef, location string, size int64) error
}

// Reader exposes the read side used by export
type Reader interface {
	Node(node NodeRef) (*Node, error)
	Children(node NodeRef) ([]NodeRef, error)
	Versions(node NodeRef) ([]VersionRecord, error)
	ContentReader(node NodeRef) (io.ReadCloser, error)
	VersionContentReader(node NodeRef, label string) (io.ReadCloser, error)
}

// Node is a snapshot of a node's state
type Node struct {
	Ref        NodeRef           `json:"ref"`
	Parent     NodeRef           `json:"parent,omitempty"`
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Aspects    []string          `json:"aspects,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	Content    *ContentData      `json:"content,omitempty"`
	Versions   int               `json:"versions,omitempty"`
}

// ContentData points at a node's bytes. Exactly one of ContentID (bytes in
// the repository's content store) or Location (in-place file) is set.
type ContentData struct {
	ContentID string `json:"content_id,omitempty"`
	Location  string `json:"location,omitempty"`
	Size      int64  `json:"size"`
	Mimetype  string `json:"mimetype,omitempty"`
	// Checksum is the base64 SHA-256 of streamed content
	Checksum string `json:"checksum,omitempty"`
}

// HasAspect reports whether the node carries aspect
func (n *Node) HasAspect(aspect string) bool {
	for _, a := range n.Aspects {
		if a == aspect {
			return true
		}
	}
	return false
}

// VersionRecord is one version history entry
type VersionRecord struct {
	Label      string            `json:"label"`
	Major      bool              `json:"major"`
	Type       string            `json:"type"`
	Aspects    []string          `json:"aspects,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	Content    *ContentData      `json:"content,omitempty"`
}
