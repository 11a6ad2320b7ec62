package repository

import (
	"context"
	"io"
)

// Backend is the storage primitive beneath a transaction. Implementations
// return ErrNotFound for missing keys.
type Backend interface {
	GetNode(ref NodeRef) (*Node, error)
	PutNode(n *Node) error
	GetChild(parent NodeRef, name string) (NodeRef, error)
	PutChild(parent NodeRef, name string, child NodeRef) error
	DeleteChild(parent NodeRef, name string) error
	ListChildren(parent NodeRef) ([]NodeRef, error)
	GetVersions(ref NodeRef) ([]VersionRecord, error)
	PutVersion(ref NodeRef, seq int, v VersionRecord) error
}

// ContentStore holds node content by ID
type ContentStore interface {
	Writer(ctx context.Context, id string) (io.WriteCloser, error)
	Reader(ctx context.Context, id string) (io.ReadCloser, error)
}

// Aborter is implemented by content writers that can discard a partial write
type Aborter interface {
	Abort(cause error) error
}

// Abort discards what was written to w. Writers that cannot abort are closed.
func Abort(w io.WriteCloser, cause error) error {
	if a, ok := w.(Aborter); ok {
		return a.Abort(cause)
	}
	return w.Close()
}
