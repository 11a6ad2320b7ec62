// Package export writes a repository subtree back to the filesystem in the
// layout the importer reads: content files, metadata files and numbered
// version files.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/drivera73/alfresco-bulk-import/internal/checksum"
	"github.com/drivera73/alfresco-bulk-import/internal/logging"
	"github.com/drivera73/alfresco-bulk-import/pkg/item"
	"github.com/drivera73/alfresco-bulk-import/pkg/metadata"
	"github.com/drivera73/alfresco-bulk-import/pkg/repository"
)

// Options control what is exported
type Options struct {
	// Versions writes version history entries as <name>.v<label> files
	Versions bool
	// Content writes content files; without it only metadata is written
	Content bool
	// Metadata writes <name>.metadata.properties.xml files
	Metadata bool
	// FoldersOnly skips documents
	FoldersOnly bool
	// SkipExisting leaves documents whose content file already exists
	SkipExisting bool
	// VerifyChecksums re-reads written streamed content and compares it
	// against the checksum stored with the node
	VerifyChecksums bool
	Concurrency     int
}

// DefaultOptions exports everything
func DefaultOptions() Options {
	return Options{Versions: true, Content: true, Metadata: true, VerifyChecksums: true, Concurrency: 8}
}

// Result counts what was written
type Result struct {
	Folders   int64 `json:"folders"`
	Documents int64 `json:"documents"`
	Versions  int64 `json:"versions"`
	Skipped   int64 `json:"skipped"`
	Bytes     int64 `json:"bytes"`
}

// ErrChecksumMismatch means an exported file differs from the stored content
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Exporter writes repository subtrees to disk
type Exporter struct {
	repo repository.Repository
	log  *logging.Logger
	opts Options

	folders   atomic.Int64
	documents atomic.Int64
	versions  atomic.Int64
	skipped   atomic.Int64
	bytes     atomic.Int64
}

// New creates an exporter
func New(repo repository.Repository, log *logging.Logger, opts Options) *Exporter {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Exporter{repo: repo, log: log, opts: opts}
}

type entry struct {
	ref repository.NodeRef
	rel string
}

// Export writes the subtree at source (a path below the repository root)
// into dest. Folders are written first, then documents concurrently.
func (e *Exporter) Export(ctx context.Context, source, dest string) (*Result, error) {
	folders, documents, err := e.plan(ctx, source)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dest, 0755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	for _, f := range folders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.writeFolder(ctx, dest, f); err != nil {
			return nil, err
		}
	}

	if !e.opts.FoldersOnly {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.opts.Concurrency)
		for _, d := range documents {
			g.Go(func() error {
				return e.writeDocument(gctx, dest, d)
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return &Result{
		Folders:   e.folders.Load(),
		Documents: e.documents.Load(),
		Versions:  e.versions.Load(),
		Skipped:   e.skipped.Load(),
		Bytes:     e.bytes.Load(),
	}, nil
}

// plan lists the subtree in one read-only transaction, parents before children
func (e *Exporter) plan(ctx context.Context, source string) (folders, documents []entry, err error) {
	dict := e.repo.Dictionary()
	err = e.repo.RunInTransaction(ctx, repository.TxOptions{ReadOnly: true}, func(tx repository.Tx) error {
		folders, documents = nil, nil

		root, err := tx.ResolvePath(e.repo.Root(), item.SplitPath(source))
		if err != nil {
			return fmt.Errorf("resolve export source %q: %w", source, err)
		}

		var walk func(parent repository.NodeRef, rel string) error
		walk = func(parent repository.NodeRef, rel string) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			children, err := tx.Children(parent)
			if err != nil {
				return fmt.Errorf("list %s: %w", rel, err)
			}
			var subfolders []entry
			for _, ref := range children {
				n, err := tx.Node(ref)
				if err != nil {
					return err
				}
				ent := entry{ref: ref, rel: item.JoinPath(rel, n.Name)}
				if isFolder(dict, n) {
					folders = append(folders, ent)
					subfolders = append(subfolders, ent)
				} else {
					documents = append(documents, ent)
				}
			}
			for _, sub := range subfolders {
				if err := walk(sub.ref, sub.rel); err != nil {
					return err
				}
			}
			return nil
		}
		return walk(root, "")
	})
	return folders, documents, err
}

func (e *Exporter) writeFolder(ctx context.Context, dest string, f entry) error {
	path := filepath.Join(dest, filepath.FromSlash(f.rel))
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("create folder %s: %w", f.rel, err)
	}
	if e.opts.Metadata {
		err := e.repo.RunInTransaction(ctx, repository.TxOptions{ReadOnly: true}, func(tx repository.Tx) error {
			n, err := tx.Node(f.ref)
			if err != nil {
				return err
			}
			return metadata.WriteFile(path+metadata.Suffix, toMetadata(n.Type, n.Aspects, n.Properties))
		})
		if err != nil {
			return fmt.Errorf("export folder %s: %w", f.rel, err)
		}
	}
	e.log.Debug("Exported folder %s", f.rel)
	e.folders.Add(1)
	return nil
}

func (e *Exporter) writeDocument(ctx context.Context, dest string, d entry) error {
	base := filepath.Join(dest, filepath.FromSlash(d.rel))
	if e.opts.SkipExisting {
		if _, err := os.Stat(base); err == nil {
			e.log.Debug("Skipping %s: already exported", d.rel)
			e.skipped.Add(1)
			return nil
		}
	}

	err := e.repo.RunInTransaction(ctx, repository.TxOptions{ReadOnly: true}, func(tx repository.Tx) error {
		n, err := tx.Node(d.ref)
		if err != nil {
			return err
		}

		if e.opts.Versions {
			history, err := tx.Versions(d.ref)
			if err != nil {
				return err
			}
			for _, v := range history {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := e.writeVersion(tx, base, d.ref, v); err != nil {
					return err
				}
			}
		}

		if e.opts.Metadata {
			if err := metadata.WriteFile(base+metadata.Suffix, toMetadata(n.Type, n.Aspects, n.Properties)); err != nil {
				return err
			}
		}
		if e.opts.Content && n.Content != nil {
			rc, err := tx.ContentReader(d.ref)
			if err != nil {
				return err
			}
			defer rc.Close()
			if err := e.writeContent(base, rc, n.Content); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("export document %s: %w", d.rel, err)
	}

	e.log.Debug("Exported document %s", d.rel)
	e.documents.Add(1)
	return nil
}

func (e *Exporter) writeVersion(tx repository.Tx, base string, ref repository.NodeRef, v repository.VersionRecord) error {
	number, err := item.ParseNumber(v.Label)
	if err != nil {
		return fmt.Errorf("version %s: %w", v.Label, err)
	}
	dir, name := filepath.Split(base)

	if e.opts.Metadata {
		path := filepath.Join(dir, metadata.FileName(name, number, true))
		if err := metadata.WriteFile(path, toMetadata(v.Type, v.Aspects, v.Properties)); err != nil {
			return err
		}
	}
	if e.opts.Content && v.Content != nil {
		rc, err := tx.VersionContentReader(ref, v.Label)
		if err != nil {
			return err
		}
		defer rc.Close()
		if err := e.writeContent(filepath.Join(dir, metadata.FileName(name, number, false)), rc, v.Content); err != nil {
			return err
		}
	}
	e.versions.Add(1)
	return nil
}

func (e *Exporter) writeContent(path string, r io.Reader, cd *repository.ContentData) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create content file: %w", err)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	e.bytes.Add(n)

	if e.opts.VerifyChecksums && cd.Checksum != "" {
		sum, err := checksum.File(path)
		if err != nil {
			return err
		}
		if sum != cd.Checksum {
			return fmt.Errorf("%w: %s", ErrChecksumMismatch, path)
		}
	}
	return nil
}

// toMetadata drops the properties the importer derives itself
func toMetadata(nodeType string, aspects []string, props map[string]string) metadata.Metadata {
	md := metadata.Metadata{Type: nodeType, Aspects: aspects}
	for k, v := range props {
		if k == item.ContentPropertyName || strings.HasPrefix(k, "sys:") {
			continue
		}
		if md.Properties == nil {
			md.Properties = make(map[string]string, len(props))
		}
		md.Properties[k] = v
	}
	return md
}

func isFolder(dict repository.Dictionary, n *repository.Node) bool {
	seen := make(map[string]bool)
	for t := n.Type; t != "" && !seen[t]; {
		if t == repository.TypeFolder {
			return true
		}
		seen[t] = true
		def, ok := dict.Type(t)
		if !ok {
			return false
		}
		t = def.Parent
	}
	return false
}
