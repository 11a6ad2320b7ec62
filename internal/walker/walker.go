// Package walker lists source directories and feeds the items found in them,
// folders first, to a sink.
package walker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/drivera73/alfresco-bulk-import/internal/logging"
	"github.com/drivera73/alfresco-bulk-import/pkg/analyser"
	"github.com/drivera73/alfresco-bulk-import/pkg/item"
	"github.com/drivera73/alfresco-bulk-import/pkg/status"
)

// Sink receives the items of the walk. item.Batcher implements it.
type Sink interface {
	Add(it *item.Item) error
	FlushFolders() error
}

// Recorder persists walked items. scancache.Writer implements it.
type Recorder interface {
	Write(it *item.Item) error
}

// Walker walks a source tree with exclude pattern support
type Walker struct {
	root     string
	excludes []string
	analyser *analyser.Analyser
	status   *status.Status
	log      *logging.Logger
	recorder Recorder
}

// NewWalker creates a new source walker
func NewWalker(root string, excludes []string, a *analyser.Analyser, st *status.Status, log *logging.Logger) (*Walker, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("get absolute path: %w", err)
	}

	// Validate root exists and is a directory
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", absRoot)
	}

	for _, pattern := range excludes {
		if !doublestar.ValidatePattern(strings.TrimSuffix(pattern, "/")) {
			return nil, fmt.Errorf("invalid exclude pattern: %s", pattern)
		}
	}

	return &Walker{
		root:     absRoot,
		excludes: excludes,
		analyser: a,
		status:   st,
		log:      log,
	}, nil
}

// Root returns the absolute source root
func (w *Walker) Root() string {
	return w.root
}

// SetRecorder makes the walker persist every item it emits
func (w *Walker) SetRecorder(r Recorder) {
	w.recorder = r
}

// Walk scans the tree below the root. The items of each directory are
// analysed and emitted directories first; the sink's folders are flushed
// before the walk descends so parent batches are queued ahead of children.
func (w *Walker) Walk(ctx context.Context, sink Sink) error {
	return w.walkDir(ctx, sink, w.root, "", "")
}

func (w *Walker) walkDir(ctx context.Context, sink Sink, dir, sourceRel, targetRel string) error {
	if err := w.status.WaitWhilePaused(ctx); err != nil {
		return err
	}
	if err := w.status.CheckStopping(ctx); err != nil {
		return err
	}
	w.status.SetCurrentlyScanning(dir)

	entries, err := w.List(dir)
	if err != nil {
		return err
	}
	res, err := w.analyser.Analyse(ctx, sourceRel, targetRel, entries)
	if err != nil {
		return fmt.Errorf("analyse %s: %w", dir, err)
	}

	for _, it := range res.Directories {
		if err := w.emit(sink, it); err != nil {
			return err
		}
	}
	if err := sink.FlushFolders(); err != nil {
		return err
	}
	for _, it := range res.Files {
		if err := w.emit(sink, it); err != nil {
			return err
		}
	}

	for _, it := range res.Directories {
		sub := filepath.Join(dir, it.SourceName())
		err := w.walkDir(ctx, sink, sub, item.JoinPath(sourceRel, it.SourceName()), item.JoinPath(targetRel, it.TargetName()))
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) emit(sink Sink, it *item.Item) error {
	if w.recorder != nil {
		if err := w.recorder.Write(it); err != nil {
			return err
		}
	}
	if err := sink.Add(it); err != nil {
		return fmt.Errorf("queue %s: %w", it.SourcePath(), err)
	}
	return nil
}

// List returns the entries of dir sorted by name, without excluded ones.
// Entries that cannot be read are returned with Readable unset.
func (w *Walker) List(dir string) ([]analyser.Entry, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	entries := make([]analyser.Entry, 0, len(des))
	for _, de := range des {
		path := filepath.Join(dir, de.Name())
		relPath, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil, fmt.Errorf("get relative path: %w", err)
		}
		if w.isExcluded(filepath.ToSlash(relPath)) {
			continue
		}

		e := analyser.Entry{Name: de.Name(), Path: path}
		// Follow symlinks so the entry describes its target
		info, err := os.Stat(path)
		if err != nil {
			w.log.Debug("Cannot stat %s: %v", path, err)
			entries = append(entries, e)
			continue
		}
		e.Dir = info.IsDir()
		if !e.Dir {
			e.Size = info.Size()
		}
		e.Readable = readable(path, info)
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

func readable(path string, info os.FileInfo) bool {
	if !info.IsDir() && !info.Mode().IsRegular() {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// isExcluded checks if a path matches any exclude pattern
func (w *Walker) isExcluded(path string) bool {
	for _, pattern := range w.excludes {
		// Handle directory patterns (ending with /)
		if strings.HasSuffix(pattern, "/") {
			dirPattern := strings.TrimSuffix(pattern, "/")
			// Check if the path or any parent directory matches
			parts := strings.Split(path, "/")
			for i := 1; i <= len(parts); i++ {
				subPath := strings.Join(parts[:i], "/")
				if matched, _ := doublestar.Match(dirPattern, subPath); matched {
					return true
				}
			}
		} else {
			// Regular file pattern
			if matched, _ := doublestar.Match(pattern, path); matched {
				return true
			}
		}
	}
	return false
}
