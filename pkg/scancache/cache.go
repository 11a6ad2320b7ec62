// Package scancache persists scanned items so that a later run can replay
// them instead of walking the source tree again.
package scancache

import (
	"bufio"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/drivera73/alfresco-bulk-import/internal/logging"
	"github.com/drivera73/alfresco-bulk-import/pkg/analyser"
	"github.com/drivera73/alfresco-bulk-import/pkg/item"
	"github.com/drivera73/alfresco-bulk-import/pkg/status"
)

const (
	FoldersFile = "scan.folders.xml"
	FilesFile   = "scan.files.xml"

	progressInterval = 1000
)

// Cache replays scan records from a directory
type Cache struct {
	dir        string
	sourceRoot string
	analyser   *analyser.Analyser
	status     *status.Status
	log        *logging.Logger
}

// New creates a cache reading from dir. Version file references are
// resolved against sourceRoot.
func New(dir, sourceRoot string, a *analyser.Analyser, st *status.Status, log *logging.Logger) *Cache {
	return &Cache{dir: dir, sourceRoot: sourceRoot, analyser: a, status: st, log: log}
}

// ScanFolders replays directory records. It returns true if the cache held
// at least one directory record.
func (c *Cache) ScanFolders(ctx context.Context, fn func(*item.Item) error) (bool, error) {
	return c.scan(ctx, FoldersFile, true, fn)
}

// ScanFiles replays file records. It returns true if the cache held at least
// one file record.
func (c *Cache) ScanFiles(ctx context.Context, fn func(*item.Item) error) (bool, error) {
	return c.scan(ctx, FilesFile, false, fn)
}

func (c *Cache) scan(ctx context.Context, name string, directories bool, fn func(*item.Item) error) (bool, error) {
	path := filepath.Join(c.dir, name)
	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.log.Warn("Scan cache %s is unreadable, ignoring it: %v", path, err)
		}
		return false, nil
	}
	defer f.Close()

	counter := status.FilesScanned
	if directories {
		counter = status.DirectoriesScanned
	}
	found := false
	// An empty cache falls back to a live walk, which must still count.
	defer func() {
		if found {
			c.status.SourceCounter(counter).Freeze()
		}
	}()

	c.log.Info("Replaying scan cache %s", path)
	c.status.SetCurrentlyScanning(path)

	dec := xml.NewDecoder(bufio.NewReader(f))
	records := 0
	depth := 0

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return found, fmt.Errorf("read scan cache %s: %w", path, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				depth++
				continue
			}
			if t.Name.Local != "item" {
				if err := dec.Skip(); err != nil {
					return found, fmt.Errorf("read scan cache %s: %w", path, err)
				}
				continue
			}
			if err := c.status.CheckStopping(ctx); err != nil {
				return found, err
			}

			var rec Record
			if err := dec.DecodeElement(&rec, &t); err != nil {
				return found, fmt.Errorf("decode record %d of %s: %w", records+1, path, err)
			}
			records++
			if records%progressInterval == 0 {
				c.log.Info("Replayed %d records from %s", records, path)
			}
			if rec.Directory != directories {
				continue
			}
			found = true

			it, err := c.rebuild(&rec)
			if err != nil {
				c.log.Warn("Skipping record %d of %s: %v", records, path, err)
				c.status.IncrementSourceCounter(status.UnreadableEntries)
				continue
			}
			if err := fn(it); err != nil {
				return found, err
			}
		case xml.EndElement:
			depth--
		}
	}

	c.log.Info("Replayed %d records from %s", records, path)
	return found, nil
}

func (c *Cache) rebuild(rec *Record) (*item.Item, error) {
	if err := rec.Upgrade(); err != nil {
		return nil, err
	}
	if len(rec.Versions) == 0 {
		return nil, errNoVersions
	}

	versions := make([]item.Version, 0, len(rec.Versions))
	for _, rv := range rec.Versions {
		var number item.Number
		if rv.Number != "" {
			n, err := item.ParseNumber(rv.Number)
			if err != nil {
				return nil, err
			}
			number = n
		}

		vf := analyser.VersionFiles{Number: number}
		if rv.Content != "" {
			e, err := c.entry(rv.Content)
			if err != nil {
				return nil, err
			}
			vf.Content = e
			if e.Dir {
				c.status.IncrementSourceCounter(status.DirectoriesScanned)
			} else {
				c.status.IncrementSourceCounter(status.FilesScanned)
			}
		}
		if rv.Metadata != "" {
			e, err := c.entry(rv.Metadata)
			if err != nil {
				return nil, err
			}
			vf.Metadata = e
			c.status.IncrementSourceCounter(status.MetadataFilesScanned)
		}
		versions = append(versions, c.analyser.BuildVersion(vf))
	}

	return item.New(rec.SourceName, rec.TargetName, rec.Directory, rec.SourcePath, rec.TargetPath, versions)
}

func (c *Cache) entry(ref string) (*analyser.Entry, error) {
	path := filepath.FromSlash(ref)
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.sourceRoot, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", ref, err)
	}
	return &analyser.Entry{
		Name:     info.Name(),
		Path:     path,
		Dir:      info.IsDir(),
		Readable: true,
		Size:     info.Size(),
	}, nil
}
