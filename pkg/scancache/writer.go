package scancache

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/drivera73/alfresco-bulk-import/pkg/item"
)

const rootElement = "scan"

// Writer persists items into the folders and files record streams
type Writer struct {
	sourceRoot string

	mu      sync.Mutex
	folders *recordStream
	files   *recordStream
}

type recordStream struct {
	f   *os.File
	buf *bufio.Writer
	enc *xml.Encoder
}

// NewWriter creates both record streams in dir, truncating existing ones
func NewWriter(dir, sourceRoot string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create scan cache directory: %w", err)
	}

	folders, err := openStream(filepath.Join(dir, FoldersFile))
	if err != nil {
		return nil, err
	}
	files, err := openStream(filepath.Join(dir, FilesFile))
	if err != nil {
		folders.f.Close()
		return nil, err
	}
	return &Writer{sourceRoot: sourceRoot, folders: folders, files: files}, nil
}

func openStream(path string) (*recordStream, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	buf := bufio.NewWriter(f)
	if _, err := io.WriteString(buf, xml.Header); err != nil {
		f.Close()
		return nil, err
	}
	enc := xml.NewEncoder(buf)
	enc.Indent("", "  ")
	if err := enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: rootElement}}); err != nil {
		f.Close()
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	return &recordStream{f: f, buf: buf, enc: enc}, nil
}

// Write appends one item to the matching stream
func (w *Writer) Write(it *item.Item) error {
	rec := Record{
		Directory:  it.IsDirectory(),
		SourceName: it.SourceName(),
		SourcePath: it.SourceParent(),
		TargetName: it.TargetName(),
		TargetPath: it.TargetParent(),
	}
	for _, v := range it.Versions() {
		rec.Versions = append(rec.Versions, RecordVersion{
			Number:   v.Number.String(),
			Content:  w.relative(v.ContentFile),
			Metadata: w.relative(v.MetadataFile),
		})
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.files
	if it.IsDirectory() {
		s = w.folders
	}
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("write record %s: %w", it.SourcePath(), err)
	}
	return nil
}

// Close terminates and flushes both streams
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	for _, s := range []*recordStream{w.folders, w.files} {
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *recordStream) close() error {
	err := s.enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: rootElement}})
	if err == nil {
		err = s.enc.Flush()
	}
	if err == nil {
		err = s.buf.Flush()
	}
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func (w *Writer) relative(path string) string {
	if path == "" {
		return ""
	}
	rel, err := filepath.Rel(w.sourceRoot, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
