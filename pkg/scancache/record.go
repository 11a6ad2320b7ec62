package scancache

import (
	"encoding/xml"
	"errors"
	"strings"

	"github.com/drivera73/alfresco-bulk-import/pkg/metadata"
)

// Record is one persisted item. Older caches wrote Name, FSRelativePath and
// RelativePath instead of the four source/target fields; Upgrade converts
// them.
type Record struct {
	XMLName   xml.Name `xml:"item"`
	Directory bool     `xml:"directory"`

	SourceName string `xml:"sourceName,omitempty"`
	SourcePath string `xml:"sourcePath,omitempty"`
	TargetName string `xml:"targetName,omitempty"`
	TargetPath string `xml:"targetPath,omitempty"`

	Name           string `xml:"name,omitempty"`
	FSRelativePath string `xml:"fsRelativePath,omitempty"`
	RelativePath   string `xml:"relativePath,omitempty"`

	Versions []RecordVersion `xml:"versions>version"`
}

// RecordVersion names the files behind one version, relative to the source root
type RecordVersion struct {
	Number   string `xml:"number"`
	Content  string `xml:"content,omitempty"`
	Metadata string `xml:"metadata,omitempty"`
}

var errNoVersions = errors.New("record has no versions")

// Legacy reports whether the record uses the old name/relativePath shape
func (r *Record) Legacy() bool {
	return r.SourceName == "" && r.TargetName == "" && r.Name != ""
}

// Upgrade converts a legacy record in place. The source name is the first
// version's file name with version and metadata suffixes stripped.
func (r *Record) Upgrade() error {
	if !r.Legacy() {
		return nil
	}
	if len(r.Versions) == 0 {
		return errNoVersions
	}

	first := r.Versions[0].Content
	if first == "" {
		first = r.Versions[0].Metadata
	}
	r.SourceName = metadata.BaseName(lastElement(first))
	if r.SourceName == "" {
		r.SourceName = r.Name
	}
	r.TargetName = r.Name
	r.TargetPath = r.RelativePath
	r.SourcePath = r.FSRelativePath
	if r.SourcePath == "" {
		r.SourcePath = r.RelativePath
	}

	r.Name = ""
	r.RelativePath = ""
	r.FSRelativePath = ""
	return nil
}

func lastElement(p string) string {
	p = strings.TrimRight(strings.ReplaceAll(p, "\\", "/"), "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
