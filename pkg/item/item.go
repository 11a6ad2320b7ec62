package item

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

// ContentKind describes where a version's bytes come from
type ContentKind int

const (
	NoContent ContentKind = iota
	Streamed
	InPlace
)

func (k ContentKind) String() string {
	switch k {
	case Streamed:
		return "streamed"
	case InPlace:
		return "in-place"
	default:
		return "none"
	}
}

// ContentPropertyName carries the location of in-place content
const ContentPropertyName = "cm:content"

// Version is one point in an item's history.
type Version struct {
	Number Number

	// ContentFile and MetadataFile are the source files backing this version.
	ContentFile  string
	MetadataFile string

	Content ContentKind
	Size    int64

	Type       string
	Aspects    []string
	Properties map[string]string
}

// HasContent reports whether the version carries bytes
func (v Version) HasContent() bool {
	return v.Content != NoContent
}

// HasMetadata reports whether the version carries a type, aspects or properties
func (v Version) HasMetadata() bool {
	return v.Type != "" || len(v.Aspects) > 0 || len(v.Properties) > 0
}

// InPlacePath returns the content location declared for in-place content
func (v Version) InPlacePath() (string, bool) {
	p, ok := v.Properties[ContentPropertyName]
	return p, ok && p != ""
}

// Label names the version in logs and reports
func (v Version) Label() string {
	if v.ContentFile != "" {
		return v.ContentFile
	}
	return v.MetadataFile
}

var (
	ErrNoVersions     = errors.New("item has no versions")
	ErrBlankName      = errors.New("item name is blank")
	ErrVersionOrder   = errors.New("version numbers must be strictly ascending")
	ErrDuplicateEntry = errors.New("duplicate version number")
)

// Item is a logical file or directory with one or more versions. It is
// immutable once built by New.
type Item struct {
	sourceName   string
	targetName   string
	directory    bool
	sourceParent string
	targetParent string
	versions     []Version
}

// New validates and builds an item. Versions are sorted ascending; repeated
// version numbers are rejected. An empty targetParent falls back to the
// source parent.
func New(sourceName, targetName string, directory bool, sourceParent, targetParent string, versions []Version) (*Item, error) {
	if strings.TrimSpace(sourceName) == "" || strings.TrimSpace(targetName) == "" {
		return nil, ErrBlankName
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%s: %w", sourceName, ErrNoVersions)
	}

	sorted := make([]Version, len(versions))
	copy(sorted, versions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Number.Cmp(sorted[j].Number) < 0
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Number.Cmp(sorted[i-1].Number) == 0 {
			return nil, fmt.Errorf("%s: %w: %s", sourceName, ErrDuplicateEntry, sorted[i].Number)
		}
	}

	sourceParent = CleanPath(sourceParent)
	targetParent = CleanPath(targetParent)
	if targetParent == "" {
		targetParent = sourceParent
	}

	return &Item{
		sourceName:   sourceName,
		targetName:   targetName,
		directory:    directory,
		sourceParent: sourceParent,
		targetParent: targetParent,
		versions:     sorted,
	}, nil
}

func (i *Item) SourceName() string   { return i.sourceName }
func (i *Item) TargetName() string   { return i.targetName }
func (i *Item) IsDirectory() bool    { return i.directory }
func (i *Item) SourceParent() string { return i.sourceParent }
func (i *Item) TargetParent() string { return i.targetParent }

// Versions returns the versions in ascending order. The slice must not be modified.
func (i *Item) Versions() []Version {
	return i.versions
}

// First returns the lowest version
func (i *Item) First() Version {
	return i.versions[0]
}

// Head returns the highest version
func (i *Item) Head() Version {
	return i.versions[len(i.versions)-1]
}

// SourcePath is the item's path relative to the source root
func (i *Item) SourcePath() string {
	return JoinPath(i.sourceParent, i.sourceName)
}

// TargetPath is the item's path relative to the target root
func (i *Item) TargetPath() string {
	return JoinPath(i.targetParent, i.targetName)
}

// Size is the total content size over all versions
func (i *Item) Size() int64 {
	var total int64
	for _, v := range i.versions {
		total += v.Size
	}
	return total
}

// PropertyCount is the number of metadata properties over all versions
func (i *Item) PropertyCount() int {
	n := 0
	for _, v := range i.versions {
		n += len(v.Properties)
	}
	return n
}

// AspectCount is the number of aspects over all versions
func (i *Item) AspectCount() int {
	n := 0
	for _, v := range i.versions {
		n += len(v.Aspects)
	}
	return n
}

func (i *Item) String() string {
	return i.SourcePath()
}

// CleanPath normalises a relative path: backslashes become slashes, empty and
// "." segments are dropped, and no leading or trailing slash remains.
func CleanPath(p string) string {
	return strings.Join(SplitPath(p), "/")
}

// SplitPath splits a relative path on runs of / or \
func SplitPath(p string) []string {
	fields := strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' })
	out := fields[:0]
	for _, f := range fields {
		if f != "." {
			out = append(out, f)
		}
	}
	return out
}

// JoinPath joins a relative parent path and a name
func JoinPath(parent, name string) string {
	parent = CleanPath(parent)
	if parent == "" {
		return name
	}
	return path.Join(parent, name)
}
