package metadata

import (
	"regexp"

	"github.com/drivera73/alfresco-bulk-import/pkg/item"
)

// Suffix marks a file that carries metadata rather than content.
const Suffix = ".metadata.properties.xml"

const versionPattern = `\.v([0-9]+(?:\.[0-9]+)?)`

var (
	metadataThenVersion = regexp.MustCompile(`^(.+)` + regexp.QuoteMeta(Suffix) + versionPattern + `$`)
	versionThenMetadata = regexp.MustCompile(`^(.+)` + versionPattern + regexp.QuoteMeta(Suffix) + `$`)
	metadataOnly        = regexp.MustCompile(`^(.+)` + regexp.QuoteMeta(Suffix) + `$`)
	versionOnly         = regexp.MustCompile(`^(.+)` + versionPattern + `$`)
)

// Name is a source file name decoded according to the naming conventions.
type Name struct {
	Base      string
	Version   item.Number
	Versioned bool
	Metadata  bool
}

// ParseName strips the version and metadata suffixes from a file name. Names
// that match no convention are unversioned content named after themselves.
func ParseName(filename string) Name {
	if m := metadataThenVersion.FindStringSubmatch(filename); m != nil {
		return Name{Base: m[1], Version: item.MustNumber(m[2]), Versioned: true, Metadata: true}
	}
	if m := versionThenMetadata.FindStringSubmatch(filename); m != nil {
		return Name{Base: m[1], Version: item.MustNumber(m[2]), Versioned: true, Metadata: true}
	}
	if m := metadataOnly.FindStringSubmatch(filename); m != nil {
		return Name{Base: m[1], Metadata: true}
	}
	if m := versionOnly.FindStringSubmatch(filename); m != nil {
		return Name{Base: m[1], Version: item.MustNumber(m[2]), Versioned: true}
	}
	return Name{Base: filename}
}

// BaseName returns the logical name behind a source file name
func BaseName(filename string) string {
	return ParseName(filename).Base
}

// FileName renders the source file name for a base name, version and kind.
// Version 0 renders without a version suffix.
func FileName(base string, version item.Number, isMetadata bool) string {
	name := base
	if isMetadata {
		name += Suffix
	}
	if !version.IsZero() {
		name += ".v" + version.String()
	}
	return name
}
