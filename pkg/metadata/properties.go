package metadata

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Reserved keys in a metadata file
const (
	KeyType    = "type"
	KeyAspects = "aspects"
	KeyName    = "cm:name"
)

// Metadata is the decoded content of one metadata file.
type Metadata struct {
	Type       string
	Aspects    []string
	Properties map[string]string
}

// Empty reports whether nothing was declared
func (m Metadata) Empty() bool {
	return m.Type == "" && len(m.Aspects) == 0 && len(m.Properties) == 0
}

// Loader loads metadata files
type Loader interface {
	Load(path string) (Metadata, error)
}

// FileLoader reads metadata files from the local filesystem
type FileLoader struct{}

// Load reads and decodes the metadata file at path
func (FileLoader) Load(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("open metadata file: %w", err)
	}
	defer f.Close()

	md, err := Decode(f)
	if err != nil {
		return Metadata{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return md, nil
}

type propertiesDoc struct {
	XMLName xml.Name        `xml:"properties"`
	Comment string          `xml:"comment,omitempty"`
	Entries []propertyEntry `xml:"entry"`
}

type propertyEntry struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// Decode reads a properties XML document
func Decode(r io.Reader) (Metadata, error) {
	var doc propertiesDoc
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return Metadata{}, err
	}

	md := Metadata{Properties: make(map[string]string)}
	for _, e := range doc.Entries {
		key := strings.TrimSpace(e.Key)
		switch key {
		case "":
			continue
		case KeyType:
			md.Type = strings.TrimSpace(e.Value)
		case KeyAspects:
			md.Aspects = splitAspects(e.Value)
		default:
			md.Properties[key] = e.Value
		}
	}
	if len(md.Properties) == 0 {
		md.Properties = nil
	}
	return md, nil
}

// Encode writes md as a properties XML document with sorted keys
func Encode(w io.Writer, md Metadata) error {
	doc := propertiesDoc{}
	if md.Type != "" {
		doc.Entries = append(doc.Entries, propertyEntry{Key: KeyType, Value: md.Type})
	}
	if len(md.Aspects) > 0 {
		doc.Entries = append(doc.Entries, propertyEntry{Key: KeyAspects, Value: strings.Join(md.Aspects, ",")})
	}
	keys := make([]string, 0, len(md.Properties))
	for k := range md.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		doc.Entries = append(doc.Entries, propertyEntry{Key: k, Value: md.Properties[k]})
	}

	if _, err := io.WriteString(w, xml.Header+`<!DOCTYPE properties SYSTEM "http://java.sun.com/dtd/properties.dtd">`+"\n"); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode properties: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteFile encodes md to path
func WriteFile(path string, md Metadata) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metadata file: %w", err)
	}
	if err := Encode(f, md); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func splitAspects(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
