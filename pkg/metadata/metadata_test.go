package metadata

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/drivera73/alfresco-bulk-import/pkg/item"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		filename  string
		base      string
		version   string
		versioned bool
		metadata  bool
	}{
		{"report.txt", "report.txt", "0", false, false},
		{"report.txt.v1", "report.txt", "1", true, false},
		{"report.txt.v1.5", "report.txt", "1.5", true, false},
		{"report.txt.metadata.properties.xml", "report.txt", "0", false, true},
		{"report.txt.v2.metadata.properties.xml", "report.txt", "2", true, true},
		{"report.txt.metadata.properties.xml.v3", "report.txt", "3", true, true},
		{"report.txt.vX", "report.txt.vX", "0", false, false},
		{".v1", ".v1", "0", false, false},
		{"archive.v1.v2", "archive.v1", "2", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got := ParseName(tt.filename)
			assert.Equal(t, tt.base, got.Base)
			assert.Equal(t, 0, got.Version.Cmp(item.MustNumber(tt.version)))
			assert.Equal(t, tt.versioned, got.Versioned)
			assert.Equal(t, tt.metadata, got.Metadata)
		})
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "a.txt", FileName("a.txt", item.Number{}, false))
	assert.Equal(t, "a.txt.v2", FileName("a.txt", item.MustNumber("2"), false))
	assert.Equal(t, "a.txt.metadata.properties.xml.v2", FileName("a.txt", item.MustNumber("2"), true))
}

func TestDecode(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE properties SYSTEM "http://java.sun.com/dtd/properties.dtd">
<properties>
  <comment>exported</comment>
  <entry key="type">cm:content</entry>
  <entry key="aspects">cm:versionable, cm:titled,,cm:titled</entry>
  <entry key="cm:title">Quarterly &amp; annual</entry>
  <entry key="cm:name">Report.txt</entry>
</properties>`

	md, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "cm:content", md.Type)
	assert.Equal(t, []string{"cm:versionable", "cm:titled"}, md.Aspects)
	assert.Equal(t, map[string]string{"cm:title": "Quarterly & annual", "cm:name": "Report.txt"}, md.Properties)
}

func TestEncodeDecodeKeepsReservedKeys(t *testing.T) {
	md := Metadata{
		Type:       "cm:folder",
		Aspects:    []string{"cm:titled"},
		Properties: map[string]string{"cm:title": "<Docs>"},
	}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, md))
	assert.Contains(t, buf.String(), "properties.dtd")

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, md, got)
}

func TestFileLoader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x"+Suffix)
	require.NoError(t, WriteFile(path, Metadata{Type: "cm:content"}))

	md, err := FileLoader{}.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cm:content", md.Type)

	require.NoError(t, os.WriteFile(path, []byte("not xml"), 0644))
	_, err = FileLoader{}.Load(path)
	assert.Error(t, err)

	_, err = FileLoader{}.Load(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
