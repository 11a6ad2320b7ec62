package repository

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextLabel(t *testing.T) {
	tests := []struct {
		prev  string
		major bool
		want  string
	}{
		{"", true, "1.0"},
		{"", false, "0.1"},
		{"1.0", false, "1.1"},
		{"1.1", false, "1.2"},
		{"1.2", true, "2.0"},
		{"0.3", true, "1.0"},
	}
	for _, tt := range tests {
		got, err := NextLabel(tt.prev, tt.major)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "prev=%q major=%v", tt.prev, tt.major)
	}

	_, err := NextLabel("garbage", true)
	assert.Error(t, err)
}

func TestIsMajor(t *testing.T) {
	assert.True(t, IsMajor(nil))
	assert.True(t, IsMajor(map[string]string{PropVersionType: VersionMajor}))
	assert.False(t, IsMajor(map[string]string{PropVersionType: "minor"}))
}

func TestStamp(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := map[string]string{"cm:title": "x"}

	out := Stamp(in, TxOptions{Principal: "alice"}, now, true)
	assert.Equal(t, "2024-05-01T12:00:00Z", out[PropCreated])
	assert.Equal(t, "alice", out[PropModifier])
	assert.Len(t, in, 1, "input must not be modified")

	out = Stamp(in, TxOptions{}, now, false)
	assert.Equal(t, "system", out[PropModifier])
	assert.NotContains(t, out, PropCreated)

	out = Stamp(map[string]string{PropModified: "2001-01-01T00:00:00Z"}, TxOptions{DisableAuditing: true}, now, true)
	assert.Equal(t, "2001-01-01T00:00:00Z", out[PropModified])
	assert.NotContains(t, out, PropCreator)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("report.txt"))
	assert.Error(t, ValidateName(" "))
	assert.Error(t, ValidateName("a/b"))
	assert.Error(t, ValidateName(`a\b`))
}

func TestConstraint_Check(t *testing.T) {
	one, three := 1.0, 3.0
	tests := []struct {
		name    string
		c       *Constraint
		value   string
		wantErr bool
	}{
		{"regex ok", &Constraint{Kind: "regex", Pattern: "[a-z]+"}, "abc", false},
		{"regex anchored", &Constraint{Kind: "regex", Pattern: "[a-z]+"}, "abc1", true},
		{"regex invalid", &Constraint{Kind: "regex", Pattern: "("}, "x", true},
		{"list ok", &Constraint{Kind: "list", Values: []string{"draft", "final"}}, "final", false},
		{"list miss", &Constraint{Kind: "list", Values: []string{"draft"}}, "final", true},
		{"length ok", &Constraint{Kind: "length", Min: &one, Max: &three}, "ab", false},
		{"length long", &Constraint{Kind: "length", Max: &three}, "abcd", true},
		{"minmax ok", &Constraint{Kind: "minmax", Min: &one, Max: &three}, "2.5", false},
		{"minmax low", &Constraint{Kind: "minmax", Min: &one}, "0", true},
		{"minmax nan", &Constraint{Kind: "minmax"}, "abc", true},
		{"unknown", &Constraint{Kind: "bogus"}, "x", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Check(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultModel(t *testing.T) {
	m := DefaultModel()

	_, ok := m.Type(TypeContent)
	assert.True(t, ok)
	_, ok = m.Aspect(AspectVersionable)
	assert.True(t, ok)
	_, ok = m.Type("cm:nope")
	assert.False(t, ok)

	assert.Equal(t, []string{AspectAuditable}, m.DefaultAspects(TypeFolder))

	var names []string
	for _, p := range m.Properties(TypeContent) {
		names = append(names, p.Name)
	}
	assert.Contains(t, names, "cm:content")
	assert.Contains(t, names, PropName, "inherited from cm:cmobject")

	nameDef := m.Properties(TypeObject)[0]
	require.Len(t, nameDef.Constraints, 1)
	assert.NoError(t, nameDef.Constraints[0].Check("report.txt"))
	assert.Error(t, nameDef.Constraints[0].Check("bad:name"))
}

func TestLoadModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	doc := `types:
  - name: acme:contract
    parent: cm:content
    properties:
      - name: acme:status
        mandatory: true
        constraints:
          - kind: list
            values: [draft, signed]
aspects:
  - name: acme:reviewed
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	m, err := LoadModel(path)
	require.NoError(t, err)

	_, ok := m.Type("acme:contract")
	assert.True(t, ok)
	_, ok = m.Aspect("acme:reviewed")
	assert.True(t, ok)
	_, ok = m.Type(TypeFolder)
	assert.True(t, ok, "defaults are kept")

	props := m.Properties("acme:contract")
	require.NotEmpty(t, props)
	assert.True(t, props[0].Mandatory)
	assert.Error(t, props[0].Constraints[0].Check("lost"))
}

func TestLoadModel_UnknownParent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte("types:\n  - name: x:y\n    parent: x:missing\n"), 0o644))

	_, err := LoadModel(path)
	assert.Error(t, err)
}

func TestGuessMimetype(t *testing.T) {
	assert.Equal(t, "application/pdf", GuessMimetype("a.pdf"))
	assert.Equal(t, DefaultMimetype, GuessMimetype("README"))
	assert.Equal(t, DefaultMimetype, GuessMimetype("x.zzunknownzz"))
}
