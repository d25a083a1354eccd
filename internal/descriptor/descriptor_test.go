package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Valid(t *testing.T) {
	data := []byte(`{
		"name": "pkg1",
		"version": "v1.0",
		"description": "a test package",
		"keywords": ["test", "example"],
		"author": "Alice <alice@example.org>",
		"contributors": ["Bob <bob@example.org>"],
		"maintainers": [{"name": "Carol", "email": "carol@example.org"}],
		"dependencies": {"other": "1.x"}
	}`)
	d, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "pkg1", d.Name)
	assert.Equal(t, "1.0", d.Version, "leading v is stripped")
	require.NotNil(t, d.Author)
	assert.Equal(t, Author{Name: "Alice", Email: "alice@example.org"}, *d.Author)
	require.Len(t, d.Contributors, 1)
	assert.Equal(t, "bob@example.org", d.Contributors[0].Email)
	require.Len(t, d.Maintainers, 1)
	assert.Equal(t, "Carol", d.Maintainers[0].Name)
}

func TestParse_MalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{not json`))
	require.Error(t, err)
}

func TestValidate_MissingName(t *testing.T) {
	d := &Descriptor{Version: "1.0.0", Author: &Author{Name: "a"}}
	require.ErrorContains(t, d.Validate(), "name")
}

func TestValidate_MissingVersion(t *testing.T) {
	d := &Descriptor{Name: "pkg", Author: &Author{Name: "a"}}
	require.ErrorContains(t, d.Validate(), "version")
}

func TestValidate_InvalidVersion(t *testing.T) {
	d := &Descriptor{Name: "pkg", Version: "not.a.version", Author: &Author{Name: "a"}}
	require.ErrorContains(t, d.Validate(), "invalid version")
}

func TestValidate_MissingAuthorAndContributors(t *testing.T) {
	d := &Descriptor{Name: "pkg", Version: "1.0.0"}
	require.ErrorContains(t, d.Validate(), "author or initial contributor")
}

func TestValidate_ContributorOnly(t *testing.T) {
	d := &Descriptor{Name: "pkg", Version: "1.0.0", Contributors: []Author{{Name: "a"}}}
	require.NoError(t, d.Validate())
}

func TestCleanVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "1.0.0", want: "1.0.0"},
		{in: "v1.0.0", want: "1.0.0"},
		{in: "  2.1 ", want: "2.1"},
		{in: "1.0.0-beta.1", want: "1.0.0-beta.1"},
		{in: "garbage", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := CleanVersion(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestSortVersionsDesc(t *testing.T) {
	versions := []string{"1.0", "10.0.1", "2.0", "0.9.9", "2.0.1-rc.1"}
	SortVersionsDesc(versions)
	assert.Equal(t, []string{"10.0.1", "2.0.1-rc.1", "2.0", "1.0", "0.9.9"}, versions)
}

func TestSortVersionsDesc_PrereleaseBelowRelease(t *testing.T) {
	versions := []string{"1.0.0-beta.1", "1.0.0"}
	SortVersionsDesc(versions)
	assert.Equal(t, []string{"1.0.0", "1.0.0-beta.1"}, versions)
}
