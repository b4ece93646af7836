package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSetIsValid(t *testing.T) {
	t.Parallel()

	set, err := DefaultSet()
	require.NoError(t, err)
	assert.Equal(t, []string{"totalPages", "itemsPerPage", "currentPage"}, set.Pagination.Attributes)
	assert.Contains(t, set.FieldNames(), "characteristics")
	assert.Len(t, set.OfferLinks.Stages[0].Path, 9)
}

func TestParseSetRejectsUnknownTransform(t *testing.T) {
	t.Parallel()

	data := `
pagination: {stages: [{input: markup, path: [{tag: body}]}]}
offer_links: {stages: [{input: markup, path: [{tag: body}]}]}
offer_details: {stages: [{input: markup, path: [{tag: body}], transform: json}]}
fields:
  price: {stages: [{input: document, path: [{tag: price}], transform: eval}]}
`
	_, err := ParseSet([]byte(data))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `fields.price: stage 0: unknown transform "eval"`)
}

func TestParseSetRejectsMarkupField(t *testing.T) {
	t.Parallel()

	data := `
pagination: {stages: [{input: markup, path: [{tag: body}]}]}
offer_links: {stages: [{input: markup, path: [{tag: body}]}]}
offer_details: {stages: [{input: markup, path: [{tag: body}]}]}
fields:
  title: {stages: [{input: markup, path: [{tag: h1}], transform: text}]}
`
	_, err := ParseSet([]byte(data))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first stage must take document input")
}

func TestHierarchyValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		h    Hierarchy
		want string
	}{
		{name: "no stages", h: Hierarchy{}, want: "no stages"},
		{
			name: "bad input",
			h:    Hierarchy{Stages: []Stage{{Input: "xml"}}},
			want: "unknown input kind",
		},
		{
			name: "empty tag",
			h:    Hierarchy{Stages: []Stage{{Input: InputMarkup, Path: []Step{{Tag: " "}}}}},
			want: "tag is required",
		},
		{
			name: "document attrs",
			h: Hierarchy{Stages: []Stage{{
				Input: InputDocument,
				Path:  []Step{{Tag: "a", Attrs: map[string]string{"x": "y"}}},
			}}},
			want: "markup only",
		},
		{
			name: "pluck without args",
			h:    Hierarchy{Stages: []Stage{{Input: InputDocument, Transform: TransformPluck}}},
			want: "requires args",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.h.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadSetFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "h.yaml")
	require.NoError(t, os.WriteFile(path, defaultHierarchies, 0o600))
	set, err := LoadSet(path)
	require.NoError(t, err)
	assert.NotEmpty(t, set.Fields)

	_, err = LoadSet(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
