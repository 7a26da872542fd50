package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	s, err := Parse([]byte(`
kind: course
ready: "div[class*='Course_mainDiv']"
activate:
  selector: "#tab-2"
  wait: "div[class*='Course_mainDiv']"
discriminator: title
fields:
  - name: title
    locators: ["div[class*='titleText']"]
  - name: program
    locators: [".panel"]
    fields:
      - name: mode
        locators:
          - selector: ".chip span"
            pattern: '(\w+) Time'
  - name: cards
    type: list
    locators: [".card"]
    paginate:
      reveal:
        - click: "div[class*='load_more']"
        - scroll: window
        - key: PageDown
`))
	require.NoError(t, err)

	assert.Equal(t, Single, s.Fields[0].Type)
	assert.Equal(t, FormatText, s.Fields[0].Format)
	assert.Equal(t, Record, s.Fields[1].Type, "sub-fields imply record")

	loc := s.Fields[1].Fields[0].Locators[0]
	require.NotNil(t, loc.Regexp())
	assert.Equal(t, []string{"Full Time", "Full"}, loc.Regexp().FindStringSubmatch("Full Time"))
	assert.Len(t, s.Fields[2].Paginate.Reveal, 3)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing kind", `fields: [{name: a, locators: [a]}]`, "kind is required"},
		{"no fields", `kind: x`, "at least one field"},
		{"bad selector", `{kind: x, fields: [{name: a, locators: ["div[["]}]}`, "invalid selector"},
		{"bad pattern", `{kind: x, fields: [{name: a, locators: [{selector: a, pattern: "("}]}]}`, "pattern"},
		{"duplicate name", `{kind: x, fields: [{name: a, locators: [a]}, {name: a, locators: [b]}]}`, "duplicate field name"},
		{"grid without cells", `{kind: x, fields: [{name: g, type: grid, headers: th}]}`, "needs headers and cells"},
		{"map without value", `{kind: x, fields: [{name: m, type: map, locators: [.m]}]}`, "needs a value locator"},
		{"unknown type", `{kind: x, fields: [{name: a, type: table, locators: [a]}]}`, "unknown type"},
		{"paginate on single", `{kind: x, fields: [{name: a, locators: [a], paginate: {reveal: [{key: End}]}}]}`, "list fields only"},
		{"ambiguous reveal", `{kind: x, fields: [{name: a, type: list, locators: [a], paginate: {reveal: [{key: End, scroll: window}]}}]}`, "exactly one"},
		{"discriminator not single", `{kind: x, discriminator: l, fields: [{name: l, type: list, locators: [a]}]}`, "discriminator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_ShippedSchemas(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("..", "schemas", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			s, err := Load(f)
			require.NoError(t, err)
			assert.NotEmpty(t, s.Kind)
		})
	}
}

func TestLoad_ExamSchema(t *testing.T) {
	s, err := Load(filepath.Join("..", "schemas", "exam.yaml"))
	require.NoError(t, err)

	require.Len(t, s.Fields, 1)
	exams := s.Fields[0]
	assert.Equal(t, List, exams.Type)
	require.NotNil(t, exams.Paginate)
	assert.Equal(t, []Reveal{{Scroll: "window"}}, exams.Paginate.Reveal)

	var names []string
	for _, f := range exams.Fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"name", "exam_type", "total_exams", "courses", "last_application", "exam_date"}, names)
	assert.Equal(t, Record, exams.Fields[4].Type)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
