package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/harvest/browser"
	"github.com/use-agent/harvest/browser/static"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/schema"
)

func extractFrom(t *testing.T, html, yamlSchema string) (*Extraction, error) {
	t.Helper()
	page, err := static.New(html, "https://app.example.com/college/42")
	require.NoError(t, err)
	s, err := schema.Parse([]byte(yamlSchema))
	require.NoError(t, err)

	in := testInteractor()
	x := NewExtractor(in, testPaginator(50), nil)
	return x.ExtractPage(context.Background(), page, s)
}

func TestExtract_FallbackLocator(t *testing.T) {
	got, err := extractFrom(t, `<div class="heading"><p>  Delhi   Institute </p></div>`, `
kind: overview
fields:
  - name: name
    locators:
      - "[class*='viewDetail_headingSection'] p"
      - ".heading p"
`)
	require.NoError(t, err)
	assert.Equal(t, "Delhi Institute", got.Record["name"])
}

func TestExtract_OptionalAndRequired(t *testing.T) {
	html := `<div class="card"><h2>Title</h2></div>`

	got, err := extractFrom(t, html, `
kind: overview
fields:
  - name: title
    locators: ["h2"]
  - name: rating
    optional: true
    locators: [".rating", ".stars"]
`)
	require.NoError(t, err)
	assert.Equal(t, models.Record{"title": "Title", "rating": nil}, got.Record)

	_, err = extractFrom(t, html, `
kind: overview
fields:
  - name: rating
    locators: [".rating"]
`)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrMissingField)
}

func TestExtract_EmptyValueFallsThrough(t *testing.T) {
	got, err := extractFrom(t, `<span class="a">   </span><span class="b">12 LPA</span>`, `
kind: overview
fields:
  - name: salary
    locators: [".a", ".b"]
`)
	require.NoError(t, err)
	assert.Equal(t, "12 LPA", got.Record["salary"])
}

func TestExtract_AttributeAndPattern(t *testing.T) {
	got, err := extractFrom(t, `<a class="apply" href="/apply?id=77">Apply</a><p class="fee">Fee: ₹ 1,20,000 per year</p>`, `
kind: overview
fields:
  - name: apply_url
    locators:
      - selector: a.apply
        attr: href
  - name: fee
    locators:
      - selector: p.fee
        pattern: 'Fee:\s*(.+?) per year'
`)
	require.NoError(t, err)
	assert.Equal(t, "/apply?id=77", got.Record["apply_url"])
	assert.Equal(t, "₹ 1,20,000", got.Record["fee"])
}

func TestExtract_GridTruncatesPartialRow(t *testing.T) {
	got, err := extractFrom(t, `
<div class="grid">
  <div class="heading">Exam</div><div class="heading">Year</div><div class="heading">Score</div>
  <div class="cell">JEE</div><div class="cell">2024</div><div class="cell">98</div>
  <div class="cell">CUET</div><div class="cell">2024</div><div class="cell">91</div>
  <div class="cell">CAT</div>
</div>`, `
kind: admission
fields:
  - name: cutoffs
    type: grid
    locators: [".grid"]
    headers: ".heading"
    cells: ".cell"
`)
	require.NoError(t, err)

	want := models.Grid{
		Headings: []string{"Exam", "Year", "Score"},
		Rows: [][]string{
			{"JEE", "2024", "98"},
			{"CUET", "2024", "91"},
		},
	}
	if diff := cmp.Diff(want, got.Record["cutoffs"]); diff != "" {
		t.Errorf("grid mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, got.Warnings, 1)
	assert.Contains(t, got.Warnings[0], "dropped trailing 1")
}

func TestExtract_ListOfRecordsSkipsBrokenItems(t *testing.T) {
	got, err := extractFrom(t, `
<div class="course"><div class="title">B.Tech</div><div class="duration">4 years</div></div>
<div class="course"><div class="duration">2 years</div></div>
<div class="course"><div class="title">MBA</div></div>`, `
kind: course
fields:
  - name: courses
    type: list
    locators: [".course"]
    fields:
      - name: title
        locators: [".title"]
      - name: duration
        optional: true
        locators: [".duration"]
`)
	require.NoError(t, err)

	want := []models.Record{
		{"title": "B.Tech", "duration": "4 years"},
		{"title": "MBA", "duration": nil},
	}
	if diff := cmp.Diff(want, got.Record["courses"]); diff != "" {
		t.Errorf("courses mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, got.Warnings, 1)
}

func TestExtract_ListOfStrings(t *testing.T) {
	got, err := extractFrom(t, `<ul><li>Hostel</li><li></li><li>Library</li></ul>`, `
kind: overview
fields:
  - name: facilities
    type: list
    locators: ["li"]
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hostel", "Library"}, got.Record["facilities"])
}

func TestExtract_Map(t *testing.T) {
	got, err := extractFrom(t, `
<div class="chip">Mode: <span>Full Time</span></div>
<div class="chip">Seats: <span>120</span></div>
<div class="stat"><div class="label">Aggregate</div><div class="v2">75%</div></div>
<div class="stat"><div class="label">Backlogs</div></div>`, `
kind: course
fields:
  - name: program
    type: map
    locators: [".chip"]
    value: ["span"]
  - name: marks
    type: map
    locators: [".stat"]
    key: ".label"
    value: [".v1", ".v2"]
`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Mode": "Full Time", "Seats": "120"}, got.Record["program"])
	assert.Equal(t, map[string]any{"Aggregate": "75%", "Backlogs": nil}, got.Record["marks"])
}

func TestExtract_NestedRecordAndRoot(t *testing.T) {
	got, err := extractFrom(t, `
<nav>ignored</nav>
<main id="detail">
  <section class="contact"><span class="phone">011 2345</span></section>
</main>`, `
kind: overview
ready: "#detail"
root: "#detail"
fields:
  - name: contact
    locators: [".contact"]
    fields:
      - name: phone
        locators: [".phone"]
      - name: email
        optional: true
        locators: [".email"]
  - name: ranking
    optional: true
    locators: [".ranking"]
    fields:
      - name: nirf
        locators: [".nirf"]
`)
	require.NoError(t, err)
	assert.Equal(t, models.Record{"phone": "011 2345", "email": nil}, got.Record["contact"])
	assert.Nil(t, got.Record["ranking"])
}

func TestExtract_OptionalActivationFailureDegrades(t *testing.T) {
	got, err := extractFrom(t, `<h1>Name</h1><div class="ChipTabs_tabTitle">Eligibility</div>`, `
kind: admission
fields:
  - name: name
    locators: ["h1"]
  - name: exams
    optional: true
    activate:
      selector: ".ChipTabs_tabTitle"
      text: exam
    type: list
    locators: [".exam"]
`)
	require.NoError(t, err)
	assert.Nil(t, got.Record["exams"])
	require.Len(t, got.Warnings, 1)
	assert.Contains(t, got.Warnings[0], "activation failed")
}

func TestExtract_Markdown(t *testing.T) {
	got, err := extractFrom(t, `<div class="about"><p>Founded in <strong>1961</strong>.</p><p><a href="/history">History</a></p></div>`, `
kind: overview
fields:
  - name: about
    format: markdown
    locators: [".about"]
`)
	require.NoError(t, err)
	about, ok := got.Record["about"].(string)
	require.True(t, ok)
	assert.Contains(t, about, "**1961**")
	assert.Contains(t, about, "(https://app.example.com/history)")
}

func TestNormalizeText(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  a \n\t b  ", "a b"},
		{"Fee Total", "Fee Total"},
		{"１２３", "123"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeText(tt.in), "input %q", tt.in)
	}
}

func extractFake(t *testing.T, page *fakePage, pager *Paginator, yamlSchema string) (*Extraction, error) {
	t.Helper()
	s, err := schema.Parse([]byte(yamlSchema))
	require.NoError(t, err)
	return NewExtractor(testInteractor(), pager, nil).ExtractPage(context.Background(), page, s)
}

func TestExtract_StaleRequiredFieldStaysTransient(t *testing.T) {
	stale := &fakeEl{textErr: browser.ErrStale}
	page := &fakePage{
		fakeEl: &fakeEl{children: map[string][]browser.Element{"h1": {stale}}},
		url:    "https://app.example.com/college/42",
	}

	_, err := extractFake(t, page, nil, `
kind: overview
fields:
  - name: name
    locators: ["h1"]
`)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTransientUI)
	assert.NotErrorIs(t, err, models.ErrMissingField)

	got, err := extractFake(t, page, nil, `
kind: overview
fields:
  - name: name
    optional: true
    locators: ["h1"]
`)
	require.NoError(t, err)
	assert.Nil(t, got.Record["name"])
	require.Len(t, got.Warnings, 1)
	assert.Contains(t, got.Warnings[0], "name")
}

// examItems builds n list items, each with an h3 title.
func examItems(n int) []browser.Element {
	out := make([]browser.Element, n)
	for i := range out {
		out[i] = &fakeEl{children: map[string][]browser.Element{
			"h3": {&fakeEl{text: fmt.Sprintf("Exam %d", i+1)}},
		}}
	}
	return out
}

func titles(t *testing.T, v any) []string {
	t.Helper()
	recs, ok := v.([]models.Record)
	require.True(t, ok, "got %T", v)
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i], _ = r["title"].(string)
	}
	return out
}

const examListSchema = `
kind: exams
fields:
  - name: exams
    type: list
    locators: [".item"]
    paginate:
      reveal:
        - click: "button.more"
        - key: PageDown
    fields:
      - name: title
        locators: ["h3"]
`

func TestExtract_PaginatedListClickThenKey(t *testing.T) {
	shown := 2
	btn := &fakeEl{text: "Load more"}
	btn.onClick = func() { shown += 2 }

	var keys []string
	root := &fakeEl{}
	root.find = func(sel string) []browser.Element {
		switch sel {
		case ".item":
			return examItems(shown)
		case "button.more":
			if shown < 4 {
				return []browser.Element{btn}
			}
		}
		return nil
	}
	page := &fakePage{fakeEl: root, url: "https://app.example.com/exams"}
	page.onKey = func(p *fakePage, key string) {
		keys = append(keys, key)
		if shown < 8 {
			shown += 2
			p.offset += 400
		}
	}

	got, err := extractFake(t, page, testPaginator(50), examListSchema)
	require.NoError(t, err)

	want := []string{"Exam 1", "Exam 2", "Exam 3", "Exam 4", "Exam 5", "Exam 6", "Exam 7", "Exam 8"}
	if diff := cmp.Diff(want, titles(t, got.Record["exams"])); diff != "" {
		t.Errorf("titles mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, btn.clicks)
	assert.Equal(t, browser.KeyPageDown, keys[0])
	assert.Empty(t, got.Warnings)
}

func TestExtract_PaginationCeilingWarns(t *testing.T) {
	shown := 2
	btn := &fakeEl{}
	btn.onClick = func() { shown++ }
	root := &fakeEl{}
	root.find = func(sel string) []browser.Element {
		switch sel {
		case ".item":
			return examItems(shown)
		case "button.more":
			return []browser.Element{btn}
		}
		return nil
	}
	page := &fakePage{fakeEl: root, url: "https://app.example.com/exams"}

	got, err := extractFake(t, page, testPaginator(3), examListSchema)
	require.NoError(t, err)

	assert.Len(t, titles(t, got.Record["exams"]), 5)
	require.Len(t, got.Warnings, 1)
	assert.Contains(t, got.Warnings[0], models.ErrCodePaginationCeiling)
	assert.True(t, strings.HasPrefix(got.Warnings[0], "exams:"), got.Warnings[0])
}

func TestExtract_PaginatedContainerScroll(t *testing.T) {
	shown := 3
	list := &fakeEl{}
	list.onScrollEnd = func() bool {
		if shown >= 9 {
			return false
		}
		shown += 3
		return true
	}
	root := &fakeEl{}
	root.find = func(sel string) []browser.Element {
		switch sel {
		case ".item":
			return examItems(shown)
		case ".results":
			return []browser.Element{list}
		}
		return nil
	}
	page := &fakePage{fakeEl: root, url: "https://app.example.com/exams"}

	got, err := extractFake(t, page, testPaginator(50), `
kind: exams
fields:
  - name: exams
    type: list
    locators: [".item"]
    paginate:
      reveal:
        - scroll: ".results"
    fields:
      - name: title
        locators: ["h3"]
`)
	require.NoError(t, err)
	assert.Len(t, titles(t, got.Record["exams"]), 9)
	assert.Equal(t, "Exam 9", titles(t, got.Record["exams"])[8])
}

func TestExtract_ActivationWaitsForControl(t *testing.T) {
	tab := &fakeEl{text: "Exams", showAfter: 1}
	panel := &fakeEl{children: map[string][]browser.Element{".exam": {&fakeEl{text: "JEE Main"}}}}
	shown := false
	tab.onClick = func() { shown = true }

	root := &fakeEl{}
	root.find = func(sel string) []browser.Element {
		switch sel {
		case ".tab":
			return []browser.Element{tab}
		case ".panel":
			if shown {
				return []browser.Element{panel}
			}
		case ".exam":
			if shown {
				return panel.children[".exam"]
			}
		}
		return nil
	}
	page := &fakePage{fakeEl: root, url: "https://app.example.com/college/42"}

	got, err := extractFake(t, page, nil, `
kind: admission
fields:
  - name: exams
    type: list
    activate:
      selector: ".tab"
      text: exam
      wait: ".panel"
    locators: [".exam"]
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"JEE Main"}, got.Record["exams"])
	assert.Equal(t, 0, tab.showAfter)
	assert.Equal(t, 1, tab.clicks)
}
