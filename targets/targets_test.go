package targets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/harvest/models"
)

func sample(n int) []models.Target {
	out := make([]models.Target, n)
	for i := range out {
		id := models.TargetID(string(rune('a' + i)))
		out[i] = models.Target{ID: id, Locator: "https://app.example.com/c/" + string(id)}
	}
	return out
}

func TestLoad_JSON5WithBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "url.json")
	body := "\xef\xbb\xbf" + `[
  // hand-edited list
  {id: 1, url: "https://app.example.com/c/1", name: "One"},
  {"id": "x-2", "locator": "https://app.example.com/c/2", "label": "Two"},
]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	got, err := Load(path)
	require.NoError(t, err)

	want := []models.Target{
		{ID: "1", Locator: "https://app.example.com/c/1", Label: "One"},
		{ID: "x-2", Locator: "https://app.example.com/c/2", Label: "Two"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("targets mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", ``, "empty"},
		{"not an array", `{"id": 1}`, "decode"},
		{"missing id", `[{"url": "u"}]`, "id is required"},
		{"fractional id", `[{"id": 1.5, "url": "u"}]`, "not an integer"},
		{"id beyond 2^53", `[{"id": 9007199254740993, "url": "u"}]`, "exact integer range"},
		{"negative id beyond 2^53", `[{"id": -18014398509481984, "url": "u"}]`, "exact integer range"},
		{"missing locator", `[{"id": 1}]`, "locator is required"},
		{"duplicate id", `[{"id": 1, "url": "a"}, {"id": "1", "url": "b"}]`, "already used"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAudit(t *testing.T) {
	list := []models.Target{
		{ID: "1", Locator: "a"},
		{ID: "2", Locator: "b"},
		{ID: "3", Locator: "a"},
	}
	got := Audit(list)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Locator)
	assert.Equal(t, []models.TargetID{"1", "3"}, got[0].IDs)
}

func TestIterator_ResumeAfter(t *testing.T) {
	list := sample(5)

	all, err := New(list, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, all.Remaining())

	start := models.TargetID("b")
	it, err := New(list, &start)
	require.NoError(t, err)
	assert.Equal(t, 3, it.Remaining())

	var ids []models.TargetID
	for tg, ok := it.Next(); ok; tg, ok = it.Next() {
		ids = append(ids, tg.ID)
	}
	assert.Equal(t, []models.TargetID{"c", "d", "e"}, ids)
	assert.Equal(t, 0, it.Remaining())

	_, ok := it.Next()
	assert.False(t, ok, "iterator is one-shot")
}

func TestIterator_ResumeAfterLast(t *testing.T) {
	last := models.TargetID("e")
	it, err := New(sample(5), &last)
	require.NoError(t, err)
	_, ok := it.Next()
	assert.False(t, ok)
}

func TestIterator_UnknownResumePoint(t *testing.T) {
	id := models.TargetID("zz")
	_, err := New(sample(3), &id)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestDeriveAndMissing(t *testing.T) {
	list := sample(3)
	entries := []models.Entry{
		{Target: list[0], Status: models.StatusSucceeded},
		{Target: models.Target{ID: "n", Locator: "https://app.example.com/c/n"}, Status: models.StatusSucceeded},
		{Target: models.Target{ID: "f", Locator: "https://app.example.com/c/f"}, Status: models.StatusFailed},
	}

	derived, added := Derive(list, entries)
	assert.Equal(t, 1, added)
	assert.Len(t, derived, 4)
	assert.Equal(t, models.TargetID("n"), derived[3].ID)

	missing := Missing(list, entries)
	assert.Equal(t, []models.Target{list[1], list[2]}, missing)
}

func TestCompare(t *testing.T) {
	c := Compare([]string{"b", "a", "c"}, []string{"c", "d", "a"})
	assert.Equal(t, []string{"b"}, c.OnlyLeft)
	assert.Equal(t, []string{"d"}, c.OnlyRight)
	assert.Equal(t, []string{"a", "c"}, c.Common)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.json")
	list := []models.Target{{ID: "7", Locator: "https://app.example.com/c/7", Label: "Seven"}}
	require.NoError(t, Save(path, list))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, list, got)
}
