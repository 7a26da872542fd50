package static

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/harvest/browser"
)

func TestOpen_DecodesDeclaredCharset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "7.html")
	doc := "<html><head><meta charset=\"iso-8859-1\"></head><body><p class=\"x\">caf\xe9</p></body></html>"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	p, err := Open(path, "https://app.example.com/college/7")
	require.NoError(t, err)

	ctx := context.Background()
	el, err := browser.First(ctx, p, "p.x")
	require.NoError(t, err)
	text, err := el.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "café", text)
}

func TestNavigate(t *testing.T) {
	ctx := context.Background()
	p, err := New("<p>home</p>", "https://a.test/")
	require.NoError(t, err)
	p.Pages = map[string]string{"https://a.test/1": "<h1>one</h1>"}

	require.NoError(t, p.Navigate(ctx, "https://a.test/1"))
	u, _ := p.URL(ctx)
	assert.Equal(t, "https://a.test/1", u)
	els, err := p.Find(ctx, "h1")
	require.NoError(t, err)
	assert.Len(t, els, 1)

	assert.Error(t, p.Navigate(ctx, "https://a.test/2"))
}

func TestSnapshotRendersDocument(t *testing.T) {
	p, err := New("<!DOCTYPE html><title>t</title><p hidden>x</p>", "https://a.test/")
	require.NoError(t, err)

	src, png, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, png)
	assert.Contains(t, src, "<!DOCTYPE html>")
	assert.Contains(t, src, `<p hidden="">x</p>`)

	els, err := p.Find(context.Background(), "p")
	require.NoError(t, err)
	visible, err := els[0].Visible(context.Background())
	require.NoError(t, err)
	assert.False(t, visible)
}
