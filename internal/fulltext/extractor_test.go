package fulltext

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head><title>ignored</title><style>p { color: red }</style><script>var tracking = 1;</script></head>
<body>
  <nav>Home | Journals</nav>
  <article>
    <h1>Statins and LDL</h1>
    <p>First   paragraph
       spans lines.</p>
    <ul><li><p>Nested item</p></li></ul>
    <table><tr><td>Cell</td></tr></table>
  </article>
  <footer>Copyright</footer>
</body>
</html>`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLocalExtractor_Locate(t *testing.T) {
	root := t.TempDir()
	projectID := uuid.New()
	dir := filepath.Join(root, projectID.String())

	writeFile(t, filepath.Join(dir, "111.txt"), "text")
	writeFile(t, filepath.Join(dir, "111.pdf"), "%PDF-1.7")
	writeFile(t, filepath.Join(dir, "222.pdf"), "%PDF-1.7")
	writeFile(t, filepath.Join(dir, "hep-th_9901001.html"), "<p>x</p>")

	e := NewLocalExtractor(root, zerolog.Nop())

	path, ok := e.Locate(projectID, "111")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "111.txt"), path, "txt is preferred over pdf")

	path, ok = e.Locate(projectID, "222")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "222.pdf"), path)

	path, ok = e.Locate(projectID, "hep-th/9901001")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "hep-th_9901001.html"), path)

	_, ok = e.Locate(projectID, "333")
	assert.False(t, ok)

	_, ok = e.Locate(uuid.New(), "111")
	assert.False(t, ok, "other projects are not searched")

	_, ok = e.Locate(projectID, "..")
	assert.False(t, ok)

	_, ok = NewLocalExtractor("", zerolog.Nop()).Locate(projectID, "111")
	assert.False(t, ok)
}

func TestLocalExtractor_ExtractText_Plain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, path, "  Background:\n\tStatins   lower LDL.  \n")

	text, ok, err := NewLocalExtractor("", zerolog.Nop()).ExtractText(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Background: Statins lower LDL.", text)
}

func TestLocalExtractor_ExtractText_HTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.html")
	writeFile(t, path, articleHTML)

	text, ok, err := NewLocalExtractor("", zerolog.Nop()).ExtractText(context.Background(), path)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "Statins and LDL\nFirst paragraph spans lines.\nNested item\nCell", text)
	assert.NotContains(t, text, "tracking")
	assert.NotContains(t, text, "Copyright")
	assert.NotContains(t, text, "Journals")
}

func TestLocalExtractor_ExtractText_HTMLWithoutBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.htm")
	writeFile(t, path, "<html><body><div>Just   a div</div></body></html>")

	text, ok, err := NewLocalExtractor("", zerolog.Nop()).ExtractText(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Just a div", text)
}

func TestLocalExtractor_ExtractText_NoText(t *testing.T) {
	dir := t.TempDir()
	e := NewLocalExtractor("", zerolog.Nop())

	pdf := filepath.Join(dir, "a.pdf")
	writeFile(t, pdf, "%PDF-1.7 binary")
	empty := filepath.Join(dir, "empty.txt")
	writeFile(t, empty, "   \n ")

	for _, path := range []string{pdf, empty, filepath.Join(dir, "missing.txt")} {
		text, ok, err := e.ExtractText(context.Background(), path)
		require.NoError(t, err, path)
		assert.False(t, ok, path)
		assert.Empty(t, text, path)
	}
}

func TestLocalExtractor_ExtractText_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewLocalExtractor("", zerolog.Nop()).ExtractText(ctx, "a.txt")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalExtractor_ForArticle(t *testing.T) {
	root := t.TempDir()
	projectID := uuid.New()
	writeFile(t, filepath.Join(root, projectID.String(), "W42.txt"), "Full text body")
	writeFile(t, filepath.Join(root, projectID.String(), "W43.pdf"), "%PDF")

	e := NewLocalExtractor(root, zerolog.Nop())

	text, ok, err := e.ForArticle(context.Background(), projectID, "W42")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Full text body", text)

	_, ok, err = e.ForArticle(context.Background(), projectID, "W43")
	require.NoError(t, err)
	assert.False(t, ok, "pdf has no local extractor")

	_, ok, err = e.ForArticle(context.Background(), projectID, "W44")
	require.NoError(t, err)
	assert.False(t, ok)
}
