// Package fulltext locates and reads article full text stored on disk.
//
// Files live under <root>/<project_id>/<external_id>.<ext>. Plain text and
// HTML are read locally; any other format, PDF included, reports no text so
// the extraction stage falls back to the abstract.
package fulltext

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TextExtractor returns the plain text of a document. ok is false when the
// document has no extractable text.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (text string, ok bool, err error)
}

// Locator resolves the full-text file of an article.
type Locator interface {
	Locate(projectID uuid.UUID, externalID string) (path string, ok bool)
}

// Candidate extensions in lookup order.
var extensions = []string{".txt", ".html", ".htm", ".pdf"}

// maxFileBytes bounds how much of a single document is read.
const maxFileBytes = 32 << 20

// droppedElements never carry article text.
const droppedElements = "script, style, noscript, nav, header, footer, aside, form, svg"

// LocalExtractor reads full text from a directory tree.
type LocalExtractor struct {
	root   string
	logger zerolog.Logger
}

// NewLocalExtractor creates an extractor rooted at root. An empty root
// disables lookup.
func NewLocalExtractor(root string, logger zerolog.Logger) *LocalExtractor {
	return &LocalExtractor{
		root:   root,
		logger: logger.With().Str("component", "fulltext").Logger(),
	}
}

// Locate returns the first existing file for the article.
func (e *LocalExtractor) Locate(projectID uuid.UUID, externalID string) (string, bool) {
	if e.root == "" {
		return "", false
	}
	name := fileName(externalID)
	if name == "" {
		return "", false
	}

	dir := filepath.Join(e.root, projectID.String())
	for _, ext := range extensions {
		path := filepath.Join(dir, name+ext)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, true
		}
	}
	return "", false
}

// ExtractText reads path according to its extension. A missing file or an
// unsupported format is not an error.
func (e *LocalExtractor) ExtractText(ctx context.Context, path string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".txt", ".html", ".htm":
	default:
		e.logger.Debug().Str("path", path).Msg("no text extractor for format")
		return "", false, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to open full text: %w", err)
	}
	defer f.Close()

	var text string
	if ext == ".txt" {
		raw, err := io.ReadAll(io.LimitReader(f, maxFileBytes))
		if err != nil {
			return "", false, fmt.Errorf("failed to read full text: %w", err)
		}
		text = normalizeSpace(string(raw))
	} else {
		doc, err := goquery.NewDocumentFromReader(io.LimitReader(f, maxFileBytes))
		if err != nil {
			return "", false, fmt.Errorf("failed to parse HTML full text: %w", err)
		}
		text = htmlText(doc)
	}

	if text == "" {
		return "", false, nil
	}
	return text, true, nil
}

// ForArticle locates and extracts the article's full text.
func (e *LocalExtractor) ForArticle(ctx context.Context, projectID uuid.UUID, externalID string) (string, bool, error) {
	path, ok := e.Locate(projectID, externalID)
	if !ok {
		return "", false, nil
	}
	return e.ExtractText(ctx, path)
}

func htmlText(doc *goquery.Document) string {
	doc.Find(droppedElements).Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}
	if root.Length() == 0 {
		root = doc.Selection
	}

	var b strings.Builder
	root.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, figcaption, blockquote").Each(func(_ int, s *goquery.Selection) {
		// Parents of other matched blocks would repeat their children's text.
		if s.Find("p, li, td, th, blockquote").Length() > 0 {
			return
		}
		if t := normalizeSpace(s.Text()); t != "" {
			b.WriteString(t)
			b.WriteByte('\n')
		}
	})

	if b.Len() == 0 {
		return normalizeSpace(root.Text())
	}
	return strings.TrimSpace(b.String())
}

// fileName maps an external id to a single safe path element. Old-style
// arXiv ids contain a slash.
func fileName(externalID string) string {
	name := strings.TrimSpace(externalID)
	name = strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(name)
	if name == "" || name == "." || name == ".." {
		return ""
	}
	return name
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
