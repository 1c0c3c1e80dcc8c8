package ingestion

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// loader turns raw document bytes into plain text.
type loader func(data []byte) (string, error)

// loaders maps each accepted extension to its parser.
var loaders = map[string]loader{
	".txt":      loadPlainText,
	".md":       loadMarkdown,
	".markdown": loadMarkdown,
}

// utf8BOM is stripped from the start of documents saved by Windows editors.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// SupportedExtensions lists the accepted file extensions.
func SupportedExtensions() []string {
	return []string{".txt", ".md", ".markdown"}
}

// IsSupported reports whether name has an accepted extension.
func IsSupported(name string) bool {
	_, ok := loaders[strings.ToLower(filepath.Ext(name))]
	return ok
}

// checkText rejects input that is not a text document.
func checkText(data []byte) error {
	if !utf8.Valid(data) {
		return errors.New("document is not valid UTF-8")
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return errors.New("document contains NUL bytes, it looks binary")
	}
	return nil
}

// loadPlainText returns the document verbatim with CRLF line endings
// normalised.
func loadPlainText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if err := checkText(data); err != nil {
		return "", err
	}
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}

// loadMarkdown renders a Markdown document to plain text: headings,
// paragraphs, list items and code blocks are kept, markup and raw HTML are
// dropped, and blocks are separated by blank lines so the splitter can find
// paragraph boundaries.
func loadMarkdown(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if err := checkText(data); err != nil {
		return "", err
	}
	src := bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))

	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var b strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				b.Write(node.URL(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(src))
				}
				return ast.WalkSkipChildren, nil
			}
			endBlock(&b, 2)
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			if entering {
				b.WriteString("- ")
			} else {
				endBlock(&b, 1)
			}
		case *ast.TextBlock:
			if !entering {
				endBlock(&b, 1)
			}
		case *ast.Paragraph, *ast.Heading, *ast.List, *ast.Blockquote, *ast.ThematicBreak:
			if !entering {
				endBlock(&b, 2)
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", nil
	}
	return out + "\n", nil
}

// endBlock makes sure b ends with at least newlines line breaks.
func endBlock(b *strings.Builder, newlines int) {
	s := b.String()
	if s == "" {
		return
	}
	have := len(s) - len(strings.TrimRight(s, "\n"))
	for ; have < newlines; have++ {
		b.WriteByte('\n')
	}
}
