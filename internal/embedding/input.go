package embedding

import (
	"bytes"
	"mime"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Source is what the ingestion pipeline knows about an upload when it builds
// the embedding input. Head holds at most the first MaxInputBytes of the file.
type Source struct {
	Title       string
	ContentType string
	Head        []byte
}

// BuildInput renders the text sent to the embedding service. The layout is
// identical for every document so vectors stay comparable:
//
//	title: <title>
//	content-type: <media type>
//
//	<body>
//
// Body is plain text for markdown, the raw text for other textual formats,
// and empty for binary content.
func BuildInput(src Source) string {
	mediaType := normalizeMediaType(src.ContentType)

	var b strings.Builder
	b.WriteString("title: ")
	b.WriteString(src.Title)
	b.WriteString("\ncontent-type: ")
	b.WriteString(mediaType)

	if body := strings.TrimSpace(bodyText(src.Title, mediaType, src.Head)); body != "" {
		b.WriteString("\n\n")
		b.WriteString(body)
	}
	return b.String()
}

func normalizeMediaType(ct string) string {
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	if ct = strings.TrimSpace(strings.ToLower(ct)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func bodyText(title, mediaType string, head []byte) string {
	head = trimPartialRune(head)
	switch {
	case isMarkdown(title, mediaType):
		return markdownText(head)
	case isTextual(mediaType, head):
		return string(head)
	default:
		return ""
	}
}

func isMarkdown(title, mediaType string) bool {
	if mediaType == "text/markdown" || mediaType == "text/x-markdown" {
		return true
	}
	ext := strings.ToLower(path.Ext(title))
	return ext == ".md" || ext == ".markdown"
}

func isTextual(mediaType string, head []byte) bool {
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	switch mediaType {
	case "application/json", "application/xml", "application/yaml", "application/x-yaml", "application/csv":
		return true
	}
	if strings.HasSuffix(mediaType, "+json") || strings.HasSuffix(mediaType, "+xml") {
		return true
	}
	if mediaType != "application/octet-stream" {
		return false
	}
	// Uploaders often send octet-stream for plain text; sniff instead.
	return len(head) > 0 && utf8.Valid(head) && bytes.IndexByte(head, 0) < 0
}

// trimPartialRune drops a multi-byte rune cut in half by the capture limit.
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		r, size := utf8.DecodeLastRune(b)
		if r != utf8.RuneError || size > 1 {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}

var md = goldmark.New()

// markdownText flattens markdown to its readable text: headings, paragraphs,
// list items and code, without markup.
func markdownText(src []byte) string {
	doc := md.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}
