package docs

import (
	"bytes"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// LoadMarkdown reads a Markdown document and splits it into one
// section per top-level heading.
func LoadMarkdown(path string) ([]Section, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return MarkdownSections(path, src), nil
}

// MarkdownSections splits src at each heading that is a direct child
// of the document. Text before the first heading forms an untitled
// section. Section text keeps the original Markdown source.
func MarkdownSections(source string, src []byte) []Section {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	type mark struct {
		start int
		title string
	}
	var marks []mark
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		var title bytes.Buffer
		for i := 0; i < h.Lines().Len(); i++ {
			seg := h.Lines().At(i)
			title.Write(seg.Value(src))
		}
		marks = append(marks, mark{
			start: lineStart(src, h.Lines().At(0).Start),
			title: strings.TrimSpace(title.String()),
		})
	}

	var out []Section
	add := func(title string, body []byte) {
		t := strings.TrimSpace(string(body))
		if t == "" {
			return
		}
		out = append(out, Section{Source: source, Title: title, Text: t})
	}

	if len(marks) == 0 {
		add("", src)
		return out
	}
	add("", src[:marks[0].start])
	for i, m := range marks {
		end := len(src)
		if i+1 < len(marks) {
			end = marks[i+1].start
		}
		add(m.title, src[m.start:end])
	}
	return out
}

// lineStart returns the offset of the start of the line containing pos.
func lineStart(src []byte, pos int) int {
	if i := bytes.LastIndexByte(src[:pos], '\n'); i >= 0 {
		return i + 1
	}
	return 0
}
