package docs

import (
	"os"
	"strings"
)

// separatorPrefix marks a section break in flat text documents.
var separatorPrefix = strings.Repeat("=", 10)

// LoadText reads a plain-text document and splits it on separator
// lines.
func LoadText(path string) ([]Section, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return SplitSections(path, string(data)), nil
}

// SplitSections splits content on lines starting with ten or more
// "=" characters. Empty sections are dropped. The first non-blank line
// of each section becomes its title.
func SplitSections(source, content string) []Section {
	var out []Section
	var cur []string

	flush := func() {
		text := strings.TrimSpace(strings.Join(cur, "\n"))
		cur = cur[:0]
		if text == "" {
			return
		}
		title, _, _ := strings.Cut(text, "\n")
		out = append(out, Section{Source: source, Title: strings.TrimSpace(title), Text: text})
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), separatorPrefix) {
			flush()
			continue
		}
		cur = append(cur, strings.TrimRight(line, "\r"))
	}
	flush()
	return out
}
