package docs

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// LoadPDF extracts plain text from a PDF, one section per page.
// Pages that fail to decode are skipped.
func LoadPDF(path string) ([]Section, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var out []Section
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		txt, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		txt = strings.TrimSpace(txt)
		if txt == "" {
			continue
		}
		out = append(out, Section{
			Source: path,
			Title:  fmt.Sprintf("page %d", i),
			Text:   txt,
		})
	}
	return out, nil
}
