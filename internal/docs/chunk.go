package docs

import (
	"strings"
	"unicode/utf8"
)

// Chunk is an indexed slice of a section.
type Chunk struct {
	Source  string
	Title   string
	Ordinal int // position of the chunk within its source file
	Text    string
}

// Chunker splits text into overlapping chunks of at most Size runes,
// preferring paragraph, then line, then word boundaries.
type Chunker struct {
	Size    int
	Overlap int
}

var separators = []string{"\n\n", "\n", " ", ""}

// ChunkSections chunks every section. Ordinals count per source so a
// re-run over the same files produces the same chunk identities.
func (c Chunker) ChunkSections(sections []Section) []Chunk {
	ordinals := make(map[string]int)
	var out []Chunk
	for _, s := range sections {
		for _, text := range c.Split(s.Text) {
			out = append(out, Chunk{
				Source:  s.Source,
				Title:   s.Title,
				Ordinal: ordinals[s.Source],
				Text:    text,
			})
			ordinals[s.Source]++
		}
	}
	return out
}

// Split returns the chunks of text.
func (c Chunker) Split(text string) []string {
	if c.Size <= 0 {
		c.Size = 600
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		c.Overlap = 0
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return c.split(text, separators)
}

func (c Chunker) split(text string, seps []string) []string {
	sep, rest := seps[len(seps)-1], []string(nil)
	for i, s := range seps {
		if s == "" || strings.Contains(text, s) {
			sep, rest = s, seps[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = hardSplit(text, c.Size)
	} else {
		pieces = strings.Split(text, sep)
	}

	var out, small []string
	for _, p := range pieces {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if utf8.RuneCountInString(p) <= c.Size {
			small = append(small, p)
			continue
		}
		out = append(out, c.merge(small, sep)...)
		small = nil
		if len(rest) > 0 {
			out = append(out, c.split(p, rest)...)
		} else {
			out = append(out, hardSplit(p, c.Size)...)
		}
	}
	return append(out, c.merge(small, sep)...)
}

// merge packs pieces into chunks no longer than Size, carrying up to
// Overlap runes of trailing pieces into the next chunk.
func (c Chunker) merge(pieces []string, sep string) []string {
	sepLen := utf8.RuneCountInString(sep)
	var out, cur []string
	total := 0

	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		join := 0
		if len(cur) > 0 {
			join = sepLen
		}
		if total+n+join > c.Size && len(cur) > 0 {
			out = append(out, strings.TrimSpace(strings.Join(cur, sep)))
			for len(cur) > 0 && (total > c.Overlap || total+n+sepLen > c.Size) {
				total -= utf8.RuneCountInString(cur[0])
				if len(cur) > 1 {
					total -= sepLen
				}
				cur = cur[1:]
			}
			join = 0
			if len(cur) > 0 {
				join = sepLen
			}
		}
		cur = append(cur, p)
		total += n + join
	}
	if len(cur) > 0 {
		out = append(out, strings.TrimSpace(strings.Join(cur, sep)))
	}
	return out
}

func hardSplit(s string, size int) []string {
	r := []rune(s)
	var out []string
	for len(r) > size {
		out = append(out, string(r[:size]))
		r = r[size:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}
