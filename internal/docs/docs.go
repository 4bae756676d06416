// Package docs implements the documentation lookup behind the
// rag_search tool: loaders for text, Markdown and PDF files, a chunker,
// a persistent vector index and a keyword fallback over the flat
// documents.
package docs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Section is a titled piece of a source document.
type Section struct {
	Source string
	Title  string
	Text   string
}

// Loader reads one file into sections.
type Loader func(path string) ([]Section, error)

var loaders = map[string]Loader{
	".txt": LoadText,
	".md":  LoadMarkdown,
	".pdf": LoadPDF,
}

// Supported reports whether path has a loader.
func Supported(path string) bool {
	_, ok := loaders[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Load reads path, which may be a single file or a directory searched
// recursively for supported files. Files are read in lexical order.
// A missing path returns an error satisfying errors.Is(err, fs.ErrNotExist).
func Load(path string) ([]Section, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return loadFile(path)
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && Supported(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", path, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no documents under %s: %w", path, fs.ErrNotExist)
	}
	sort.Strings(files)

	var out []Section
	for _, f := range files {
		sections, err := loadFile(f)
		if err != nil {
			return nil, err
		}
		out = append(out, sections...)
	}
	return out, nil
}

func loadFile(path string) ([]Section, error) {
	load, ok := loaders[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("unsupported document type: %s", path)
	}
	sections, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return sections, nil
}
