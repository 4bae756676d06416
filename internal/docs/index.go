package docs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

const collectionName = "docs"

// chunkNamespace scopes the name-based UUIDs of indexed chunks.
var chunkNamespace = uuid.MustParse("6f1c1a52-3c0e-4c8e-9a57-0d5f4c1e2b7a")

// Retriever returns the chunks most similar to query, best first.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]string, error)
}

// VectorIndex is a chromem-backed Retriever. With a persist directory
// the index survives restarts; without one it lives in memory.
type VectorIndex struct {
	coll   *chromem.Collection
	logger *slog.Logger
}

// NewVectorIndex opens (or creates) the documentation collection.
func NewVectorIndex(persistDir string, embed chromem.EmbeddingFunc, logger *slog.Logger) (*VectorIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var db *chromem.DB
	if persistDir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(persistDir, true)
		if err != nil {
			return nil, fmt.Errorf("open vector db %s: %w", persistDir, err)
		}
	}

	coll, err := db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("open collection: %w", err)
	}
	return &VectorIndex{coll: coll, logger: logger.With("component", "docs")}, nil
}

// ChunkID is the stable identity of a chunk: re-indexing the same file
// overwrites its chunks instead of duplicating them.
func ChunkID(c Chunk) string {
	return uuid.NewSHA1(chunkNamespace, []byte(c.Source+"#"+strconv.Itoa(c.Ordinal))).String()
}

// Add embeds and stores chunks.
func (v *VectorIndex) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, chromem.Document{
			ID:      ChunkID(c),
			Content: c.Text,
			Metadata: map[string]string{
				"source":  c.Source,
				"title":   c.Title,
				"ordinal": strconv.Itoa(c.Ordinal),
			},
		})
	}
	if err := v.coll.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("index %d chunks: %w", len(chunks), err)
	}
	v.logger.Info("indexed documentation", "chunks", len(chunks), "total", v.coll.Count())
	return nil
}

// Count returns the number of indexed chunks.
func (v *VectorIndex) Count() int {
	return v.coll.Count()
}

// Search returns up to k chunk texts ordered by similarity.
func (v *VectorIndex) Search(ctx context.Context, query string, k int) ([]string, error) {
	n := min(k, v.coll.Count())
	if n <= 0 {
		return nil, nil
	}
	results, err := v.coll.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Content)
	}
	return out, nil
}
