// Package knowledge provides semantic search over the dBank knowledge base:
// product guides, support documents and reference material embedded into
// vector_store.documents.
package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// Document is one knowledge-base chunk with its search similarity.
type Document struct {
	DocID      string         `json:"doc_id"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	ChunkIndex int            `json:"chunk_index"`
	Similarity float64        `json:"similarity"`
	Category   string         `json:"category"`
	Filename   string         `json:"filename"`
	IsCritical bool           `json:"is_critical"`
	Metadata   map[string]any `json:"-"`
}

// Store reads the pgvector-backed document table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Query bundles the raw vector-search knobs. The fallback ladder lives in
// Searcher; the store runs exactly what it is given.
type Query struct {
	Embedding     []float32
	TopK          int
	Category      string
	MinSimilarity float64
}

// Search returns the chunks nearest to the query embedding, ordered by
// cosine similarity descending.
func (s *Store) Search(ctx context.Context, q Query) ([]Document, error) {
	if len(q.Embedding) == 0 {
		return nil, errors.New("embedding is required")
	}
	if q.TopK <= 0 {
		q.TopK = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id,
			document_name,
			chunk_index,
			content,
			metadata,
			1 - (embedding <=> $1) AS similarity
		FROM vector_store.documents
		WHERE ($2 = '' OR metadata->>'category' = $2)
		  AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1
		LIMIT $4
	`, pgvector.NewVector(q.Embedding), q.Category, q.MinSimilarity, q.TopK)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var metadataBytes []byte
		if err := rows.Scan(&doc.DocID, &doc.Title, &doc.ChunkIndex, &doc.Content, &metadataBytes, &doc.Similarity); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if len(metadataBytes) > 0 {
			if err := json.Unmarshal(metadataBytes, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("decode document metadata: %w", err)
			}
		}
		doc.Category = metadataString(doc.Metadata, "category")
		doc.Filename = metadataString(doc.Metadata, "filename")
		if critical, ok := doc.Metadata["is_critical"].(bool); ok {
			doc.IsCritical = critical
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// Stats summarizes the store contents for health and admin endpoints.
type Stats struct {
	TotalDocuments int            `json:"total_documents"`
	TotalChunks    int            `json:"total_chunks"`
	Categories     map[string]int `json:"categories"`
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Categories: make(map[string]int)}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT document_name)
		FROM vector_store.documents`)
	if err := row.Scan(&stats.TotalChunks, &stats.TotalDocuments); err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(metadata->>'category', 'unknown'), COUNT(*)
		FROM vector_store.documents
		GROUP BY metadata->>'category'`)
	if err != nil {
		return nil, fmt.Errorf("count categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		stats.Categories[category] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category counts: %w", err)
	}
	return stats, nil
}

func metadataString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}
