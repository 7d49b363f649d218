// Package store provides the persistence layer (SQLite) and the local
// retrieval backends: a bleve full-text index and an HNSW vector index.
package store

import (
	"context"
	"time"
)

// Collection is a named group of documents searched as a unit.
type Collection struct {
	ID            string    `json:"id" yaml:"id"`
	Name          string    `json:"name" yaml:"name"`
	Description   string    `json:"description,omitempty" yaml:"description,omitempty"`
	DocumentCount int       `json:"document_count" yaml:"-"`
	CreatedAt     time.Time `json:"created_at" yaml:"-"`
}

// Document is a searchable unit. Metadata is passed through untouched.
type Document struct {
	ID         string            `json:"id" yaml:"id"`
	Collection string            `json:"collection,omitempty" yaml:"collection,omitempty"`
	Title      string            `json:"title" yaml:"title"`
	Content    string            `json:"content" yaml:"content"`
	Metadata   map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at" yaml:"-"`
}

// Text returns the text embedded and indexed for d.
func (d *Document) Text() string {
	if d.Title == "" {
		return d.Content
	}
	return d.Title + "\n" + d.Content
}

// Hit is one backend match: a document id and its native score.
// Hits are returned best first.
type Hit struct {
	DocID string
	Score float64
}

// ResultProvenance records which collection and strategy produced an
// emitted result, so later feedback can be attributed.
type ResultProvenance struct {
	ResultID   string
	Collection string
	DocumentID string
	Strategy   string
	CreatedAt  time.Time
}

// FeedbackRecord is a persisted feedback event.
type FeedbackRecord struct {
	ID         string   `json:"id"`
	ResultID   string   `json:"result_id"`
	Collection string   `json:"collection"`
	DocumentID string   `json:"document_id"`
	Strategy   string   `json:"strategy"`
	Kind       string   `json:"kind"`
	Rating     *float64 `json:"rating,omitempty"`
	Comment    string   `json:"comment,omitempty"`
	UserID     string   `json:"user_id,omitempty"`
	// Polarity is +1 positive, -1 negative, 0 neutral.
	Polarity  int       `json:"polarity"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedbackSummary aggregates feedback for one result.
type FeedbackSummary struct {
	ResultID     string  `json:"result_id"`
	Total        int     `json:"total"`
	Positive     int     `json:"positive"`
	Negative     int     `json:"negative"`
	PositiveRate float64 `json:"positive_rate"`
	AvgRating    float64 `json:"avg_rating"`
	Rated        int     `json:"rated"`
}

// FeedbackCount is the persisted polarity tally per collection and strategy.
type FeedbackCount struct {
	Collection string `json:"collection"`
	Strategy   string `json:"strategy"`
	Positive   int64  `json:"positive"`
	Negative   int64  `json:"negative"`
}

// FeedbackFilter narrows feedback tallies. Empty fields match everything.
type FeedbackFilter struct {
	Collection string
	UserID     string
}

// DocumentStore loads documents by id for result hydration.
type DocumentStore interface {
	GetDocuments(ctx context.Context, collection string, ids []string) (map[string]*Document, error)
}

// CollectionCatalog answers whether a collection exists.
type CollectionCatalog interface {
	HasCollection(ctx context.Context, id string) (bool, error)
}
