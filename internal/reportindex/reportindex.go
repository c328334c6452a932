// Package reportindex keeps an in-memory full-text index over archived
// reports so they can be searched without a round trip to Postgres.
package reportindex

import (
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve"

	"github.com/samjosdev/deepresearch/internal/store"
)

// Hit is one search result over the archived reports.
type Hit struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Summary   string    `json:"summary"`
	Snippet   string    `json:"snippet"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

type doc struct {
	Topic   string `json:"topic"`
	Summary string `json:"summary"`
	Body    string `json:"body"`
}

type Index struct {
	mu    sync.RWMutex
	bleve bleve.Index
	meta  map[string]store.ReportRecord
}

func New() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{bleve: idx, meta: make(map[string]store.ReportRecord)}, nil
}

// Add indexes one archived report. Re-adding an id replaces the document.
func (x *Index) Add(rec store.ReportRecord) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.meta[rec.ID] = rec
	return x.bleve.Index(rec.ID, doc{
		Topic:   rec.Topic,
		Summary: rec.Summary,
		Body:    rec.MarkdownReport,
	})
}

// Search runs a query-string search over topic, summary and report body.
func (x *Index) Search(q string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, k, 0, false)

	x.mu.RLock()
	defer x.mu.RUnlock()
	res, err := x.bleve.Search(searchReq)
	if err != nil {
		return nil, err
	}
	var out []Hit
	for _, hit := range res.Hits {
		rec, ok := x.meta[hit.ID]
		if !ok {
			continue
		}
		out = append(out, Hit{
			ID:        rec.ID,
			Topic:     rec.Topic,
			Summary:   rec.Summary,
			Snippet:   snippet(rec.MarkdownReport),
			Score:     hit.Score,
			CreatedAt: rec.CreatedAt,
		})
	}
	return out, nil
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if runes := []rune(text); len(runes) > 240 {
		return string(runes[:240]) + "…"
	}
	return text
}
