package search

import (
	"fmt"
	"time"

	"github.com/roadmaptools/roadmap-search/internal/query"
	"github.com/roadmaptools/roadmap-search/internal/roadmap"
	"github.com/roadmaptools/roadmap-search/internal/storage"
)

// Engine answers validated queries from the local mirror: ranked candidates
// come from the Bleve index, full records are hydrated from SQLite.
type Engine struct {
	index *Index
	db    *storage.DB
}

// NewEngine creates a search engine over the given index and store.
func NewEngine(index *Index, db *storage.DB) *Engine {
	return &Engine{index: index, db: db}
}

// Result is one ranked search hit. Score is nil for filter-only queries:
// without a keyword signal there is no relevance to report, and "no score"
// must stay distinct from "zero score".
type Result struct {
	Update *roadmap.Update `json:"update"`
	Score  *float64        `json:"score,omitempty"`
}

// Metadata describes the page that was returned.
type Metadata struct {
	TotalResults    int   `json:"totalResults"`
	ReturnedResults int   `json:"returnedResults"`
	Limit           int   `json:"limit"`
	Offset          int   `json:"offset"`
	HasMore         bool  `json:"hasMore"`
	QueryTimeMs     int64 `json:"queryTimeMs"`
}

// Search executes a validated query and returns one complete page plus
// metadata. Empty result sets are not errors; failures of the index or the
// store surface wrapped in ErrIndexUnavailable.
func (e *Engine) Search(q *query.SearchQuery) ([]Result, *Metadata, error) {
	start := time.Now()

	hits, total, err := e.index.Search(q)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}

	updates, err := e.db.GetByIDs(ids)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: hydrate results: %v", ErrIndexUnavailable, err)
	}

	scored := q.Text != ""
	byID := make(map[string]float64, len(hits))
	for _, h := range hits {
		byID[h.ID] = h.Score
	}

	results := make([]Result, 0, len(updates))
	for _, u := range updates {
		r := Result{Update: u}
		if scored {
			score := byID[u.ID]
			r.Score = &score
		}
		results = append(results, r)
	}

	md := &Metadata{
		TotalResults:    int(total),
		ReturnedResults: len(results),
		Limit:           q.Limit,
		Offset:          q.Offset,
		HasMore:         q.Offset+len(results) < int(total),
		QueryTimeMs:     time.Since(start).Milliseconds(),
	}
	return results, md, nil
}
