package search

import (
	"errors"
	"fmt"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	bquery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/roadmaptools/roadmap-search/internal/query"
	"github.com/roadmaptools/roadmap-search/internal/roadmap"
)

// ErrIndexUnavailable marks failures of the underlying index, so callers can
// tell "no results" from "engine broken".
var ErrIndexUnavailable = errors.New("search index unavailable")

// Index wraps a Bleve search index over roadmap updates.
type Index struct {
	index bleve.Index
}

// Open opens or creates a Bleve index at path.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	return &Index{index: idx}, nil
}

// OpenInMemory creates a non-persistent index. Used by tests and ad-hoc
// reindexing.
func OpenInMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &Index{index: idx}, nil
}

// buildIndexMapping maps the searchable text fields (which feed the _all
// composite that free-text queries rank over) plus exact keyword and datetime
// companions used only for filtering and sorting.
func buildIndexMapping() mapping.IndexMapping {
	textField := bleve.NewTextFieldMapping()

	exactField := bleve.NewTextFieldMapping()
	exactField.Analyzer = keyword.Name
	exactField.IncludeInAll = false

	dateField := bleve.NewDateTimeFieldMapping()
	dateField.IncludeInAll = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("title", textField)
	docMapping.AddFieldMappingsAt("description", textField)
	docMapping.AddFieldMappingsAt("tags", textField)
	docMapping.AddFieldMappingsAt("products", textField)
	docMapping.AddFieldMappingsAt("productCategories", textField)
	docMapping.AddFieldMappingsAt("tagsExact", exactField)
	docMapping.AddFieldMappingsAt("productsExact", exactField)
	docMapping.AddFieldMappingsAt("productCategoriesExact", exactField)
	docMapping.AddFieldMappingsAt("statusExact", exactField)
	docMapping.AddFieldMappingsAt("ringsExact", exactField)
	docMapping.AddFieldMappingsAt("created", dateField)
	docMapping.AddFieldMappingsAt("modified", dateField)
	docMapping.AddFieldMappingsAt("retirementDate", dateField)

	indexMapping := bleve.NewIndexMapping()
	// English analyzer for stemming; setting it as the default keeps
	// query-side analysis of _all consistent with the indexed fields.
	indexMapping.DefaultAnalyzer = "en"
	indexMapping.AddDocumentMapping("_default", docMapping)

	return indexMapping
}

// Close closes the index.
func (i *Index) Close() error {
	return i.index.Close()
}

// indexDoc flattens an update into the indexed representation. Absent fields
// are omitted so range queries never match a missing date.
func indexDoc(u *roadmap.Update) map[string]any {
	doc := map[string]any{
		"title":                  u.Title,
		"description":            u.DescriptionText,
		"tags":                   u.Tags,
		"products":               u.Products,
		"productCategories":      u.ProductCategories,
		"tagsExact":              u.Tags,
		"productsExact":          u.Products,
		"productCategoriesExact": u.ProductCategories,
		"created":                u.Created,
		"modified":               u.Modified,
	}

	if u.Status != nil {
		doc["statusExact"] = *u.Status
	}

	rings := make([]string, 0, len(u.Rings))
	for _, r := range u.Rings {
		rings = append(rings, r.Ring)
	}
	doc["ringsExact"] = rings

	if rd := u.RetirementDate(); rd != nil {
		doc["retirementDate"] = *rd
	}

	return doc
}

// IndexUpdate adds or replaces a single update in the index.
func (i *Index) IndexUpdate(u *roadmap.Update) error {
	return i.index.Index(u.ID, indexDoc(u))
}

// IndexBatch adds or replaces a batch of updates atomically.
func (i *Index) IndexBatch(updates []*roadmap.Update) error {
	batch := i.index.NewBatch()
	for _, u := range updates {
		if err := batch.Index(u.ID, indexDoc(u)); err != nil {
			return fmt.Errorf("batch index %s: %w", u.ID, err)
		}
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Delete removes an update from the index.
func (i *Index) Delete(id string) error {
	return i.index.Delete(id)
}

// Count returns the number of indexed updates.
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}

// Hit is one ranked index match.
type Hit struct {
	ID    string
	Score float64
}

// Search runs a validated query against the index and returns the requested
// page of hits plus the pre-pagination total. Ordering and pagination happen
// inside the index request.
func (i *Index) Search(q *query.SearchQuery) ([]Hit, uint64, error) {
	req := bleve.NewSearchRequestOptions(buildQuery(q), q.Limit, q.Offset, false)
	req.SortBy(sortOrder(q))

	res, err := i.index.Search(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score})
	}
	return hits, res.Total, nil
}

// buildQuery combines the free-text candidate query with every structured
// filter as one conjunction.
func buildQuery(q *query.SearchQuery) bquery.Query {
	var conjuncts []bquery.Query

	if q.Text != "" {
		conjuncts = append(conjuncts, bleve.NewMatchQuery(q.Text))
	}

	f := q.Filters
	if f.Status != "" {
		conjuncts = append(conjuncts, termQuery("statusExact", f.Status))
	}
	if f.AvailabilityRing != "" {
		conjuncts = append(conjuncts, termQuery("ringsExact", f.AvailabilityRing))
	}

	// Superset semantics: one term query per required value.
	for _, tag := range f.Tags {
		conjuncts = append(conjuncts, termQuery("tagsExact", tag))
	}
	for _, p := range f.Products {
		conjuncts = append(conjuncts, termQuery("productsExact", p))
	}
	for _, c := range f.ProductCategories {
		conjuncts = append(conjuncts, termQuery("productCategoriesExact", c))
	}

	if f.DateFrom != nil || f.DateTo != nil {
		conjuncts = append(conjuncts, dateRangeQuery("modified", f.DateFrom, f.DateTo))
	}
	if f.RetirementFrom != nil || f.RetirementTo != nil {
		conjuncts = append(conjuncts, dateRangeQuery("retirementDate", f.RetirementFrom, f.RetirementTo))
	}

	if len(conjuncts) == 0 {
		return bleve.NewMatchAllQuery()
	}
	if len(conjuncts) == 1 {
		return conjuncts[0]
	}
	return bleve.NewConjunctionQuery(conjuncts...)
}

func termQuery(field, term string) bquery.Query {
	tq := bleve.NewTermQuery(term)
	tq.SetField(field)
	return tq
}

func dateRangeQuery(field string, from, to *time.Time) bquery.Query {
	inclusive := true
	var start, end time.Time
	if from != nil {
		start = *from
	}
	if to != nil {
		end = *to
	}
	drq := bleve.NewDateRangeInclusiveQuery(start, end, &inclusive, &inclusive)
	drq.SetField(field)
	return drq
}

// sortKeyFields maps the sortBy enumeration onto Bleve sort expressions.
var sortKeyFields = map[string]string{
	"modified:desc":       "-modified",
	"modified:asc":        "modified",
	"created:desc":        "-created",
	"created:asc":         "created",
	"retirementDate:asc":  "retirementDate",
	"retirementDate:desc": "-retirementDate",
}

// sortOrder decides result ordering: an explicit sort key wins (relevance
// breaking ties when scores exist), otherwise relevance for text queries,
// otherwise newest-modified first. The record id is the final tie-break so
// pagination stays deterministic.
func sortOrder(q *query.SearchQuery) []string {
	if q.SortBy != "" {
		field := sortKeyFields[q.SortBy]
		if q.Text != "" {
			return []string{field, "-_score", "_id"}
		}
		return []string{field, "_id"}
	}
	if q.Text != "" {
		return []string{"-_score", "_id"}
	}
	return []string{"-modified", "_id"}
}
