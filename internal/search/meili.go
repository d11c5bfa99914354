package search

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const idxPages = "helppages_pages"

// Meili searches and indexes pages via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the pages index. The
// client is returned even when the first health check fails; a background
// loop flips it healthy once Meilisearch answers.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		logger.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxPages,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", zap.String("index", idxPages), zap.Error(err))
	}

	index := m.client.Index(idxPages)
	filterable := []interface{}{"docId", "status"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", zap.String("index", idxPages), zap.Error(err))
	}
	searchable := []string{"title", "publishedTitle", "content", "publishedContent"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", zap.String("index", idxPages), zap.Error(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search runs q against the pages index.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	if !q.scoped() {
		return nil, 0, nil
	}

	titleField, contentField := "title", "content"
	if q.PublishedOnly {
		titleField, contentField = "publishedTitle", "publishedContent"
	}

	sr := &meili.SearchRequest{
		IndexUID:              idxPages,
		Query:                 q.Text,
		Limit:                 int64(normalizeLimit(q.Limit)),
		Offset:                int64(max(q.Offset, 0)),
		AttributesToSearchOn:  []string{titleField, contentField},
		AttributesToHighlight: []string{contentField},
		AttributesToCrop:      []string{contentField},
		CropLength:            30,
		HighlightPreTag:       markOpen,
		HighlightPostTag:      markClose,
	}
	if filters := meiliFilters(q); len(filters) > 0 {
		sr.Filter = filters
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, res := range resp.Results {
		total += int(res.EstimatedTotalHits)
		for _, hit := range res.Hits {
			results = append(results, hitToResult(hit, titleField, contentField))
		}
	}
	return results, total, nil
}

// meiliFilters builds AND-ed filter expressions; the doc list is one OR group.
func meiliFilters(q Query) []string {
	var filters []string
	if !q.AllDocs {
		quoted := make([]string, len(q.DocIDs))
		for i, id := range q.DocIDs {
			quoted[i] = fmt.Sprintf("%q", id)
		}
		filters = append(filters, "docId IN ["+strings.Join(quoted, ", ")+"]")
	}
	if q.PublishedOnly {
		filters = append(filters, `status = "published"`)
	}
	return filters
}

func hitToResult(hit meili.Hit, titleField, contentField string) Result {
	return Result{
		PageID:  decodeString(hit, "id"),
		DocID:   decodeString(hit, "docId"),
		DocSlug: decodeString(hit, "docSlug"),
		Slug:    decodeString(hit, "slug"),
		Status:  decodeString(hit, "status"),
		Title:   decodeString(hit, titleField),
		Snippet: markSnippet(firstNonBlank(decodeFormattedString(hit, contentField), decodeString(hit, contentField))),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexPages adds or replaces pages in the index.
func (m *Meili) IndexPages(pages []PageRecord) error {
	if len(pages) == 0 {
		return nil
	}
	_, err := m.client.Index(idxPages).AddDocuments(pages, nil)
	return err
}

// DeletePage removes a page from the index.
func (m *Meili) DeletePage(id string) error {
	_, err := m.client.Index(idxPages).DeleteDocument(id, nil)
	return err
}
