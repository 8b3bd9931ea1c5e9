// Package search provides full-text search over stories and chapters,
// backed by a Bleve index on disk.
package search

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/rs/zerolog"

	"github.com/storyloom/storyloom/internal/logger"
	"github.com/storyloom/storyloom/internal/models"
	"github.com/storyloom/storyloom/internal/utils"
)

// DocType discriminates index documents.
type DocType string

const (
	DocTypeStory   DocType = "story"
	DocTypeChapter DocType = "chapter"
)

// Bumped whenever the mapping changes; a mismatch forces a rebuild from
// storage on startup.
const mappingVersion = "1"

// Document is the unified index entry. Chapter bodies are indexed as plain
// text with markup stripped.
type Document struct {
	ID      string  `json:"id"`
	Type    DocType `json:"type"`
	StoryID string  `json:"story_id"`
	Title   string  `json:"title"`
	Body    string  `json:"body"`
	Genre   string  `json:"genre,omitempty"`

	WordCount int   `json:"word_count,omitempty"`
	UpdatedAt int64 `json:"updated_at"`
}

// Params configures one search.
type Params struct {
	Query   string
	StoryID string // restrict to one story; empty searches everything
	Types   []DocType
	Limit   int
	Offset  int
}

// Hit is one search result.
type Hit struct {
	ID        string            `json:"id"`
	Type      DocType           `json:"type"`
	StoryID   string            `json:"story_id"`
	Title     string            `json:"title"`
	Score     float64           `json:"score"`
	Fragments map[string]string `json:"fragments,omitempty"`
}

// Result is a full search response.
type Result struct {
	Query  string `json:"query"`
	Total  uint64 `json:"total"`
	TookMs int64  `json:"took_ms"`
	Hits   []Hit  `json:"hits"`
}

// Index wraps a Bleve index with story-shaped operations. Safe for
// concurrent use.
type Index struct {
	mu    sync.RWMutex
	index bleve.Index
	path  string
	log   zerolog.Logger
}

// Open creates or opens the index under dataDir. A corrupted or outdated
// index is discarded and recreated; callers rebuild from storage after.
func Open(dataDir string) (*Index, bool, error) {
	log := logger.For("search")
	indexPath := filepath.Join(dataDir, "search.bleve")
	versionPath := filepath.Join(dataDir, "search.version")

	rebuilt := false
	needsRebuild := false
	if _, err := os.Stat(indexPath); err == nil {
		version, err := os.ReadFile(versionPath)
		if err != nil || string(version) != mappingVersion {
			log.Info().Str("path", indexPath).Msg("search index mapping outdated, recreating")
			needsRebuild = true
		}
	}

	var index bleve.Index
	var err error
	if !needsRebuild {
		index, err = bleve.Open(indexPath)
		if err != nil {
			if err != bleve.ErrorIndexPathDoesNotExist {
				log.Warn().Err(err).Str("path", indexPath).Msg("search index unreadable, recreating")
				needsRebuild = true
			}
			// On error bleve.Open returns a non-nil interface wrapping a nil
			// *indexImpl; reset so the create branch below runs.
			index = nil
		}
	}

	if needsRebuild {
		if err := os.RemoveAll(indexPath); err != nil {
			return nil, false, fmt.Errorf("remove stale search index: %w", err)
		}
		index = nil
	}

	if index == nil {
		index, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, false, fmt.Errorf("create search index: %w", err)
		}
		if err := os.WriteFile(versionPath, []byte(mappingVersion), 0o644); err != nil {
			return nil, false, fmt.Errorf("write search index version: %w", err)
		}
		rebuilt = true
	}

	return &Index{index: index, path: indexPath, log: log}, rebuilt, nil
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = en.AnalyzerName

	docMapping := bleve.NewDocumentMapping()

	titleField := bleve.NewTextFieldMapping()
	titleField.Analyzer = en.AnalyzerName
	titleField.Store = true
	titleField.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt("title", titleField)

	bodyField := bleve.NewTextFieldMapping()
	bodyField.Analyzer = en.AnalyzerName
	bodyField.Store = false
	bodyField.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt("body", bodyField)

	typeField := bleve.NewTextFieldMapping()
	typeField.Analyzer = keyword.Name
	typeField.Store = true
	docMapping.AddFieldMappingsAt("type", typeField)

	storyIDField := bleve.NewTextFieldMapping()
	storyIDField.Analyzer = keyword.Name
	storyIDField.Store = true
	docMapping.AddFieldMappingsAt("story_id", storyIDField)

	genreField := bleve.NewTextFieldMapping()
	genreField.Analyzer = keyword.Name
	genreField.Store = true
	docMapping.AddFieldMappingsAt("genre", genreField)

	wordCountField := bleve.NewNumericFieldMapping()
	wordCountField.Store = true
	docMapping.AddFieldMappingsAt("word_count", wordCountField)

	updatedAtField := bleve.NewNumericFieldMapping()
	updatedAtField.Store = true
	docMapping.AddFieldMappingsAt("updated_at", updatedAtField)

	indexMapping.AddDocumentMapping("_default", docMapping)
	return indexMapping
}

// IndexStory indexes the story document and all of its chapters, removing
// documents for chapters that no longer exist.
func (idx *Index) IndexStory(story *models.Story) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	stale, err := idx.storyDocIDs(story.ID)
	if err != nil {
		return err
	}

	batch := idx.index.NewBatch()

	storyDoc := Document{
		ID:        storyDocID(story.ID),
		Type:      DocTypeStory,
		StoryID:   story.ID,
		Title:     story.Title,
		Body:      story.Description,
		Genre:     story.Genre,
		UpdatedAt: story.UpdatedAt.Unix(),
	}
	if err := batch.Index(storyDoc.ID, storyDoc); err != nil {
		return fmt.Errorf("index story: %w", err)
	}
	delete(stale, storyDoc.ID)

	for _, chapter := range story.Chapters {
		doc := Document{
			ID:        chapterDocID(chapter.ID),
			Type:      DocTypeChapter,
			StoryID:   story.ID,
			Title:     chapter.Title,
			Body:      utils.StripMarkup(chapter.Content),
			Genre:     story.Genre,
			WordCount: chapter.WordCount,
			UpdatedAt: chapter.UpdatedAt.Unix(),
		}
		if err := batch.Index(doc.ID, doc); err != nil {
			return fmt.Errorf("index chapter: %w", err)
		}
		delete(stale, doc.ID)
	}

	for id := range stale {
		batch.Delete(id)
	}

	if err := idx.index.Batch(batch); err != nil {
		return fmt.Errorf("apply index batch: %w", err)
	}
	return nil
}

// RemoveStory deletes the story document and every chapter document.
func (idx *Index) RemoveStory(storyID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	ids, err := idx.storyDocIDs(storyID)
	if err != nil {
		return err
	}

	batch := idx.index.NewBatch()
	for id := range ids {
		batch.Delete(id)
	}
	if err := idx.index.Batch(batch); err != nil {
		return fmt.Errorf("apply delete batch: %w", err)
	}
	return nil
}

// Rebuild reindexes everything from scratch.
func (idx *Index) Rebuild(stories []*models.Story) error {
	for _, story := range stories {
		if err := idx.IndexStory(story); err != nil {
			return err
		}
	}
	idx.log.Info().Int("stories", len(stories)).Msg("search index rebuilt")
	return nil
}

// Search runs a full-text query.
func (idx *Index) Search(ctx context.Context, params Params) (*Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if params.Limit <= 0 {
		params.Limit = 20
	}

	req := bleve.NewSearchRequestOptions(buildQuery(params), params.Limit, params.Offset, false)
	req.Fields = []string{"type", "story_id", "title"}
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField("title")
	req.Highlight.AddField("body")

	res, err := idx.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	result := &Result{
		Query:  params.Query,
		Total:  res.Total,
		TookMs: res.Took.Milliseconds(),
		Hits:   make([]Hit, 0, len(res.Hits)),
	}

	for _, hit := range res.Hits {
		h := Hit{ID: trimDocID(hit.ID), Score: hit.Score}
		if t, ok := hit.Fields["type"].(string); ok {
			h.Type = DocType(t)
		}
		if sid, ok := hit.Fields["story_id"].(string); ok {
			h.StoryID = sid
		}
		if title, ok := hit.Fields["title"].(string); ok {
			h.Title = title
		}
		if len(hit.Fragments) > 0 {
			h.Fragments = make(map[string]string, len(hit.Fragments))
			for field, fragments := range hit.Fragments {
				if len(fragments) > 0 {
					h.Fragments[field] = fragments[0]
				}
			}
		}
		result.Hits = append(result.Hits, h)
	}
	return result, nil
}

// DocCount returns the number of indexed documents.
func (idx *Index) DocCount() (uint64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.index.DocCount()
}

// Close releases the underlying index.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.index.Close()
}

// ---- internals ----

func buildQuery(params Params) query.Query {
	var clauses []query.Query

	if params.Query != "" {
		text := []query.Query{}

		titleMatch := bleve.NewMatchQuery(params.Query)
		titleMatch.SetField("title")
		titleMatch.SetBoost(3.0)
		text = append(text, titleMatch)

		bodyMatch := bleve.NewMatchQuery(params.Query)
		bodyMatch.SetField("body")
		text = append(text, bodyMatch)

		fuzzy := bleve.NewFuzzyQuery(params.Query)
		fuzzy.SetField("title")
		fuzzy.SetFuzziness(1)
		fuzzy.SetBoost(0.8)
		text = append(text, fuzzy)

		if len(params.Query) >= 2 {
			prefix := bleve.NewPrefixQuery(strings.ToLower(params.Query))
			prefix.SetField("title")
			prefix.SetBoost(0.5)
			text = append(text, prefix)
		}

		clauses = append(clauses, bleve.NewDisjunctionQuery(text...))
	}

	if params.StoryID != "" {
		tq := bleve.NewTermQuery(params.StoryID)
		tq.SetField("story_id")
		clauses = append(clauses, tq)
	}

	if len(params.Types) > 0 {
		typeQueries := make([]query.Query, len(params.Types))
		for i, t := range params.Types {
			tq := bleve.NewTermQuery(string(t))
			tq.SetField("type")
			typeQueries[i] = tq
		}
		clauses = append(clauses, bleve.NewDisjunctionQuery(typeQueries...))
	}

	if len(clauses) == 0 {
		return bleve.NewMatchAllQuery()
	}
	return bleve.NewConjunctionQuery(clauses...)
}

// storyDocIDs returns every document id belonging to the story. Caller
// holds the lock.
func (idx *Index) storyDocIDs(storyID string) (map[string]struct{}, error) {
	tq := bleve.NewTermQuery(storyID)
	tq.SetField("story_id")

	req := bleve.NewSearchRequestOptions(tq, 10000, 0, false)
	res, err := idx.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("list story documents: %w", err)
	}

	ids := make(map[string]struct{}, len(res.Hits))
	for _, hit := range res.Hits {
		ids[hit.ID] = struct{}{}
	}
	return ids, nil
}

func storyDocID(storyID string) string { return "story:" + storyID }

func chapterDocID(chapterID string) string { return "chapter:" + chapterID }

func trimDocID(id string) string {
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return id[i+1:]
	}
	return id
}
