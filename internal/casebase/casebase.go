// Package casebase provides local case-similarity search over a curated
// corpus of anonymized reference cases. It backs the case-evidence branch of
// a diagnostic run with an in-memory full-text index.
package casebase

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/aura-dx/aura/internal/diagnosis"
)

// Case is one reference case in the corpus.
type Case struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Summary  string   `json:"summary"`
	Symptoms []string `json:"symptoms"`
	Age      int      `json:"age"`
	Outcome  string   `json:"outcome,omitempty"`
}

// Index is a mem-only bleve index over the case corpus.
type Index struct {
	mu    sync.RWMutex
	bleve bleve.Index
	cases map[string]Case
}

// NewIndex builds an empty in-memory index.
func NewIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create case index: %w", err)
	}
	return &Index{bleve: idx, cases: make(map[string]Case)}, nil
}

// Load reads a JSON case file and indexes every case.
func Load(path string) (*Index, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cases []Case
	if err := json.Unmarshal(raw, &cases); err != nil {
		return nil, fmt.Errorf("failed to parse case file %s: %w", path, err)
	}
	idx, err := NewIndex()
	if err != nil {
		return nil, err
	}
	for _, c := range cases {
		if err := idx.Add(c); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// Add indexes one case.
func (i *Index) Add(c Case) error {
	if c.ID == "" {
		return fmt.Errorf("case id is required")
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	doc := map[string]any{
		"title":    c.Title,
		"summary":  c.Summary,
		"symptoms": strings.Join(c.Symptoms, " "),
	}
	if err := i.bleve.Index(c.ID, doc); err != nil {
		return err
	}
	i.cases[c.ID] = c
	return nil
}

// Count returns the number of indexed cases.
func (i *Index) Count() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.cases)
}

// Search implements diagnosis.EvidenceSearcher. Scores are normalized
// against the top hit into (0, 1].
func (i *Index) Search(ctx context.Context, query string, maxResults int) ([]diagnosis.Evidence, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, maxResults, 0, false)
	i.mu.RLock()
	res, err := i.bleve.SearchInContext(ctx, req)
	i.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("case search: %w", err)
	}

	evidence := make([]diagnosis.Evidence, 0, len(res.Hits))
	var topScore float64
	if len(res.Hits) > 0 {
		topScore = res.Hits[0].Score
	}
	for _, hit := range res.Hits {
		i.mu.RLock()
		c, ok := i.cases[hit.ID]
		i.mu.RUnlock()
		if !ok {
			continue
		}
		confidence := 0.5
		if topScore > 0 {
			confidence = hit.Score / topScore
		}
		evidence = append(evidence, diagnosis.Evidence{
			SourceID:   "CaseDB:" + c.ID,
			Snippet:    fmt.Sprintf("Case: %s\nSummary: %s", c.Title, c.Summary),
			Confidence: confidence,
		})
	}
	return evidence, nil
}
