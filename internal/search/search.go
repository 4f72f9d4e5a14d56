package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Result is a single search hit returned to the caller.
type Result struct {
	RecordID   int64  `json:"recordId"`
	ProjectID  int64  `json:"projectId"`
	RecordType string `json:"recordType"`
	Family     string `json:"family"`
	Status     string `json:"status"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
}

// Query describes a search request. ProjectID is always set: results never
// cross project boundaries.
type Query struct {
	Text      string
	ProjectID int64
	Status    string
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// RecordDocument is the data we index for a record. Body is the payload
// flattened to text.
type RecordDocument struct {
	ID         string `json:"id"`
	RecordID   int64  `json:"recordId"`
	ProjectID  int64  `json:"projectId"`
	RecordType string `json:"recordType"`
	Family     string `json:"family"`
	Status     string `json:"status"`
	Title      string `json:"title"`
	Body       string `json:"body"`
}

var titleKeys = []string{"title", "name", "headline", "summary"}

// NewRecordDocument flattens a payload for indexing.
func NewRecordDocument(recordID, projectID int64, recordType, family, status string, data map[string]any) RecordDocument {
	return RecordDocument{
		ID:         fmt.Sprintf("%d", recordID),
		RecordID:   recordID,
		ProjectID:  projectID,
		RecordType: recordType,
		Family:     family,
		Status:     status,
		Title:      payloadTitle(data),
		Body:       FlattenPayload(data),
	}
}

func payloadTitle(data map[string]any) string {
	for _, key := range titleKeys {
		if s, ok := data[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// FlattenPayload joins every string found in the payload, keys in sorted
// order so the text is stable between writes.
func FlattenPayload(data map[string]any) string {
	parts := make([]string, 0, len(data))
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = appendStrings(parts, data[k])
	}
	return strings.Join(parts, "\n")
}

func appendStrings(parts []string, value any) []string {
	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			parts = append(parts, v)
		}
	case []any:
		for _, item := range v {
			parts = appendStrings(parts, item)
		}
	case map[string]any:
		parts = append(parts, FlattenPayload(v))
	}
	return parts
}
