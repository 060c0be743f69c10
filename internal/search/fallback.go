package search

import (
	"context"
	"strings"

	"planner/api/internal/store"
)

// ItemSearcher is the database search the service falls back to when
// Meilisearch is unavailable.
type ItemSearcher interface {
	SearchItems(ctx context.Context, userID int64, query, kind string, limit, offset int) ([]store.SearchHit, error)
}

// StoreFallback runs substring searches against the entity store.
type StoreFallback struct {
	items ItemSearcher
}

func NewStoreFallback(items ItemSearcher) *StoreFallback {
	return &StoreFallback{items: items}
}

func (f *StoreFallback) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	hits, err := f.items.SearchItems(ctx, q.UserID, q.Text, string(q.FilterType), q.Limit, q.Offset)
	if err != nil {
		return nil, 0, err
	}
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, Result{
			Type:      ResultType(hit.Kind),
			ID:        hit.ID,
			Title:     hit.Name,
			Snippet:   hit.Description,
			ProjectID: hit.ProjectID,
		})
	}
	return results, len(results), nil
}
