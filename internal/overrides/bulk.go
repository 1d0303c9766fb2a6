package overrides

import (
	"context"
	"fmt"
)

// MaxBulkIDs caps the number of records one bulk request may touch.
const MaxBulkIDs = 50

// BulkAction names the operation applied to every id in a bulk request.
type BulkAction string

const (
	BulkActivate   BulkAction = "activate"
	BulkDeactivate BulkAction = "deactivate"
	BulkDelete     BulkAction = "delete"
)

func (a BulkAction) IsValid() bool {
	switch a {
	case BulkActivate, BulkDeactivate, BulkDelete:
		return true
	}
	return false
}

// BulkResult is the outcome for one id.
type BulkResult struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Bulk applies action to each id independently. One failure does not stop
// the others; the per-id results report what happened.
func (s *Service) Bulk(ctx context.Context, action BulkAction, ids []string, actor string) ([]BulkResult, error) {
	if !action.IsValid() {
		return nil, fmt.Errorf("%w: bulk action %q", ErrInvalidInput, action)
	}
	if len(ids) == 0 || len(ids) > MaxBulkIDs {
		return nil, fmt.Errorf("%w: bulk requests take 1 to %d ids, got %d", ErrInvalidInput, MaxBulkIDs, len(ids))
	}

	results := make([]BulkResult, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		var err error
		switch action {
		case BulkActivate:
			_, err = s.Activate(ctx, id, actor)
		case BulkDeactivate:
			_, err = s.Deactivate(ctx, id, actor)
		case BulkDelete:
			err = s.Delete(ctx, id, actor)
		}
		r := BulkResult{ID: id, OK: err == nil}
		if err != nil {
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results, nil
}
