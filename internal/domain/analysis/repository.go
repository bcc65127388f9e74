package analysis

import (
	"context"

	"github.com/defectwise/defectwise/pkg/types/common"
)

// ListFilter narrows a listing to a status, most recent first.
type ListFilter struct {
	Status Status // empty means every status
}

// Repository defines the persistence contract for the analysis aggregate.
// Save is an upsert keyed by ID and must write the aggregate atomically,
// including its defect rows. FindByContentHash backs duplicate detection
// and returns a not-found error when no analysis carries the hash.
type Repository interface {
	Save(ctx context.Context, a *Analysis) error
	FindByID(ctx context.Context, id common.ID) (*Analysis, error)
	FindByContentHash(ctx context.Context, hash string) (*Analysis, error)
	List(ctx context.Context, filter ListFilter, page common.Pagination) ([]*Analysis, int64, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
	Delete(ctx context.Context, id common.ID) error
}
