package matcher

import (
	"context"

	"github.com/agrimatch/core/internal/domain/logistics"
)

// middlemanLister is satisfied by *storage.Storage without this package
// importing storage directly, avoiding an import cycle since storage has
// no reason to know about the matcher.
type middlemanLister interface {
	ListAvailableMiddlemen(ctx context.Context) ([]*logistics.Middleman, error)
}

// SQLiteStore is the primary SpatialStore, backed by the middlemen table.
type SQLiteStore struct {
	lister middlemanLister
}

// NewSQLiteStore wraps a storage layer exposing ListAvailableMiddlemen.
func NewSQLiteStore(lister middlemanLister) *SQLiteStore {
	return &SQLiteStore{lister: lister}
}

// CandidateMiddlemen returns every currently-available middleman.
func (s *SQLiteStore) CandidateMiddlemen(ctx context.Context) ([]*logistics.Middleman, error) {
	return s.lister.ListAvailableMiddlemen(ctx)
}
