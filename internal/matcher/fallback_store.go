package matcher

import (
	"context"

	"github.com/agrimatch/core/internal/domain/logistics"
	"github.com/agrimatch/core/pkg/logging"
)

// FallbackStore tries primary first and falls back to secondary on error
// rather than failing the caller outright.
type FallbackStore struct {
	primary   SpatialStore
	secondary SpatialStore
	log       *logging.Logger
}

// NewFallbackStore composes primary and secondary stores.
func NewFallbackStore(primary, secondary SpatialStore) *FallbackStore {
	return &FallbackStore{
		primary:   primary,
		secondary: secondary,
		log:       logging.GetDefault().Component("matcher"),
	}
}

// CandidateMiddlemen tries primary, logging and degrading to secondary on
// failure instead of propagating the error up into order flow.
func (f *FallbackStore) CandidateMiddlemen(ctx context.Context) ([]*logistics.Middleman, error) {
	candidates, err := f.primary.CandidateMiddlemen(ctx)
	if err == nil {
		return candidates, nil
	}
	f.log.Warn("primary spatial store unavailable, degrading to seeded fallback", "error", err)
	return f.secondary.CandidateMiddlemen(ctx)
}
