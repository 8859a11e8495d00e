// Package moderation turns submissions into venues and keeps the review
// aggregates on each venue consistent with its reviews.
//
// Every operator action runs as one unit of work against the store. Geocoding
// and event publishing happen outside of it and never fail an action.
package moderation

import (
	"context"
	"time"

	"calmmap/internal/domain/storage"
	"calmmap/internal/events"
	"calmmap/internal/geocode"

	"go.uber.org/zap"
)

const (
	// DuplicateLimit bounds the possible duplicates returned to the caller.
	DuplicateLimit = 10

	publishTimeout = 5 * time.Second
)

type Service struct {
	store     storage.UnitOfWork
	geocoder  geocode.Geocoder
	publisher events.Publisher
	logger    *zap.SugaredLogger
	now       func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store storage.UnitOfWork, geocoder geocode.Geocoder, publisher events.Publisher, logger *zap.SugaredLogger, opts ...Option) *Service {
	if geocoder == nil {
		geocoder = geocode.Nop{}
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	s := &Service{
		store:     store,
		geocoder:  geocoder,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) event(t events.Type) events.Event {
	return events.New(t, s.now())
}

// publish sends e after the unit of work has committed. The request context
// may already be finishing, so the send gets its own short deadline.
func (s *Service) publish(ctx context.Context, e events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warnw("moderation event not published", "type", e.Type, "id", e.ID, "error", err)
	}
}
