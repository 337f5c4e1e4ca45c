package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/2beens/fitcoach/internal/coach/predictor"
	"github.com/2beens/fitcoach/internal/telemetry/metrics"
	"github.com/2beens/fitcoach/internal/telemetry/tracing"
)

var ErrMissingUserID = errors.New("missing user id")

type Service struct {
	store    Store
	scorer   predictor.Scorer
	cache    *freecache.Cache
	cacheTTL int // seconds
	metrics  *metrics.Manager
	now      func() time.Time
}

// NewService creates the progress service. A nil cache disables status caching.
func NewService(
	store Store,
	scorer predictor.Scorer,
	cache *freecache.Cache,
	cacheTTLSeconds int,
	metricsManager *metrics.Manager,
) *Service {
	return &Service{
		store:    store,
		scorer:   scorer,
		cache:    cache,
		cacheTTL: cacheTTLSeconds,
		metrics:  metricsManager,
		now:      time.Now,
	}
}

func (s *Service) RecordFeedback(ctx context.Context, feedback Feedback) (_ Record, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.progress.feedback")
	defer func() { endSpan(span, err) }()

	if feedback.UserID == "" {
		return Record{}, ErrMissingUserID
	}

	checkin := Checkin{
		Date:      s.now().UTC().Truncate(time.Millisecond),
		Completed: feedback.Completed,
		Energy:    feedback.Energy,
		Notes:     feedback.Notes,
	}
	record, err := s.store.Transact(ctx, feedback.UserID, func(r *Record) error {
		r.Checkin(checkin)
		return nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("apply feedback: %w", err)
	}

	s.invalidateStatus(feedback.UserID)
	s.metrics.CounterFeedback.WithLabelValues(strconv.FormatBool(feedback.Completed)).Inc()

	if feedback.Reason != "" {
		log.Debugf("feedback from %s (completed: %t): %s", feedback.UserID, feedback.Completed, feedback.Reason)
	}

	span.SetAttributes(
		attribute.String("user.id", feedback.UserID),
		attribute.Int("progress.streak", record.Streak),
	)
	return record, nil
}

func (s *Service) Status(ctx context.Context, userID string) (_ *Status, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.progress.status")
	defer func() { endSpan(span, err) }()

	if cached, ok := s.cachedStatus(userID); ok {
		s.metrics.CounterStatusCache.WithLabelValues("hit").Inc()
		return cached, nil
	}
	s.metrics.CounterStatusCache.WithLabelValues("miss").Inc()

	record, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	status := NewStatus(userID, *record, s.scorer)
	s.metrics.CounterPredictions.WithLabelValues("status", string(status.PlanIntensity)).Inc()
	s.cacheStatus(status)

	span.SetStatus(codes.Ok, "status derived")
	return status, nil
}

// Overview summarises the check-in history of a user. It is not cached,
// the time windows move with every call.
func (s *Service) Overview(ctx context.Context, userID string) (_ *Overview, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "service.progress.overview")
	defer func() { endSpan(span, err) }()

	record, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("progress.history", len(record.History)))
	return NewOverview(userID, *record, s.now()), nil
}

// ClearStatusCache drops every cached status, e.g. after the store was
// reloaded from outside.
func (s *Service) ClearStatusCache() {
	if s.cache == nil {
		return
	}
	s.cache.Clear()
	log.Debugln("status cache cleared")
}

func (s *Service) cachedStatus(userID string) (*Status, bool) {
	if s.cache == nil {
		return nil, false
	}

	statusBytes, err := s.cache.Get(statusCacheKey(userID))
	if err != nil {
		return nil, false
	}

	status := &Status{}
	if err := json.Unmarshal(statusBytes, status); err != nil {
		log.Errorf("unmarshal cached status for %s: %s", userID, err)
		return nil, false
	}
	return status, true
}

func (s *Service) cacheStatus(status *Status) {
	if s.cache == nil {
		return
	}

	statusBytes, err := json.Marshal(status)
	if err != nil {
		log.Errorf("marshal status for %s: %s", status.UserID, err)
		return
	}

	if err := s.cache.Set(statusCacheKey(status.UserID), statusBytes, s.cacheTTL); err != nil {
		log.Errorf("failed to write status cache for %s: %s", status.UserID, err)
	}
}

func (s *Service) invalidateStatus(userID string) {
	if s.cache == nil {
		return
	}
	s.cache.Del(statusCacheKey(userID))
}

func statusCacheKey(userID string) []byte {
	return []byte("status::" + userID)
}
