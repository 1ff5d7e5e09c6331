package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cbodonnell/flywheel-stats/pkg/repositories"
	"github.com/cbodonnell/flywheel-stats/pkg/stats"
	"github.com/google/uuid"
)

const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
)

// ErrReadFailure wraps every repository error returned by the service.
var ErrReadFailure = errors.New("read failure")

// Service serves read views straight from the repository. It never goes
// through the ledger and never blocks writers.
type Service struct {
	repository repositories.Repository
}

func NewService(repository repositories.Repository) *Service {
	return &Service{
		repository: repository,
	}
}

// GetView resolves identifier to an entity by id first, then by display name.
// Ids are matched as stored; a UUID that matches nothing is retried in its
// canonical lowercase form. An unknown identifier is reported with found=false
// and a nil error. The live snapshot is nil while the entity is offline.
func (s *Service) GetView(ctx context.Context, identifier string) (*stats.EntityView, bool, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, false, nil
	}

	view, found, err := s.lookup(ctx, identifier)
	if err != nil || found {
		return view, found, err
	}
	if canonical, ok := canonicalUUID(identifier); ok && canonical != identifier {
		return s.lookup(ctx, canonical)
	}
	return nil, false, nil
}

func (s *Service) lookup(ctx context.Context, identifier string) (*stats.EntityView, bool, error) {
	view, err := s.repository.GetView(ctx, identifier)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: get view of %q: %v", ErrReadFailure, identifier, err)
	}
	if !view.Identity.Online {
		view.Live = nil
	}
	return view, true, nil
}

func (s *Service) ListOnline(ctx context.Context) ([]stats.OnlineEntity, error) {
	online, err := s.repository.ListOnline(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list online: %v", ErrReadFailure, err)
	}
	return online, nil
}

func (s *Service) AggregateCounts(ctx context.Context) (stats.Aggregate, error) {
	agg, err := s.repository.AggregateCounts(ctx)
	if err != nil {
		return stats.Aggregate{}, fmt.Errorf("%w: aggregate counts: %v", ErrReadFailure, err)
	}
	return agg, nil
}

// Leaderboard returns the entities with the highest value of one counter.
// limit is clamped to [1, MaxLeaderboardLimit]; zero selects the default.
func (s *Service) Leaderboard(ctx context.Context, kind stats.CounterKind, limit int) ([]stats.LeaderboardEntry, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", stats.ErrInvalidCounter, int(kind))
	}
	switch {
	case limit == 0:
		limit = DefaultLeaderboardLimit
	case limit < 1:
		limit = 1
	case limit > MaxLeaderboardLimit:
		limit = MaxLeaderboardLimit
	}

	entries, err := s.repository.TopCounters(ctx, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: leaderboard %s: %v", ErrReadFailure, kind, err)
	}
	return entries, nil
}

// Ping reports whether the store answers.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.repository.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrReadFailure, err)
	}
	return nil
}

// canonicalUUID returns the lowercase hyphenated form of a UUID identifier.
func canonicalUUID(identifier string) (string, bool) {
	id, err := uuid.Parse(identifier)
	if err != nil {
		return "", false
	}
	return id.String(), true
}
