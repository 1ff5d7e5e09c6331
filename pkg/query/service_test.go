package query

import (
	"context"
	"errors"
	"testing"

	"github.com/cbodonnell/flywheel-stats/pkg/repositories"
	"github.com/cbodonnell/flywheel-stats/pkg/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenRepository fails every read.
type brokenRepository struct {
	*repositories.MemoryRepository
}

var errDiskGone = errors.New("disk gone")

func (r brokenRepository) GetView(ctx context.Context, identifier string) (*stats.EntityView, error) {
	return nil, errDiskGone
}

func (r brokenRepository) ListOnline(ctx context.Context) ([]stats.OnlineEntity, error) {
	return nil, errDiskGone
}

func (r brokenRepository) AggregateCounts(ctx context.Context) (stats.Aggregate, error) {
	return stats.Aggregate{}, errDiskGone
}

func (r brokenRepository) TopCounters(ctx context.Context, kind stats.CounterKind, limit int) ([]stats.LeaderboardEntry, error) {
	return nil, errDiskGone
}

func (r brokenRepository) Ping(ctx context.Context) error {
	return errDiskGone
}

// limitRepository records the limit passed to TopCounters.
type limitRepository struct {
	*repositories.MemoryRepository
	limit int
}

func (r *limitRepository) TopCounters(ctx context.Context, kind stats.CounterKind, limit int) ([]stats.LeaderboardEntry, error) {
	r.limit = limit
	return r.MemoryRepository.TopCounters(ctx, kind, limit)
}

func TestGetView_UnknownIsNotFound(t *testing.T) {
	s := NewService(repositories.NewMemoryRepository())

	for _, identifier := range []string{"nobody", "", "   "} {
		view, found, err := s.GetView(context.Background(), identifier)
		assert.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, view)
	}
}

func TestGetView_OfflineHidesLiveData(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewMemoryRepository()
	s := NewService(repo)

	require.NoError(t, repo.UpsertOnline(ctx, "A", "Alex", 0))
	require.NoError(t, repo.WriteSnapshot(ctx, "A", stats.LiveSnapshot{Health: 7, World: "world", LastUpdated: 50000}))

	view, found, err := s.GetView(ctx, "A")
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, view.Live)
	assert.Equal(t, int64(50000), view.Live.LastUpdated)

	require.NoError(t, repo.MarkOffline(ctx, "A", 60000))
	view, found, err = s.GetView(ctx, "A")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, view.Identity.Online)
	assert.Nil(t, view.Live)
}

func TestGetView_ByDisplayNameAndUUID(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewMemoryRepository()
	s := NewService(repo)

	const id = "069a79f4-44e9-4726-a5be-fca90e38aaf5"
	require.NoError(t, repo.UpsertOnline(ctx, id, "Notch", 0))

	for _, identifier := range []string{id, "069A79F4-44E9-4726-A5BE-FCA90E38AAF5", "069a79f444e94726a5befca90e38aaf5", " Notch "} {
		view, found, err := s.GetView(ctx, identifier)
		require.NoError(t, err, identifier)
		require.True(t, found, identifier)
		assert.Equal(t, id, view.Identity.ID)
	}

	_, found, err := s.GetView(ctx, "notch")
	require.NoError(t, err)
	assert.False(t, found, "display names match exactly")
}

func TestGetView_ExactNonCanonicalID(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewMemoryRepository()
	s := NewService(repo)

	const upper = "550E8400-E29B-41D4-A716-446655440000"
	const braced = "{3f2504e0-4f89-11d3-9a0c-0305e82c3301}"
	require.NoError(t, repo.UpsertOnline(ctx, upper, "Steve", 1))
	require.NoError(t, repo.UpsertOnline(ctx, braced, "Alex", 1))

	for identifier, want := range map[string]string{
		upper:                                  upper,
		" " + upper:                            upper,
		braced:                                 braced,
		"Steve":                                upper,
		"550e8400-e29b-41d4-a716-446655440000": "",
	} {
		view, found, err := s.GetView(ctx, identifier)
		require.NoError(t, err, identifier)
		if want == "" {
			assert.False(t, found, identifier)
			continue
		}
		require.True(t, found, identifier)
		assert.Equal(t, want, view.Identity.ID, identifier)
	}
}

func TestGetView_ReadFailureOnFallback(t *testing.T) {
	s := NewService(brokenRepository{MemoryRepository: repositories.NewMemoryRepository()})

	_, found, err := s.GetView(context.Background(), "550E8400-E29B-41D4-A716-446655440000")
	assert.ErrorIs(t, err, ErrReadFailure)
	assert.False(t, found)
}

func TestReadFailures(t *testing.T) {
	ctx := context.Background()
	s := NewService(brokenRepository{MemoryRepository: repositories.NewMemoryRepository()})

	_, found, err := s.GetView(ctx, "a")
	assert.ErrorIs(t, err, ErrReadFailure)
	assert.False(t, found)

	_, err = s.ListOnline(ctx)
	assert.ErrorIs(t, err, ErrReadFailure)

	_, err = s.AggregateCounts(ctx)
	assert.ErrorIs(t, err, ErrReadFailure)

	_, err = s.Leaderboard(ctx, stats.CounterDeaths, 5)
	assert.ErrorIs(t, err, ErrReadFailure)

	assert.ErrorIs(t, s.Ping(ctx), ErrReadFailure)
}

func TestListOnlineAndAggregate(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewMemoryRepository()
	s := NewService(repo)
	require.NoError(t, repo.UpsertOnline(ctx, "a", "Alice", 0))
	require.NoError(t, repo.UpsertOnline(ctx, "b", "Bob", 0))
	require.NoError(t, repo.MarkOffline(ctx, "b", 5))

	online, err := s.ListOnline(ctx)
	require.NoError(t, err)
	assert.Equal(t, []stats.OnlineEntity{{ID: "a", DisplayName: "Alice"}}, online)

	agg, err := s.AggregateCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats.Aggregate{TotalEntities: 2, OnlineCount: 1}, agg)
}

func TestLeaderboardLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{name: "default", limit: 0, want: DefaultLeaderboardLimit},
		{name: "negative", limit: -4, want: 1},
		{name: "in range", limit: 25, want: 25},
		{name: "too large", limit: 1000, want: MaxLeaderboardLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &limitRepository{MemoryRepository: repositories.NewMemoryRepository()}
			s := NewService(repo)
			_, err := s.Leaderboard(context.Background(), stats.CounterMobKills, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, repo.limit)
		})
	}

	s := NewService(repositories.NewMemoryRepository())
	_, err := s.Leaderboard(context.Background(), stats.CounterKind(77), 5)
	assert.ErrorIs(t, err, stats.ErrInvalidCounter)
}
