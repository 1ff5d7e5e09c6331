package repositories

import (
	"context"

	"github.com/cbodonnell/flywheel-stats/pkg/stats"
)

// Repository is the durable store behind the ledger and the query service.
// Mutations are only issued by the ledger; reads may come from any goroutine.
type Repository interface {
	Close(ctx context.Context) error
	Ping(ctx context.Context) error

	// UpsertOnline creates the identity, counter and live records of id if absent
	// (first seen = now) and marks it online under displayName.
	UpsertOnline(ctx context.Context, id string, displayName string, now int64) error
	// MarkOffline sets online=false and last seen = now. Unknown ids are ignored.
	MarkOffline(ctx context.Context, id string, now int64) error
	// IncrementCounter adds amount to one counter, creating a zeroed offline entity if id is unknown.
	IncrementCounter(ctx context.Context, id string, kind stats.CounterKind, amount float64, now int64) error
	// AddPlaytime adds deltaMs to the cumulative playtime of id. Unknown ids are ignored.
	AddPlaytime(ctx context.Context, id string, deltaMs int64) error
	// WriteSnapshot replaces the live record of id only while it is online.
	WriteSnapshot(ctx context.Context, id string, snapshot stats.LiveSnapshot) error

	// GetView resolves identifier by id, then by display name, and reads the
	// three records in one statement. It returns *ErrNotFound for unknown identifiers.
	GetView(ctx context.Context, identifier string) (*stats.EntityView, error)
	ListOnline(ctx context.Context) ([]stats.OnlineEntity, error)
	AggregateCounts(ctx context.Context) (stats.Aggregate, error)
	TopCounters(ctx context.Context, kind stats.CounterKind, limit int) ([]stats.LeaderboardEntry, error)
}
