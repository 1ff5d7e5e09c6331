package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/cbodonnell/flywheel-stats/pkg/log"
	"github.com/cbodonnell/flywheel-stats/pkg/stats"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepository struct {
	pool       *pgxpool.Pool
	increments [stats.NumCounterKinds]string
	top        [stats.NumCounterKinds]string
}

// NewPostgresRepository connects to the database and applies the migrations in
// the migrations directory. The caller is responsible for calling Close() on the repository.
func NewPostgresRepository(ctx context.Context, connStr string, migrations string) (*PostgresRepository, error) {
	pool, err := connectDb(ctx, connStr)
	if err != nil {
		return nil, err
	}

	files, err := readMigrations(migrations)
	if err != nil {
		pool.Close()
		return nil, err
	}
	for _, m := range files {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to execute migration %s: %w", m.path, err)
		}
	}

	r := &PostgresRepository{
		pool: pool,
	}
	for _, kind := range stats.AllCounterKinds() {
		col := kind.Column()
		r.increments[kind] = fmt.Sprintf(`UPDATE player_counters SET %s = %s WHERE id = $2;`, col, incrementExpr(kind, "$1"))
		r.top[kind] = fmt.Sprintf(`
		SELECT p.id, p.display_name, c.%s::DOUBLE PRECISION
		FROM player_counters c JOIN players p ON p.id = c.id
		ORDER BY c.%s DESC, p.id ASC
		LIMIT $1;`, col, col)
	}
	return r, nil
}

func connectDb(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, &ConnectionError{Backend: "postgres", Err: err}
	}

	var username string
	var database string
	err = pool.QueryRow(ctx, "SELECT current_user, current_database()").Scan(&username, &database)
	if err != nil {
		pool.Close()
		return nil, &ConnectionError{Backend: "postgres", Err: err}
	}

	log.Info("Connected to %s as %s", database, username)

	return pool, nil
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	r.pool.Close()
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func ensureChildrenPg(ctx context.Context, tx pgx.Tx, id string) error {
	if _, err := tx.Exec(ctx, `INSERT INTO player_counters (id) VALUES ($1) ON CONFLICT (id) DO NOTHING;`, id); err != nil {
		return fmt.Errorf("failed to insert player counters: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO player_live (id) VALUES ($1) ON CONFLICT (id) DO NOTHING;`, id); err != nil {
		return fmt.Errorf("failed to insert player live data: %w", err)
	}
	return nil
}

func (r *PostgresRepository) UpsertOnline(ctx context.Context, id string, displayName string, now int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	q := `
	INSERT INTO players (id, display_name, first_seen, last_seen, online)
	VALUES ($1, $2, $3, $3, TRUE)
	ON CONFLICT (id) DO UPDATE SET
		display_name = EXCLUDED.display_name,
		last_seen = GREATEST(players.first_seen, EXCLUDED.last_seen),
		online = TRUE;
	`
	if _, err := tx.Exec(ctx, q, id, displayName, now); err != nil {
		return fmt.Errorf("failed to upsert player: %w", err)
	}
	if err := ensureChildrenPg(ctx, tx, id); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkOffline(ctx context.Context, id string, now int64) error {
	q := `
	UPDATE players SET online = FALSE, last_seen = GREATEST(first_seen, $1) WHERE id = $2;
	`
	if _, err := r.pool.Exec(ctx, q, now, id); err != nil {
		return fmt.Errorf("failed to mark player offline: %w", err)
	}
	return nil
}

func (r *PostgresRepository) IncrementCounter(ctx context.Context, id string, kind stats.CounterKind, amount float64, now int64) error {
	if err := stats.ValidateIncrement(kind, amount); err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	q := `
	INSERT INTO players (id, display_name, first_seen, last_seen, online)
	VALUES ($1, '', $2, $2, FALSE)
	ON CONFLICT (id) DO NOTHING;
	`
	if _, err := tx.Exec(ctx, q, id, now); err != nil {
		return fmt.Errorf("failed to insert player: %w", err)
	}
	if err := ensureChildrenPg(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, r.increments[kind], counterArg(kind, amount), id); err != nil {
		return fmt.Errorf("failed to increment %s: %w", kind, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AddPlaytime(ctx context.Context, id string, deltaMs int64) error {
	if deltaMs < 0 {
		return fmt.Errorf("negative playtime delta: %d", deltaMs)
	}
	q := `
	UPDATE players SET playtime_ms = playtime_ms + $1 WHERE id = $2;
	`
	if _, err := r.pool.Exec(ctx, q, deltaMs, id); err != nil {
		return fmt.Errorf("failed to add playtime: %w", err)
	}
	return nil
}

func (r *PostgresRepository) WriteSnapshot(ctx context.Context, id string, s stats.LiveSnapshot) error {
	q := `
	UPDATE player_live l SET
		health = $1, food_level = $2, saturation = $3, experience_level = $4, experience_points = $5,
		x = $6, y = $7, z = $8, world = $9, last_updated = $10
	FROM players p
	WHERE l.id = $11 AND p.id = l.id AND p.online;
	`
	_, err := r.pool.Exec(ctx, q,
		s.Health, s.FoodLevel, s.Saturation, s.ExperienceLevel, s.ExperiencePoints,
		s.X, s.Y, s.Z, s.World, s.LastUpdated, id)
	if err != nil {
		return fmt.Errorf("failed to write live snapshot: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetView(ctx context.Context, identifier string) (*stats.EntityView, error) {
	q := `
	SELECT` + viewColumns + `
	FROM players p
	JOIN player_counters c ON c.id = p.id
	JOIN player_live l ON l.id = p.id
	WHERE p.id = $1 OR p.display_name = $1
	ORDER BY CASE WHEN p.id = $1 THEN 0 ELSE 1 END, p.last_seen DESC
	LIMIT 1;
	`
	view, err := scanView(r.pool.QueryRow(ctx, q, identifier))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan player: %w", err)
	}
	return view, nil
}

func (r *PostgresRepository) ListOnline(ctx context.Context) ([]stats.OnlineEntity, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, display_name FROM players WHERE online ORDER BY display_name, id;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query online players: %w", err)
	}
	defer rows.Close()

	online := []stats.OnlineEntity{}
	for rows.Next() {
		var e stats.OnlineEntity
		if err := rows.Scan(&e.ID, &e.DisplayName); err != nil {
			return nil, fmt.Errorf("failed to scan online player: %w", err)
		}
		online = append(online, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate online players: %w", err)
	}
	return online, nil
}

func (r *PostgresRepository) AggregateCounts(ctx context.Context) (stats.Aggregate, error) {
	q := `
	SELECT COUNT(*), COUNT(*) FILTER (WHERE online) FROM players;
	`
	var agg stats.Aggregate
	if err := r.pool.QueryRow(ctx, q).Scan(&agg.TotalEntities, &agg.OnlineCount); err != nil {
		return stats.Aggregate{}, fmt.Errorf("failed to count players: %w", err)
	}
	return agg, nil
}

func (r *PostgresRepository) TopCounters(ctx context.Context, kind stats.CounterKind, limit int) ([]stats.LeaderboardEntry, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", stats.ErrInvalidCounter, int(kind))
	}
	rows, err := r.pool.Query(ctx, r.top[kind], limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	entries := []stats.LeaderboardEntry{}
	for rows.Next() {
		var e stats.LeaderboardEntry
		if err := rows.Scan(&e.ID, &e.DisplayName, &e.Value); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate leaderboard: %w", err)
	}
	return entries, nil
}
