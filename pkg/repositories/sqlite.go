package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cbodonnell/flywheel-stats/pkg/stats"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteOptions = "_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate"

type SQLiteRepository struct {
	db *sql.DB
	// increments holds one statement per counter kind so no column name is built at runtime.
	increments [stats.NumCounterKinds]string
	top        [stats.NumCounterKinds]string
}

// NewSQLiteRepository opens the database at path and applies the migrations in
// the migrations directory. The caller is responsible for calling Close() on the repository.
func NewSQLiteRepository(ctx context.Context, path string, migrations string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, &ConnectionError{Backend: "sqlite", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &ConnectionError{Backend: "sqlite", Err: err}
	}

	files, err := readMigrations(migrations)
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, m := range files {
		if _, err := db.ExecContext(ctx, m.sql); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute migration %s: %w", m.path, err)
		}
	}

	r := &SQLiteRepository{
		db: db,
	}
	for _, kind := range stats.AllCounterKinds() {
		col := kind.Column()
		r.increments[kind] = fmt.Sprintf(`UPDATE player_counters SET %s = %s WHERE id = ?2;`, col, incrementExpr(kind, "?1"))
		r.top[kind] = fmt.Sprintf(`
		SELECT p.id, p.display_name, CAST(c.%s AS REAL)
		FROM player_counters c JOIN players p ON p.id = c.id
		ORDER BY c.%s DESC, p.id ASC
		LIMIT ?;`, col, col)
	}
	return r, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		return "file::memory:?cache=shared&" + sqliteOptions
	}
	if strings.Contains(path, "?") {
		return path + "&" + sqliteOptions
	}
	return "file:" + path + "?" + sqliteOptions
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) ensureEntity(ctx context.Context, tx *sql.Tx, id string, now int64) error {
	q := `
	INSERT INTO players (id, display_name, first_seen, last_seen, online)
	VALUES (?, '', ?, ?, 0)
	ON CONFLICT (id) DO NOTHING;
	`
	if _, err := tx.ExecContext(ctx, q, id, now, now); err != nil {
		return fmt.Errorf("failed to insert player: %w", err)
	}
	return r.ensureChildren(ctx, tx, id)
}

func (r *SQLiteRepository) ensureChildren(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO player_counters (id) VALUES (?);`, id); err != nil {
		return fmt.Errorf("failed to insert player counters: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO player_live (id) VALUES (?);`, id); err != nil {
		return fmt.Errorf("failed to insert player live data: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) UpsertOnline(ctx context.Context, id string, displayName string, now int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	q := `
	INSERT INTO players (id, display_name, first_seen, last_seen, online)
	VALUES (?, ?, ?, ?, 1)
	ON CONFLICT (id) DO UPDATE SET
		display_name = excluded.display_name,
		last_seen = MAX(players.first_seen, excluded.last_seen),
		online = 1;
	`
	if _, err := tx.ExecContext(ctx, q, id, displayName, now, now); err != nil {
		return fmt.Errorf("failed to upsert player: %w", err)
	}
	if err := r.ensureChildren(ctx, tx, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkOffline(ctx context.Context, id string, now int64) error {
	q := `
	UPDATE players SET online = 0, last_seen = MAX(first_seen, ?) WHERE id = ?;
	`
	if _, err := r.db.ExecContext(ctx, q, now, id); err != nil {
		return fmt.Errorf("failed to mark player offline: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) IncrementCounter(ctx context.Context, id string, kind stats.CounterKind, amount float64, now int64) error {
	if err := stats.ValidateIncrement(kind, amount); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.ensureEntity(ctx, tx, id, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, r.increments[kind], counterArg(kind, amount), id); err != nil {
		return fmt.Errorf("failed to increment %s: %w", kind, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) AddPlaytime(ctx context.Context, id string, deltaMs int64) error {
	if deltaMs < 0 {
		return fmt.Errorf("negative playtime delta: %d", deltaMs)
	}
	q := `
	UPDATE players SET playtime_ms = playtime_ms + ? WHERE id = ?;
	`
	if _, err := r.db.ExecContext(ctx, q, deltaMs, id); err != nil {
		return fmt.Errorf("failed to add playtime: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) WriteSnapshot(ctx context.Context, id string, s stats.LiveSnapshot) error {
	q := `
	UPDATE player_live SET
		health = ?, food_level = ?, saturation = ?, experience_level = ?, experience_points = ?,
		x = ?, y = ?, z = ?, world = ?, last_updated = ?
	WHERE id = ? AND EXISTS (SELECT 1 FROM players p WHERE p.id = player_live.id AND p.online = 1);
	`
	_, err := r.db.ExecContext(ctx, q,
		s.Health, s.FoodLevel, s.Saturation, s.ExperienceLevel, s.ExperiencePoints,
		s.X, s.Y, s.Z, s.World, s.LastUpdated, id)
	if err != nil {
		return fmt.Errorf("failed to write live snapshot: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetView(ctx context.Context, identifier string) (*stats.EntityView, error) {
	q := `
	SELECT` + viewColumns + `
	FROM players p
	JOIN player_counters c ON c.id = p.id
	JOIN player_live l ON l.id = p.id
	WHERE p.id = ? OR p.display_name = ?
	ORDER BY CASE WHEN p.id = ? THEN 0 ELSE 1 END, p.last_seen DESC
	LIMIT 1;
	`
	view, err := scanView(r.db.QueryRowContext(ctx, q, identifier, identifier, identifier))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan player: %w", err)
	}
	return view, nil
}

func (r *SQLiteRepository) ListOnline(ctx context.Context) ([]stats.OnlineEntity, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, display_name FROM players WHERE online = 1 ORDER BY display_name, id;`)
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

func (r *SQLiteRepository) AggregateCounts(ctx context.Context) (stats.Aggregate, error) {
	q := `
	SELECT COUNT(*), COALESCE(SUM(online), 0) FROM players;
	`
	var agg stats.Aggregate
	if err := r.db.QueryRowContext(ctx, q).Scan(&agg.TotalEntities, &agg.OnlineCount); err != nil {
		return stats.Aggregate{}, fmt.Errorf("failed to count players: %w", err)
	}
	return agg, nil
}

func (r *SQLiteRepository) TopCounters(ctx context.Context, kind stats.CounterKind, limit int) ([]stats.LeaderboardEntry, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", stats.ErrInvalidCounter, int(kind))
	}
	rows, err := r.db.QueryContext(ctx, r.top[kind], limit)
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
