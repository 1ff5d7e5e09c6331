package repositories

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/cbodonnell/flywheel-stats/pkg/stats"
)

// viewColumns is the column list shared by the SQL GetView queries. The order
// matches scanView.
const viewColumns = `
	p.id, p.display_name, p.first_seen, p.last_seen, p.playtime_ms, p.online,
	c.blocks_broken, c.blocks_placed, c.deaths, c.player_kills, c.mob_kills,
	c.distance_traveled, c.items_crafted, c.food_consumed,
	l.health, l.food_level, l.saturation, l.experience_level, l.experience_points,
	l.x, l.y, l.z, l.world, l.last_updated`

// rowScanner is satisfied by *sql.Row and pgx.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanView(row rowScanner) (*stats.EntityView, error) {
	view := &stats.EntityView{}
	live := stats.LiveSnapshot{}
	id := &view.Identity
	c := &view.Counters
	err := row.Scan(
		&id.ID, &id.DisplayName, &id.FirstSeen, &id.LastSeen, &id.PlaytimeMs, &id.Online,
		&c.BlocksBroken, &c.BlocksPlaced, &c.Deaths, &c.PlayerKills, &c.MobKills,
		&c.DistanceTraveled, &c.ItemsCrafted, &c.FoodConsumed,
		&live.Health, &live.FoodLevel, &live.Saturation, &live.ExperienceLevel, &live.ExperiencePoints,
		&live.X, &live.Y, &live.Z, &live.World, &live.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	if id.Online {
		view.Live = &live
	}
	return view, nil
}

// counterArg converts a validated amount to the column's storage type.
func counterArg(kind stats.CounterKind, amount float64) any {
	if kind.Fractional() {
		return amount
	}
	return int64(amount)
}

// incrementExpr is the new value of col after adding param. Integer columns
// saturate at the largest BIGINT instead of overflowing.
func incrementExpr(kind stats.CounterKind, param string) string {
	col := kind.Column()
	if kind.Fractional() {
		return fmt.Sprintf("%s + %s", col, param)
	}
	return fmt.Sprintf("CASE WHEN %[1]s > %[3]d - %[2]s THEN %[3]d ELSE %[1]s + %[2]s END", col, param, int64(math.MaxInt64))
}

type migration struct {
	path string
	sql  string
}

// readMigrations returns the .sql files of dir in lexical order.
func readMigrations(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		migrationPath := filepath.Join(dir, entry.Name())
		b, err := os.ReadFile(migrationPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", migrationPath, err)
		}
		migrations = append(migrations, migration{path: migrationPath, sql: string(b)})
	}
	return migrations, nil
}
