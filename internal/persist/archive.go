package persist

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq" // postgres driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Archive stores finished games in PostgreSQL for offline analysis. The
// schema is managed by embedded golang-migrate migrations applied at open.
type Archive struct {
	db *sql.DB
}

// OpenArchive connects to PostgreSQL, runs pending migrations, and returns
// a ready Archive.
func OpenArchive(dsn string) (*Archive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("persist: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: ping postgres: %w", err)
	}

	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: load migrations: %w", err)
	}
	drv, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		db.Close()
		return nil, fmt.Errorf("persist: migrate: %w", err)
	}

	return &Archive{db: db}, nil
}

// InsertGameResult writes one finished game as a single row with both
// players' outcomes.
func (a *Archive) InsertGameResult(ctx context.Context, res GameResult) error {
	const q = `
		INSERT INTO game_results (
			game_id, area, started_at_ms, ended_at_ms,
			p1_player_id, p1_name, p1_is_bot, p1_score, p1_opt_bitmap, p1_old_elo, p1_new_elo, p1_new_level,
			p2_player_id, p2_name, p2_is_bot, p2_score, p2_opt_bitmap, p2_old_elo, p2_new_elo, p2_new_level
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		ON CONFLICT (game_id) DO NOTHING`

	p1, p2 := res.Players[0], res.Players[1]
	_, err := a.db.ExecContext(ctx, q,
		res.GameID, res.Area, res.StartedAt, res.EndedAt,
		p1.PlayerID, p1.Name, p1.IsBot, p1.Score, p1.OptBitmap, p1.OldElo, p1.NewElo, p1.NewLevel,
		p2.PlayerID, p2.Name, p2.IsBot, p2.Score, p2.OptBitmap, p2.OldElo, p2.NewElo, p2.NewLevel,
	)
	if err != nil {
		return fmt.Errorf("persist: insert game result: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (a *Archive) Close() error {
	return a.db.Close()
}
