// Package store keeps finished rounds in SQLite for the leaderboard and
// match history. Rounds are written once when they end and never loaded
// back into a session.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/brensch/snekcord/session"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
}

// MatchRow is one finished round.
type MatchRow struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"sessionId"`
	Round      int       `json:"round"`
	Mode       string    `json:"mode"`
	Difficulty string    `json:"difficulty"`
	Winner     string    `json:"winner,omitempty"`
	Ticks      int       `json:"ticks"`
	Duration   float64   `json:"duration"`
	CreatedAt  time.Time `json:"createdAt"`
}

// LeaderboardEntry aggregates every round a named human played.
type LeaderboardEntry struct {
	Name       string `json:"name"`
	Games      int    `json:"games"`
	Wins       int    `json:"wins"`
	BestScore  int    `json:"bestScore"`
	TotalScore int    `json:"totalScore"`
}

// Open opens (or creates) the database at path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite takes one writer at a time.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS matches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		round INTEGER NOT NULL DEFAULT 1,
		mode TEXT NOT NULL,
		difficulty TEXT NOT NULL DEFAULT '',
		winner TEXT NOT NULL DEFAULT '',
		ticks INTEGER NOT NULL DEFAULT 0,
		duration REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS match_players (
		match_id INTEGER NOT NULL REFERENCES matches(id),
		agent_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL DEFAULT '',
		bot INTEGER NOT NULL DEFAULT 0,
		score INTEGER NOT NULL DEFAULT 0,
		alive INTEGER NOT NULL DEFAULT 0,
		won INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (match_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_match_players_name ON match_players(name);
	CREATE INDEX IF NOT EXISTS idx_matches_session ON matches(session_id);
	`
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// RecordMatch stores a finished round and its players in one transaction.
func (db *DB) RecordMatch(ctx context.Context, res session.Result) (int64, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	duration := res.EndedAt.Sub(res.StartedAt).Seconds()
	if res.StartedAt.IsZero() || duration < 0 {
		duration = 0
	}
	out, err := tx.ExecContext(ctx,
		`INSERT INTO matches (session_id, round, mode, difficulty, winner, ticks, duration)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.SessionID, res.Round, res.Mode.String(), res.Difficulty.String(), res.Winner, res.Ticks, duration,
	)
	if err != nil {
		return 0, fmt.Errorf("insert match: %w", err)
	}
	matchID, err := out.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("match id: %w", err)
	}

	for _, p := range res.Players {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO match_players (match_id, agent_id, name, color, bot, score, alive, won)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			matchID, p.ID, p.Name, p.Color, p.Bot, p.Score, p.Alive, res.Winner != "" && p.ID == res.Winner,
		)
		if err != nil {
			return 0, fmt.Errorf("insert player %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return matchID, nil
}

// Leaderboard ranks humans by wins, then best score.
func (db *DB) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT name, COUNT(*), SUM(won), MAX(score), SUM(score)
		FROM match_players
		WHERE bot = 0 AND name != ''
		GROUP BY name
		ORDER BY SUM(won) DESC, MAX(score) DESC, name ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()

	var out []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Name, &e.Games, &e.Wins, &e.BestScore, &e.TotalScore); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecentMatches returns the newest rounds first.
func (db *DB) RecentMatches(ctx context.Context, limit int) ([]MatchRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, session_id, round, mode, difficulty, winner, ticks, duration, created_at
		FROM matches
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent matches: %w", err)
	}
	defer rows.Close()

	var out []MatchRow
	for rows.Next() {
		var m MatchRow
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Round, &m.Mode, &m.Difficulty, &m.Winner, &m.Ticks, &m.Duration, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Setting returns a stored value, or "" when the key is unset.
func (db *DB) Setting(ctx context.Context, key string) (string, error) {
	var v string
	err := db.conn.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("setting %s: %w", key, err)
	}
	return v, nil
}

func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}
