package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/brensch/snekcord/game"
	"github.com/brensch/snekcord/session"
)

// MatchRecorder writes every finished round to the database.
type MatchRecorder struct {
	db      *DB
	log     *slog.Logger
	timeout time.Duration
}

func NewMatchRecorder(db *DB, logger *slog.Logger) *MatchRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatchRecorder{db: db, log: logger, timeout: 5 * time.Second}
}

// Observe ignores per-tick snapshots.
func (r *MatchRecorder) Observe(string, game.Snapshot) {}

func (r *MatchRecorder) RoundOver(res session.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	id, err := r.db.RecordMatch(ctx, res)
	if err != nil {
		r.log.Error("record match failed", "session", res.SessionID, "round", res.Round, "err", err)
		return
	}
	r.log.Info("match recorded", "session", res.SessionID, "round", res.Round, "match", id, "winner", res.Winner)
}
