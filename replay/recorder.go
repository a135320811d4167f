package replay

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/brensch/snekcord/game"
	"github.com/brensch/snekcord/session"
)

// maxRowsPerRound bounds memory for rounds that never end.
const maxRowsPerRound = 50_000

// Recorder buffers the ticks of each running round and writes one file per
// finished round into dir.
type Recorder struct {
	dir string
	log *slog.Logger

	mu      sync.Mutex
	pending map[string][]TurnRow
	written []string
}

func NewRecorder(dir string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{dir: dir, log: logger, pending: make(map[string][]TurnRow)}
}

func (r *Recorder) Observe(sessionID string, snap game.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := r.pending[sessionID]
	if len(rows) > 0 && rows[len(rows)-1].Tick == int32(snap.TickCount) {
		// Ticks after game over repeat the final state.
		return
	}
	if snap.TickCount == 1 {
		rows = rows[:0]
	}
	if len(rows) >= maxRowsPerRound {
		return
	}
	r.pending[sessionID] = append(rows, RowFromSnapshot(sessionID, 0, snap))
}

func (r *Recorder) RoundOver(res session.Result) {
	r.mu.Lock()
	rows := r.pending[res.SessionID]
	delete(r.pending, res.SessionID)
	r.mu.Unlock()

	if len(rows) == 0 {
		return
	}
	for i := range rows {
		rows[i].Round = int32(res.Round)
	}
	path := filepath.Join(r.dir, fmt.Sprintf("%s_r%03d.parquet", res.SessionID, res.Round))
	if err := WriteFile(path, rows); err != nil {
		r.log.Error("write replay failed", "session", res.SessionID, "round", res.Round, "err", err)
		return
	}

	r.mu.Lock()
	r.written = append(r.written, path)
	r.mu.Unlock()
	r.log.Info("replay written", "session", res.SessionID, "round", res.Round, "ticks", len(rows), "path", path)
}

// Written lists the files produced so far.
func (r *Recorder) Written() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.written...)
}

// Close writes unfinished rounds with a "_partial" suffix.
func (r *Recorder) Close() error {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[string][]TurnRow)
	r.mu.Unlock()

	var firstErr error
	for id, rows := range pending {
		if len(rows) == 0 {
			continue
		}
		path := filepath.Join(r.dir, id+"_partial.parquet")
		if err := WriteFile(path, rows); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		r.mu.Lock()
		r.written = append(r.written, path)
		r.mu.Unlock()
	}
	return firstErr
}

func sortedIDs(snap game.Snapshot) []string {
	ids := make([]string, 0, len(snap.Snakes))
	for id := range snap.Snakes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
