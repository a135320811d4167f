// Package replay archives every tick of a round to Parquet.
package replay

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/brensch/snekcord/game"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const schemaVersion = "snek_turn_v1"

// TurnRow is a single (session, round, tick) snapshot.
//
// Coordinates use the game convention: (0,0) is top-left.
type TurnRow struct {
	SessionID string `parquet:"session_id,dict"`
	Round     int32  `parquet:"round"`
	Tick      int32  `parquet:"tick"`
	GridSize  int32  `parquet:"grid_size"`
	Mode      string `parquet:"mode,dict"`

	FoodX []int32 `parquet:"food_x"`
	FoodY []int32 `parquet:"food_y"`

	Snakes []SnakeRow `parquet:"snakes"`

	GameOver bool   `parquet:"game_over"`
	Winner   string `parquet:"winner,dict,optional"`
}

type SnakeRow struct {
	ID    string `parquet:"id,dict"`
	Color string `parquet:"color,dict"`
	Alive bool   `parquet:"alive"`
	Score int32  `parquet:"score"`

	BodyX []int32 `parquet:"body_x"`
	BodyY []int32 `parquet:"body_y"`
}

// RowFromSnapshot flattens a snapshot. Snakes are stored in id order.
func RowFromSnapshot(sessionID string, round int, snap game.Snapshot) TurnRow {
	row := TurnRow{
		SessionID: sessionID,
		Round:     int32(round),
		Tick:      int32(snap.TickCount),
		GridSize:  int32(snap.GridSize),
		Mode:      snap.Mode,
		FoodX:     make([]int32, 0, len(snap.Food)),
		FoodY:     make([]int32, 0, len(snap.Food)),
		GameOver:  snap.GameOver,
		Winner:    snap.Winner,
	}
	for _, f := range snap.Food {
		row.FoodX = append(row.FoodX, int32(f.X))
		row.FoodY = append(row.FoodY, int32(f.Y))
	}
	for _, id := range sortedIDs(snap) {
		v := snap.Snakes[id]
		s := SnakeRow{
			ID:    id,
			Color: v.Color,
			Alive: v.Alive,
			Score: int32(v.Score),
			BodyX: make([]int32, 0, len(v.Body)),
			BodyY: make([]int32, 0, len(v.Body)),
		}
		for _, p := range v.Body {
			s.BodyX = append(s.BodyX, int32(p.X))
			s.BodyY = append(s.BodyY, int32(p.Y))
		}
		row.Snakes = append(row.Snakes, s)
	}
	return row
}

// Snapshot rebuilds the game snapshot stored in a row.
func (r TurnRow) Snapshot() game.Snapshot {
	snap := game.Snapshot{
		GridSize:  int(r.GridSize),
		Mode:      r.Mode,
		Snakes:    make(map[string]game.SnakeView, len(r.Snakes)),
		Food:      zipPoints(r.FoodX, r.FoodY),
		GameOver:  r.GameOver,
		Winner:    r.Winner,
		TickCount: int(r.Tick),
	}
	for _, s := range r.Snakes {
		snap.Snakes[s.ID] = game.SnakeView{
			ID:    s.ID,
			Body:  zipPoints(s.BodyX, s.BodyY),
			Color: s.Color,
			Score: int(s.Score),
			Alive: s.Alive,
		}
	}
	return snap
}

// WriteFile writes rows to outPath through a temp file and rename, so
// readers never see a partial file.
func WriteFile(outPath string, rows []TurnRow) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmpPath := outPath + ".tmp"
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", schemaVersion),
	); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename parquet: %w", err)
	}
	return nil
}

// ReadFile loads every row of a replay file.
func ReadFile(path string) ([]TurnRow, error) {
	rows, err := parquet.ReadFile[TurnRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	return rows, nil
}

func zipPoints(xs, ys []int32) []game.Point {
	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}
	out := make([]game.Point, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, game.Point{X: int(xs[i]), Y: int(ys[i])})
	}
	return out
}
