package render

import (
	"strings"
	"testing"

	"github.com/brensch/snekcord/game"
)

func TestBoard_DrawsSnakesAndFood(t *testing.T) {
	snap := game.Snapshot{
		GridSize: 4,
		Snakes: map[string]game.SnakeView{
			"ai":     {Body: []game.Point{{X: 3, Y: 3}}, Alive: true, Score: 1},
			"player": {Body: []game.Point{{X: 2, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 0}}, Alive: true, Score: 2},
			"ghost":  {Body: []game.Point{{X: 0, Y: 2}}, Alive: false},
		},
		Food:      []game.Point{{X: 1, Y: 2}},
		TickCount: 7,
		GameOver:  true,
		Winner:    "player",
	}
	got := Board(snap)
	t.Logf("\n%s", got)

	lines := strings.Split(got, "\n")
	want := []string{"ccC.", "....", ".*..", "...A"}
	for i, w := range want {
		if lines[i] != w {
			t.Fatalf("row %d=%q want=%q", i, lines[i], w)
		}
	}
	if !strings.Contains(got, "tick 7") || !strings.Contains(got, "player wins") || !strings.Contains(got, "B ghost 0 dead") {
		t.Fatalf("status missing from:\n%s", got)
	}
}

func TestSymbol(t *testing.T) {
	if Symbol(0, true) != 'A' || Symbol(1, false) != 'b' || Symbol(27, false) != 'b' {
		t.Fatalf("unexpected symbols")
	}
}
