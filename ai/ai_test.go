package ai

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/brensch/snekcord/game"
)

type fakeBoard struct {
	size   int
	snakes map[string]game.SnakeView
	food   []game.Point
}

func (b *fakeBoard) GridSize() int { return b.size }

func (b *fakeBoard) Snake(id string) (game.SnakeView, bool) {
	v, ok := b.snakes[id]
	return v, ok
}

func (b *fakeBoard) Food() []game.Point { return b.food }

func boardWith(head game.Point, dir game.Direction, food ...game.Point) *fakeBoard {
	return &fakeBoard{
		size: 20,
		snakes: map[string]game.SnakeView{
			"ai": {ID: "ai", Body: []game.Point{head}, Alive: true, Direction: dir},
		},
		food: food,
	}
}

func mustController(t *testing.T, b Board, d Difficulty, seed int64) *Controller {
	t.Helper()
	c, err := New(b, "ai", d, rand.New(rand.NewSource(seed)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestSeek_LargerAxisWins(t *testing.T) {
	cases := []struct {
		name       string
		head, food game.Point
		want       game.Direction
	}{
		{"right", game.Point{X: 2, Y: 5}, game.Point{X: 8, Y: 6}, game.Right},
		{"left", game.Point{X: 8, Y: 5}, game.Point{X: 2, Y: 6}, game.Left},
		{"down", game.Point{X: 5, Y: 2}, game.Point{X: 6, Y: 8}, game.Down},
		{"up", game.Point{X: 5, Y: 8}, game.Point{X: 6, Y: 2}, game.Up},
		{"tie goes vertical", game.Point{X: 4, Y: 4}, game.Point{X: 7, Y: 7}, game.Down},
		{"tie goes vertical up", game.Point{X: 4, Y: 4}, game.Point{X: 1, Y: 1}, game.Up},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Seek(tc.head, tc.food, 20); got != tc.want {
				t.Fatalf("Seek(%+v,%+v)=%s want=%s", tc.head, tc.food, got, tc.want)
			}
		})
	}
}

func TestSeek_WrapsTheShortWay(t *testing.T) {
	// dx=17 on a 20 board is 3 cells to the left through the edge.
	if got := Seek(game.Point{X: 1, Y: 1}, game.Point{X: 18, Y: 1}, 20); got != game.Left {
		t.Fatalf("got=%s want=left", got)
	}
	if got := Seek(game.Point{X: 18, Y: 1}, game.Point{X: 1, Y: 1}, 20); got != game.Right {
		t.Fatalf("got=%s want=right", got)
	}
	if got := Seek(game.Point{X: 3, Y: 0}, game.Point{X: 3, Y: 19}, 20); got != game.Up {
		t.Fatalf("got=%s want=up", got)
	}
	// Exactly half the board is not wrapped.
	if got := Seek(game.Point{X: 0, Y: 0}, game.Point{X: 10, Y: 0}, 20); got != game.Right {
		t.Fatalf("got=%s want=right", got)
	}
}

func TestNextMove_HardIsDeterministic(t *testing.T) {
	b := boardWith(game.Point{X: 2, Y: 5}, game.Up, game.Point{X: 8, Y: 6})
	c := mustController(t, b, Hard, 1)
	for i := 0; i < 50; i++ {
		d, ok := c.NextMove()
		if !ok || d != game.Right {
			t.Fatalf("iteration %d: got=%s,%v want=right,true", i, d, ok)
		}
	}
}

func TestNextMove_MissingOrDeadSnake(t *testing.T) {
	b := boardWith(game.Point{X: 2, Y: 5}, game.Up, game.Point{X: 8, Y: 6})
	c, err := New(b, "nobody", Hard, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := c.NextMove(); ok {
		t.Fatalf("expected no move for a missing snake")
	}

	v := b.snakes["ai"]
	v.Alive = false
	b.snakes["ai"] = v
	if _, ok := mustController(t, b, Hard, 1).NextMove(); ok {
		t.Fatalf("expected no move for a dead snake")
	}
}

func TestNextMove_NoFoodKeepsDirection(t *testing.T) {
	for _, d := range []Difficulty{Easy, Medium, Hard} {
		b := boardWith(game.Point{X: 2, Y: 5}, game.Left)
		got, ok := mustController(t, b, d, 3).NextMove()
		if !ok || got != game.Left {
			t.Fatalf("%s: got=%s,%v want=left,true", d, got, ok)
		}
	}
}

func TestNextMove_EasyNeverReverses(t *testing.T) {
	b := boardWith(game.Point{X: 2, Y: 5}, game.Up, game.Point{X: 2, Y: 15})
	c := mustController(t, b, Easy, 7)
	seen := map[game.Direction]int{}
	for i := 0; i < 600; i++ {
		d, ok := c.NextMove()
		if !ok {
			t.Fatalf("expected a move")
		}
		if d == game.Down {
			t.Fatalf("easy controller reversed")
		}
		seen[d]++
	}
	for _, d := range []game.Direction{game.Up, game.Left, game.Right} {
		if seen[d] == 0 {
			t.Fatalf("direction %s never chosen: %v", d, seen)
		}
	}
}

func TestNextMove_MediumMostlySeeks(t *testing.T) {
	// Seeking says right; the random branch picks right a third of the time.
	b := boardWith(game.Point{X: 2, Y: 5}, game.Up, game.Point{X: 8, Y: 6})
	c := mustController(t, b, Medium, 11)
	const trials = 5000
	right := 0
	for i := 0; i < trials; i++ {
		d, ok := c.NextMove()
		if !ok {
			t.Fatalf("expected a move")
		}
		if d == game.Down {
			t.Fatalf("medium controller reversed")
		}
		if d == game.Right {
			right++
		}
	}
	frac := float64(right) / trials
	t.Logf("medium chose right %.3f of the time", frac)
	if frac < 0.72 || frac > 0.88 {
		t.Fatalf("right fraction=%.3f want about 0.8", frac)
	}
}

func TestNextMove_TargetsNearestFood(t *testing.T) {
	b := boardWith(game.Point{X: 10, Y: 10}, game.Left,
		game.Point{X: 2, Y: 10}, game.Point{X: 10, Y: 13})
	d, ok := mustController(t, b, Hard, 1).NextMove()
	if !ok || d != game.Down {
		t.Fatalf("got=%s,%v want=down,true", d, ok)
	}
}

func TestNew_RejectsUnknownDifficulty(t *testing.T) {
	if _, err := New(boardWith(game.Point{}, game.Up), "ai", Difficulty(7), nil); !errors.Is(err, ErrUnknownDifficulty) {
		t.Fatalf("err=%v want=%v", err, ErrUnknownDifficulty)
	}
	if _, err := ParseDifficulty("impossible"); !errors.Is(err, ErrUnknownDifficulty) {
		t.Fatalf("err=%v want=%v", err, ErrUnknownDifficulty)
	}
	for _, d := range []Difficulty{Easy, Medium, Hard} {
		got, err := ParseDifficulty(d.String())
		if err != nil || got != d {
			t.Fatalf("ParseDifficulty(%q)=%v,%v", d.String(), got, err)
		}
	}
}

func TestController_DrivesGameToFood(t *testing.T) {
	g := game.New(game.Config{Size: 20, Mode: game.ModeSinglePlayer, Rand: rand.New(rand.NewSource(5))})
	if err := g.AddPlayer(game.HumanID, "#00FF00"); err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	if err := g.AddPlayer("ai", "#0000FF"); err != nil {
		t.Fatalf("AddPlayer: %v", err)
	}
	g.PlaceFood(game.Point{X: 18, Y: 15})

	c, err := New(g, "ai", Hard, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 3; i++ {
		if d, ok := c.NextMove(); ok {
			g.HandleInput("ai", d)
		}
		g.Advance()
	}
	v, _ := g.Snake("ai")
	if v.Score != 1 {
		t.Fatalf("ai score=%d want=1 body=%v food=%v", v.Score, v.Body, g.Food())
	}
}
