package game

import (
	"fmt"
	"math/rand"
	"time"
)

// Config holds the fixed parameters of a game.
type Config struct {
	Size int
	Mode Mode
	// Rand drives food placement. Nil seeds one from the clock.
	Rand *rand.Rand
}

// Game is the simulation engine: the only writer of snake and food state.
type Game struct {
	size int
	mode Mode
	rng  *rand.Rand

	snakes map[string]*Snake
	order  []string // join order
	food   []Point

	gameOver bool
	winner   string
	tick     int
}

// New returns an empty game: no snakes and no food.
func New(cfg Config) *Game {
	size := cfg.Size
	if size <= 0 {
		size = DefaultGridSize
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Game{
		size:   size,
		mode:   cfg.Mode,
		rng:    rng,
		snakes: make(map[string]*Snake),
	}
}

// AddPlayer spawns a snake. The first snake starts at (N/4, N/4) and every
// later one at (3N/4, 3N/4); spawns are not checked for overlap.
func (g *Game) AddPlayer(id, color string) error {
	if id == "" {
		return ErrEmptyAgentID
	}
	if g.gameOver {
		return ErrGameOver
	}
	if _, ok := g.snakes[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, id)
	}

	spawn := Point{X: g.size / 4, Y: g.size / 4}
	if len(g.snakes) > 0 {
		spawn = Point{X: 3 * g.size / 4, Y: 3 * g.size / 4}
	}
	g.snakes[id] = newSnake(id, color, spawn)
	g.order = append(g.order, id)
	return nil
}

// HandleInput steers a living snake. Unknown or dead ids, and any input
// after the game is over, are ignored.
func (g *Game) HandleInput(id string, d Direction) {
	if g.gameOver {
		return
	}
	s, ok := g.snakes[id]
	if !ok || !s.Alive {
		return
	}
	s.ChangeDirection(d)
}

// Advance runs one tick: move, eat, collide, then decide whether the round
// is over. It does nothing once the game is over.
func (g *Game) Advance() {
	if g.gameOver {
		return
	}
	g.tick++

	for _, id := range g.order {
		g.snakes[id].Move(g.size)
	}

	for _, id := range g.order {
		if s := g.snakes[id]; s.Alive {
			g.eat(s)
		}
	}

	// Deaths are collected before any flag changes so iteration order
	// cannot matter.
	dead := make(map[string]bool)
	for _, id := range g.order {
		s := g.snakes[id]
		if !s.Alive {
			continue
		}
		if s.CollidesWithSelf() {
			dead[id] = true
			continue
		}
		for _, otherID := range g.order {
			other := g.snakes[otherID]
			if otherID == id || !other.Alive {
				continue
			}
			if s.CollidesWith(other) {
				dead[id] = true
				break
			}
		}
	}
	for id := range dead {
		g.snakes[id].Alive = false
	}

	g.checkGameOver()
}

func (g *Game) checkGameOver() {
	alive := 0
	last := ""
	for _, id := range g.order {
		if g.snakes[id].Alive {
			alive++
			last = id
		}
	}

	switch {
	case alive == 0:
		g.gameOver = true
		g.winner = ""
	case alive == 1 && g.mode == ModeMultiPlayer:
		g.gameOver = true
		g.winner = last
	case g.mode == ModeSinglePlayer:
		// The round is about the human; a surviving opponent is not
		// promoted to winner.
		if human, ok := g.snakes[HumanID]; !ok || !human.Alive {
			g.gameOver = true
		}
	}
}

// Reset empties the board and drops one food item. Snakes must be added
// again afterwards.
func (g *Game) Reset() {
	g.snakes = make(map[string]*Snake)
	g.order = nil
	g.food = nil
	g.gameOver = false
	g.winner = ""
	g.tick = 0
	g.SpawnFood()
}

// State returns a deep copy of the game.
func (g *Game) State() Snapshot {
	snakes := make(map[string]SnakeView, len(g.snakes))
	for id, s := range g.snakes {
		snakes[id] = s.view()
	}
	return Snapshot{
		GridSize:  g.size,
		Mode:      g.mode.String(),
		Snakes:    snakes,
		Food:      g.Food(),
		GameOver:  g.gameOver,
		Winner:    g.winner,
		TickCount: g.tick,
	}
}

func (g *Game) GridSize() int { return g.size }

func (g *Game) Mode() Mode { return g.mode }

func (g *Game) GameOver() bool { return g.gameOver }

func (g *Game) Tick() int { return g.tick }

// Winner returns the winning id, if any.
func (g *Game) Winner() (string, bool) {
	return g.winner, g.winner != ""
}

// Snake returns a copy of one snake.
func (g *Game) Snake(id string) (SnakeView, bool) {
	s, ok := g.snakes[id]
	if !ok {
		return SnakeView{}, false
	}
	return s.view(), true
}

// Food returns a copy of the food items in placement order.
func (g *Game) Food() []Point {
	out := make([]Point, len(g.food))
	copy(out, g.food)
	return out
}

// IDs returns snake ids in join order.
func (g *Game) IDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}
