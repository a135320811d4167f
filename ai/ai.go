// Package ai steers a computer-controlled snake toward food.
//
// The controller only reads the board; the caller feeds its answer to
// Game.HandleInput.
package ai

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/brensch/snekcord/game"
)

var ErrUnknownDifficulty = errors.New("unknown difficulty")

// Difficulty selects how often the controller seeks food instead of
// wandering.
type Difficulty int8

const (
	Easy Difficulty = iota
	Medium
	Hard
)

// mediumSeekChance is the probability that a medium controller seeks food on
// a given tick.
const mediumSeekChance = 0.7

func (d Difficulty) Valid() bool {
	return d >= Easy && d <= Hard
}

func (d Difficulty) String() string {
	switch d {
	case Easy:
		return "easy"
	case Medium:
		return "medium"
	case Hard:
		return "hard"
	}
	return fmt.Sprintf("Difficulty(%d)", int8(d))
}

func ParseDifficulty(s string) (Difficulty, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy":
		return Easy, nil
	case "medium":
		return Medium, nil
	case "hard":
		return Hard, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownDifficulty, s)
}

// Board is the read-only view a controller needs. *game.Game satisfies it.
type Board interface {
	GridSize() int
	Snake(id string) (game.SnakeView, bool)
	Food() []game.Point
}

// Controller picks a direction for one snake each tick.
type Controller struct {
	board      Board
	id         string
	difficulty Difficulty
	rng        *rand.Rand
}

// New returns a controller for snake id. A nil rng is seeded from the clock.
func New(board Board, id string, difficulty Difficulty, rng *rand.Rand) (*Controller, error) {
	if !difficulty.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDifficulty, difficulty)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Controller{board: board, id: id, difficulty: difficulty, rng: rng}, nil
}

func (c *Controller) ID() string { return c.id }

func (c *Controller) Difficulty() Difficulty { return c.difficulty }

// NextMove returns the direction to feed to HandleInput. ok is false when the
// snake is missing or dead, in which case no input should be sent.
//
// When seeking, the target is the nearest food item rather than the first
// one. The engine keeps a single item on the board, so the two only differ on
// boards seeded with PlaceFood.
func (c *Controller) NextMove() (dir game.Direction, ok bool) {
	me, found := c.board.Snake(c.id)
	if !found || !me.Alive || len(me.Body) == 0 {
		return 0, false
	}
	target, hasFood := nearestFood(me.Head(), c.board.Food(), c.board.GridSize())
	if !hasFood {
		return me.Direction, true
	}

	switch c.difficulty {
	case Easy:
		return c.randomMove(me.Direction), true
	case Medium:
		if c.rng.Float64() < mediumSeekChance {
			return Seek(me.Head(), target, c.board.GridSize()), true
		}
		return c.randomMove(me.Direction), true
	default:
		return Seek(me.Head(), target, c.board.GridSize()), true
	}
}

// randomMove picks uniformly among the three directions that do not reverse
// current.
func (c *Controller) randomMove(current game.Direction) game.Direction {
	options := make([]game.Direction, 0, 3)
	for _, d := range game.Directions {
		if d != current.Opposite() {
			options = append(options, d)
		}
	}
	return options[c.rng.Intn(len(options))]
}

// Seek is the greedy food heuristic. Each axis delta is folded to the
// shorter way round the torus, then the snake moves along the axis with the
// larger delta; ties go vertical. Obstacles are not considered. The caller
// chooses which food item to aim at.
func Seek(head, food game.Point, size int) game.Direction {
	dx := wrapDelta(food.X-head.X, size)
	dy := wrapDelta(food.Y-head.Y, size)
	if abs(dx) > abs(dy) {
		if dx > 0 {
			return game.Right
		}
		return game.Left
	}
	if dy > 0 {
		return game.Down
	}
	return game.Up
}

// nearestFood returns the food item with the smallest wrapped Manhattan
// distance from head. Ties keep the earlier item.
func nearestFood(head game.Point, food []game.Point, size int) (game.Point, bool) {
	if len(food) == 0 {
		return game.Point{}, false
	}
	best := food[0]
	bestDist := distance(head, best, size)
	for _, f := range food[1:] {
		if d := distance(head, f, size); d < bestDist {
			best, bestDist = f, d
		}
	}
	return best, true
}

func distance(a, b game.Point, size int) int {
	return abs(wrapDelta(b.X-a.X, size)) + abs(wrapDelta(b.Y-a.Y, size))
}

// wrapDelta replaces d with the delta going the other way round when |d| is
// more than half the board.
func wrapDelta(d, size int) int {
	if 2*abs(d) <= size {
		return d
	}
	if d > 0 {
		return -(size - d)
	}
	return size + d
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
