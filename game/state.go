// Package game implements the toroidal Snake simulation.
//
// A Game owns every snake and every food item on an N×N wrapping board and
// advances them one tick at a time. It is synchronous and not safe for
// concurrent use; callers that share a Game across goroutines must serialize
// access themselves (see package session).
package game

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultGridSize is the board side used when Config.Size is zero.
const DefaultGridSize = 20

// HumanID is the agent that decides single-player termination.
const HumanID = "player"

var (
	ErrDuplicateAgent   = errors.New("agent already in game")
	ErrEmptyAgentID     = errors.New("agent id is empty")
	ErrGameOver         = errors.New("game is over")
	ErrInvalidDirection = errors.New("invalid direction")
	ErrUnknownMode      = errors.New("unknown game mode")
)

// Point is a board coordinate.
// (0,0) is the top-left cell; y grows downwards.
type Point struct {
	X int `json:"x" msgpack:"x"`
	Y int `json:"y" msgpack:"y"`
}

// Direction is one of the four unit moves.
type Direction int8

const (
	Up Direction = iota
	Down
	Left
	Right
)

// Directions lists every direction in declaration order.
var Directions = [4]Direction{Up, Down, Left, Right}

func (d Direction) Valid() bool {
	return d >= Up && d <= Right
}

// Delta returns the unit vector for d.
func (d Direction) Delta() (dx, dy int) {
	switch d {
	case Up:
		return 0, -1
	case Down:
		return 0, 1
	case Left:
		return -1, 0
	case Right:
		return 1, 0
	}
	return 0, 0
}

func (d Direction) Opposite() Direction {
	switch d {
	case Up:
		return Down
	case Down:
		return Up
	case Left:
		return Right
	case Right:
		return Left
	}
	return d
}

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return fmt.Sprintf("Direction(%d)", int8(d))
}

// ParseDirection accepts "up", "down", "left" or "right" in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up":
		return Up, nil
	case "down":
		return Down, nil
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

// Mode selects the termination rules.
type Mode int8

const (
	// ModeSinglePlayer is one human ("player") against opponents; the round
	// ends when the human dies.
	ModeSinglePlayer Mode = iota
	// ModeMultiPlayer ends when at most one agent is left alive.
	ModeMultiPlayer
)

func (m Mode) String() string {
	switch m {
	case ModeSinglePlayer:
		return "singleplayer"
	case ModeMultiPlayer:
		return "multiplayer"
	}
	return fmt.Sprintf("Mode(%d)", int8(m))
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "singleplayer", "single":
		return ModeSinglePlayer, nil
	case "multiplayer", "multi":
		return ModeMultiPlayer, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// SnakeView is the read-only projection of one snake.
type SnakeView struct {
	ID        string    `json:"-" msgpack:"-"`
	Body      []Point   `json:"body" msgpack:"body"`
	Color     string    `json:"color" msgpack:"color"`
	Score     int       `json:"score" msgpack:"score"`
	Alive     bool      `json:"alive" msgpack:"alive"`
	Direction Direction `json:"-" msgpack:"-"`
}

// Head returns the first body segment. The zero Point is returned for an
// empty body.
func (v SnakeView) Head() Point {
	if len(v.Body) == 0 {
		return Point{}
	}
	return v.Body[0]
}

// Snapshot is a deep copy of the game for renderers and telemetry. Nothing in
// it aliases engine memory.
type Snapshot struct {
	GridSize  int                  `json:"gridSize" msgpack:"gridSize"`
	Mode      string               `json:"mode" msgpack:"mode"`
	Snakes    map[string]SnakeView `json:"snakes" msgpack:"snakes"`
	Food      []Point              `json:"food" msgpack:"food"`
	GameOver  bool                 `json:"gameOver" msgpack:"gameOver"`
	Winner    string               `json:"winner,omitempty" msgpack:"winner,omitempty"`
	TickCount int                  `json:"tickCount" msgpack:"tickCount"`
}

// AliveCount returns the number of living snakes in the snapshot.
func (s Snapshot) AliveCount() int {
	n := 0
	for _, v := range s.Snakes {
		if v.Alive {
			n++
		}
	}
	return n
}
