// Package render draws snapshots as plain text.
package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/brensch/snekcord/game"
)

const (
	Empty = '.'
	Food  = '*'
)

// IDs returns snake ids sorted, which is also the order letters are handed
// out in.
func IDs(snap game.Snapshot) []string {
	ids := make([]string, 0, len(snap.Snakes))
	for id := range snap.Snakes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Symbol returns the body letter for the i-th snake; heads use the upper
// case form.
func Symbol(i int, head bool) byte {
	c := byte('a' + i%26)
	if head {
		c -= 'a' - 'A'
	}
	return c
}

// Grid returns the board as rows of cells, y=0 first. Dead snakes are left
// out.
func Grid(snap game.Snapshot) [][]byte {
	n := snap.GridSize
	grid := make([][]byte, n)
	for y := range grid {
		grid[y] = []byte(strings.Repeat(string(Empty), n))
	}
	for _, f := range snap.Food {
		if inside(f, n) {
			grid[f.Y][f.X] = Food
		}
	}
	for i, id := range IDs(snap) {
		v := snap.Snakes[id]
		if !v.Alive {
			continue
		}
		// Tail first so the head wins when segments overlap.
		for j := len(v.Body) - 1; j >= 0; j-- {
			p := v.Body[j]
			if inside(p, n) {
				grid[p.Y][p.X] = Symbol(i, j == 0)
			}
		}
	}
	return grid
}

// Board renders the grid followed by one status line per snake.
func Board(snap game.Snapshot) string {
	var b strings.Builder
	for _, row := range Grid(snap) {
		b.Write(row)
		b.WriteByte('\n')
	}
	b.WriteString(Status(snap))
	return b.String()
}

// Status summarises tick, scores and outcome.
func Status(snap game.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tick %d", snap.TickCount)
	for i, id := range IDs(snap) {
		v := snap.Snakes[id]
		state := "alive"
		if !v.Alive {
			state = "dead"
		}
		fmt.Fprintf(&b, " | %c %s %d %s", Symbol(i, true), id, v.Score, state)
	}
	b.WriteByte('\n')
	if snap.GameOver {
		if snap.Winner != "" {
			fmt.Fprintf(&b, "game over: %s wins\n", snap.Winner)
		} else {
			b.WriteString("game over: no winner\n")
		}
	}
	return b.String()
}

func inside(p game.Point, n int) bool {
	return p.X >= 0 && p.X < n && p.Y >= 0 && p.Y < n
}
