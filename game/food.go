// food.go implements food placement.

package game

// SpawnFood drops one food item on a cell chosen uniformly from every cell
// not covered by a snake (dead ones included) or existing food. A full board
// is left as is.
func (g *Game) SpawnFood() {
	occupied := make(map[Point]bool, len(g.food)+4*len(g.snakes))
	for _, s := range g.snakes {
		for _, p := range s.Body {
			occupied[p] = true
		}
	}
	for _, f := range g.food {
		occupied[f] = true
	}

	free := make([]Point, 0, g.size*g.size-len(occupied))
	for y := 0; y < g.size; y++ {
		for x := 0; x < g.size; x++ {
			p := Point{X: x, Y: y}
			if !occupied[p] {
				free = append(free, p)
			}
		}
	}
	if len(free) == 0 {
		return
	}
	g.food = append(g.food, free[g.rng.Intn(len(free))])
}

// PlaceFood puts food on p regardless of occupancy. Out-of-board points are
// ignored. It exists for scripted scenarios and tests.
func (g *Game) PlaceFood(p Point) {
	if p.X < 0 || p.X >= g.size || p.Y < 0 || p.Y >= g.size {
		return
	}
	g.food = append(g.food, p)
}

// ClearFood removes every food item.
func (g *Game) ClearFood() {
	g.food = g.food[:0]
}

// eat consumes at most one food item under s's head, first in food order.
func (g *Game) eat(s *Snake) bool {
	head := s.Head()
	for i, f := range g.food {
		if f != head {
			continue
		}
		g.food = append(g.food[:i], g.food[i+1:]...)
		s.Grow()
		g.SpawnFood()
		return true
	}
	return false
}
