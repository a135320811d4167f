package game

// initialGrowth is the number of segments a fresh snake grows into over its
// first ticks, giving it length 4.
const initialGrowth = 3

// Snake is one agent on the board. Dead snakes stay in the game, frozen,
// until Reset.
type Snake struct {
	ID            string
	Color         string
	Body          []Point
	Direction     Direction
	Score         int
	Alive         bool
	GrowthPending int
}

func newSnake(id, color string, spawn Point) *Snake {
	return &Snake{
		ID:            id,
		Color:         color,
		Body:          []Point{spawn},
		Direction:     Right,
		Alive:         true,
		GrowthPending: initialGrowth,
	}
}

func (s *Snake) Head() Point {
	return s.Body[0]
}

// Move advances the snake one cell on a size×size torus. Pending growth keeps
// the tail in place for this move.
func (s *Snake) Move(size int) {
	if !s.Alive || len(s.Body) == 0 {
		return
	}
	dx, dy := s.Direction.Delta()
	head := s.Body[0]
	next := Point{X: wrap(head.X+dx, size), Y: wrap(head.Y+dy, size)}

	s.Body = append(s.Body, Point{})
	copy(s.Body[1:], s.Body)
	s.Body[0] = next

	if s.GrowthPending > 0 {
		s.GrowthPending--
		return
	}
	s.Body = s.Body[:len(s.Body)-1]
}

// ChangeDirection turns the snake. Reversing onto itself is ignored.
func (s *Snake) ChangeDirection(d Direction) {
	if !d.Valid() || d == s.Direction.Opposite() {
		return
	}
	s.Direction = d
}

// Grow queues one segment and scores one food.
func (s *Snake) Grow() {
	s.GrowthPending++
	s.Score++
}

func (s *Snake) CollidesWithSelf() bool {
	if len(s.Body) < 2 {
		return false
	}
	head := s.Body[0]
	for _, p := range s.Body[1:] {
		if p == head {
			return true
		}
	}
	return false
}

// CollidesWith reports whether s's head lies on any segment of other,
// other's head included.
func (s *Snake) CollidesWith(other *Snake) bool {
	if len(s.Body) == 0 {
		return false
	}
	head := s.Body[0]
	for _, p := range other.Body {
		if p == head {
			return true
		}
	}
	return false
}

func (s *Snake) view() SnakeView {
	body := make([]Point, len(s.Body))
	copy(body, s.Body)
	return SnakeView{
		ID:        s.ID,
		Body:      body,
		Color:     s.Color,
		Score:     s.Score,
		Alive:     s.Alive,
		Direction: s.Direction,
	}
}

// wrap is the non-negative remainder of v modulo size.
func wrap(v, size int) int {
	v %= size
	if v < 0 {
		v += size
	}
	return v
}
