// Package session runs games for connected players.
//
// A Session is the only path to its game.Game: every input, tick and
// snapshot goes through the session mutex, so one engine never sees two
// mutations at once.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/brensch/snekcord/ai"
	"github.com/brensch/snekcord/game"
	"github.com/brensch/snekcord/loop"
	"github.com/google/uuid"
)

const (
	// BotID is the opponent in single-player sessions.
	BotID = "ai"

	// DefaultMaxPlayers matches the two spawn points.
	DefaultMaxPlayers = 2
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrFull             = errors.New("session is full")
	ErrChannelBusy      = errors.New("channel already has a game")
	ErrNotEnoughPlayers = errors.New("not enough players to start")
	ErrRunning          = errors.New("round already running")
	ErrRoundOver        = errors.New("round is over, send restart")
	ErrUnknownCommand   = errors.New("unknown command")
)

// Options configures a session.
type Options struct {
	Mode       game.Mode
	Difficulty ai.Difficulty
	GridSize   int
	MaxPlayers int

	// Rate is ticks per second; <= 0 runs unthrottled.
	Rate int

	// Bots is the number of computer snakes added to a multiplayer round.
	Bots int

	// ChannelID ties the session to a chat channel, if any.
	ChannelID string

	// Seed fixes randomness; zero seeds from the clock.
	Seed int64

	Logger *slog.Logger
}

// Participant is a snake owner: a connected human or a bot.
type Participant struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
	Bot   bool   `json:"bot"`
}

// Observer receives the snapshot produced by every tick.
type Observer interface {
	Observe(sessionID string, snap game.Snapshot)
}

// RoundObserver is told once when a round ends.
type RoundObserver interface {
	RoundOver(res Result)
}

// Result summarises a finished round.
type Result struct {
	SessionID  string
	Round      int
	Mode       game.Mode
	Difficulty ai.Difficulty
	GridSize   int
	Winner     string
	Ticks      int
	StartedAt  time.Time
	EndedAt    time.Time
	Players    []PlayerResult
}

type PlayerResult struct {
	Participant
	Score int
	Alive bool
}

// Session owns one game, its bots and the loop driving it.
type Session struct {
	ID        string
	ChannelID string
	CreatedAt time.Time

	opts   Options
	log    *slog.Logger
	driver *loop.Driver

	mu           sync.Mutex
	game         *game.Game
	rng          *rand.Rand
	participants []Participant
	claimed      map[string]bool
	bots         []*ai.Controller
	round        int
	started      bool
	startedAt    time.Time
	reported     bool

	obsMu     sync.RWMutex
	observers []Observer
}

// New builds a session with a fresh board. Single-player sessions already
// hold the human and the bot; multiplayer sessions wait for Join.
func New(id string, opts Options) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if opts.MaxPlayers <= 0 {
		opts.MaxPlayers = DefaultMaxPlayers
	}
	if !opts.Difficulty.Valid() {
		return nil, fmt.Errorf("%w: %d", ai.ErrUnknownDifficulty, opts.Difficulty)
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rng := rand.New(rand.NewSource(seed))
	s := &Session{
		ID:        id,
		ChannelID: opts.ChannelID,
		CreatedAt: time.Now(),
		opts:      opts,
		log:       logger.With("session", id),
		rng:       rng,
		claimed:   make(map[string]bool),
		game:      game.New(game.Config{Size: opts.GridSize, Mode: opts.Mode, Rand: rng}),
	}
	s.driver = loop.NewDriver(loop.Period(opts.Rate), s)
	s.game.Reset()

	if opts.Mode == game.ModeSinglePlayer {
		if err := s.addLocked(Participant{ID: game.HumanID, Name: "Player", Color: ColorGreen}); err != nil {
			return nil, err
		}
		if err := s.addLocked(Participant{ID: BotID, Name: "AI", Color: ColorBlue, Bot: true}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Session) Mode() game.Mode { return s.opts.Mode }

func (s *Session) Difficulty() ai.Difficulty { return s.opts.Difficulty }

// AddObserver registers o for every following tick.
func (s *Session) AddObserver(o Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, o)
}

// addLocked adds p to the game and, for bots, creates its controller.
func (s *Session) addLocked(p Participant) error {
	if err := s.game.AddPlayer(p.ID, p.Color); err != nil {
		return err
	}
	s.participants = append(s.participants, p)
	if p.Bot {
		c, err := ai.New(s.game, p.ID, s.opts.Difficulty, s.rng)
		if err != nil {
			return err
		}
		s.bots = append(s.bots, c)
	}
	return nil
}

// Join hands a snake to a human. In single-player sessions that is the
// pre-made "player" snake; in multiplayer a new snake is added while the
// round has not started.
func (s *Session) Join(name string) (Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.Mode == game.ModeSinglePlayer {
		if s.claimed[game.HumanID] {
			return Participant{}, ErrFull
		}
		s.claimed[game.HumanID] = true
		for i := range s.participants {
			if s.participants[i].ID == game.HumanID && name != "" {
				s.participants[i].Name = name
			}
		}
		return s.participantLocked(game.HumanID), nil
	}

	if s.started {
		return Participant{}, ErrRunning
	}
	if s.humansLocked() >= s.opts.MaxPlayers {
		return Participant{}, ErrFull
	}
	if name == "" {
		name = "Player"
	}
	p := Participant{
		ID:    uuid.NewString(),
		Name:  name,
		Color: PaletteColor(len(s.participants)),
	}
	if err := s.addLocked(p); err != nil {
		return Participant{}, err
	}
	s.claimed[p.ID] = true
	s.log.Info("player joined", "player", p.ID, "name", p.Name)
	return p, nil
}

// Leave releases a human's snake. Before the round starts the snake is
// taken off the board; afterwards it keeps moving uncontrolled.
func (s *Session) Leave(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.claimed[id] {
		return
	}
	delete(s.claimed, id)
	s.log.Info("player left", "player", id)

	if s.started || s.opts.Mode == game.ModeSinglePlayer {
		return
	}
	kept := s.participants[:0]
	for _, p := range s.participants {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	s.rebuildLocked(kept)
}

// Connected returns the number of humans currently holding a snake.
func (s *Session) Connected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claimed)
}

// Input steers a participant's snake.
func (s *Session) Input(id string, d game.Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.game.HandleInput(id, d)
}

// Start begins ticking. Multiplayer rounds need at least two snakes. A
// finished round is not started again; that is Restart's job.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		over := s.game.GameOver()
		s.mu.Unlock()
		if over {
			return ErrRoundOver
		}
		return ErrRunning
	}
	if s.opts.Mode == game.ModeMultiPlayer {
		if len(s.participants)+s.opts.Bots < 2 {
			s.mu.Unlock()
			return ErrNotEnoughPlayers
		}
		for i := 0; i < s.opts.Bots; i++ {
			bot := Participant{
				ID:    fmt.Sprintf("bot-%d", i+1),
				Name:  fmt.Sprintf("Bot %d", i+1),
				Color: PaletteColor(len(s.participants)),
				Bot:   true,
			}
			if err := s.addLocked(bot); err != nil {
				s.mu.Unlock()
				return err
			}
		}
	}
	s.started = true
	s.startedAt = time.Now()
	s.round++
	s.reported = false
	round := s.round
	s.mu.Unlock()

	if err := s.driver.Start(ctx); err != nil {
		return err
	}
	s.log.Info("round started", "round", round, "mode", s.opts.Mode.String(), "difficulty", s.opts.Difficulty.String())
	return nil
}

// Restart stops the current round, clears the board, puts every participant
// back in join order and starts again.
func (s *Session) Restart(ctx context.Context) error {
	s.driver.Stop()

	s.mu.Lock()
	kept := make([]Participant, 0, len(s.participants))
	for _, p := range s.participants {
		// Multiplayer bots are re-added by Start.
		if p.Bot && s.opts.Mode == game.ModeMultiPlayer {
			continue
		}
		kept = append(kept, p)
	}
	s.rebuildLocked(kept)
	s.started = false
	s.mu.Unlock()

	return s.Start(ctx)
}

// rebuildLocked resets the board and re-adds participants in order.
func (s *Session) rebuildLocked(participants []Participant) {
	list := append([]Participant(nil), participants...)
	s.game.Reset()
	s.participants = s.participants[:0]
	s.bots = s.bots[:0]
	for _, p := range list {
		if err := s.addLocked(p); err != nil {
			s.log.Warn("re-adding participant failed", "player", p.ID, "err", err)
		}
	}
}

// Command runs a remote command by name.
func (s *Session) Command(ctx context.Context, name string) error {
	switch name {
	case "start":
		return s.Start(ctx)
	case "restart":
		return s.Restart(ctx)
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
}

// Step runs one tick: bot moves, advance, then fan-out of the snapshot.
func (s *Session) Step() bool {
	s.mu.Lock()
	for _, c := range s.bots {
		if d, ok := c.NextMove(); ok {
			s.game.HandleInput(c.ID(), d)
		}
	}
	s.game.Advance()
	snap := s.game.State()

	var res *Result
	if snap.GameOver && !s.reported {
		s.reported = true
		r := s.resultLocked(snap)
		res = &r
	}
	s.mu.Unlock()

	s.obsMu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.obsMu.RUnlock()

	for _, o := range observers {
		o.Observe(s.ID, snap)
	}
	if res != nil {
		s.log.Info("round over", "round", res.Round, "winner", res.Winner, "ticks", res.Ticks)
		for _, o := range observers {
			if ro, ok := o.(RoundObserver); ok {
				ro.RoundOver(*res)
			}
		}
	}
	return snap.GameOver
}

func (s *Session) resultLocked(snap game.Snapshot) Result {
	res := Result{
		SessionID:  s.ID,
		Round:      s.round,
		Mode:       s.opts.Mode,
		Difficulty: s.opts.Difficulty,
		GridSize:   snap.GridSize,
		Winner:     snap.Winner,
		Ticks:      snap.TickCount,
		StartedAt:  s.startedAt,
		EndedAt:    time.Now(),
	}
	for _, p := range s.participants {
		v := snap.Snakes[p.ID]
		res.Players = append(res.Players, PlayerResult{Participant: p, Score: v.Score, Alive: v.Alive})
	}
	return res
}

// Snapshot returns the current state.
func (s *Session) Snapshot() game.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game.State()
}

// Participants returns everyone with a snake, in join order.
func (s *Session) Participants() []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Participant(nil), s.participants...)
}

// Running reports whether the loop is ticking.
func (s *Session) Running() bool {
	return s.driver.Running()
}

// Done is closed when the current round's loop exits.
func (s *Session) Done() <-chan struct{} {
	return s.driver.Done()
}

// Close stops the loop.
func (s *Session) Close() {
	s.driver.Stop()
}

func (s *Session) participantLocked(id string) Participant {
	for _, p := range s.participants {
		if p.ID == id {
			return p
		}
	}
	return Participant{}
}

func (s *Session) humansLocked() int {
	n := 0
	for _, p := range s.participants {
		if !p.Bot {
			n++
		}
	}
	return n
}

// Info is a listing entry.
type Info struct {
	ID         string    `json:"id"`
	Mode       string    `json:"mode"`
	Difficulty string    `json:"difficulty"`
	ChannelID  string    `json:"channelId,omitempty"`
	Players    int       `json:"players"`
	Connected  int       `json:"connected"`
	Running    bool      `json:"running"`
	GameOver   bool      `json:"gameOver"`
	Tick       int       `json:"tick"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	info := Info{
		ID:         s.ID,
		Mode:       s.opts.Mode.String(),
		Difficulty: s.opts.Difficulty.String(),
		ChannelID:  s.ChannelID,
		Players:    len(s.participants),
		Connected:  len(s.claimed),
		GameOver:   s.game.GameOver(),
		Tick:       s.game.Tick(),
		CreatedAt:  s.CreatedAt,
	}
	s.mu.Unlock()
	info.Running = s.driver.Running()
	return info
}
