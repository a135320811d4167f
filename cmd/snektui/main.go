// Command snektui is a terminal single-player game against the AI.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/brensch/snekcord/ai"
	"github.com/brensch/snekcord/game"
	"github.com/brensch/snekcord/logging"
	"github.com/brensch/snekcord/render"
	"github.com/brensch/snekcord/session"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	boardStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	emptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
	foodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)
	titleStyle = lipgloss.NewStyle().Bold(true)
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	overStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")).Bold(true)
)

// forwarder hands the newest snapshot to the UI, dropping stale ones.
type forwarder chan game.Snapshot

func (f forwarder) Observe(_ string, snap game.Snapshot) {
	for {
		select {
		case f <- snap:
			return
		default:
		}
		select {
		case <-f:
		default:
		}
	}
}

type snapMsg game.Snapshot

type errMsg struct{ err error }

type model struct {
	ctx        context.Context
	sess       *session.Session
	updates    forwarder
	snap       game.Snapshot
	difficulty ai.Difficulty
	err        error
}

func waitForUpdate(updates forwarder) tea.Cmd {
	return func() tea.Msg {
		return snapMsg(<-updates)
	}
}

func restart(ctx context.Context, sess *session.Session) tea.Cmd {
	return func() tea.Msg {
		if err := sess.Restart(ctx); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m model) Init() tea.Cmd {
	return waitForUpdate(m.updates)
}

var keyDirections = map[string]game.Direction{
	"up": game.Up, "w": game.Up, "k": game.Up,
	"down": game.Down, "s": game.Down, "j": game.Down,
	"left": game.Left, "a": game.Left, "h": game.Left,
	"right": game.Right, "d": game.Right, "l": game.Right,
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		key := msg.String()
		switch key {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.err = nil
			return m, restart(m.ctx, m.sess)
		}
		if d, ok := keyDirections[key]; ok {
			m.sess.Input(game.HumanID, d)
		}
	case snapMsg:
		m.snap = game.Snapshot(msg)
		return m, waitForUpdate(m.updates)
	case errMsg:
		m.err = msg.err
	}
	return m, nil
}

func (m model) View() string {
	if m.snap.GridSize == 0 {
		return "starting...\n"
	}

	styles := make(map[byte]lipgloss.Style)
	for i, id := range render.IDs(m.snap) {
		c := lipgloss.Color(m.snap.Snakes[id].Color)
		styles[render.Symbol(i, false)] = lipgloss.NewStyle().Foreground(c)
		styles[render.Symbol(i, true)] = lipgloss.NewStyle().Foreground(c).Bold(true)
	}

	var b strings.Builder
	for y, row := range render.Grid(m.snap) {
		if y > 0 {
			b.WriteByte('\n')
		}
		for _, cell := range row {
			switch cell {
			case render.Empty:
				b.WriteString(emptyStyle.Render("· "))
			case render.Food:
				b.WriteString(foodStyle.Render("● "))
			default:
				glyph := "▒▒"
				if cell >= 'A' && cell <= 'Z' {
					glyph = "██"
				}
				b.WriteString(styles[cell].Render(glyph))
			}
		}
	}

	human := m.snap.Snakes[game.HumanID]
	bot := m.snap.Snakes[session.BotID]
	out := titleStyle.Render(fmt.Sprintf("Snake vs AI (%s)", m.difficulty)) + "\n"
	out += boardStyle.Render(b.String()) + "\n"
	out += fmt.Sprintf("you %d   ai %d   tick %d\n", human.Score, bot.Score, m.snap.TickCount)
	if m.snap.GameOver {
		out += overStyle.Render(fmt.Sprintf("game over, you scored %d. press r to play again", human.Score)) + "\n"
	}
	if m.err != nil {
		out += fmt.Sprintf("error: %v\n", m.err)
	}
	out += helpStyle.Render("arrows/wasd move · r restart · q quit") + "\n"
	return out
}

func main() {
	size := flag.Int("size", game.DefaultGridSize, "Board side in cells")
	fps := flag.Int("fps", 10, "Ticks per second")
	difficulty := flag.String("difficulty", "medium", "easy, medium or hard")
	logFile := flag.String("log-file", "", "Write logs to this file (default: discard)")
	flag.Parse()

	var w io.Writer = io.Discard
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}
	logger, err := logging.New(w, "json", "debug")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	diff, err := ai.ParseDifficulty(*difficulty)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	sess, err := session.New("", session.Options{
		Mode:       game.ModeSinglePlayer,
		Difficulty: diff,
		GridSize:   *size,
		Rate:       *fps,
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	updates := make(forwarder, 1)
	sess.AddObserver(updates)
	if _, err := sess.Join("you"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sess.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer sess.Close()

	m := model{ctx: ctx, sess: sess, updates: updates, snap: sess.Snapshot(), difficulty: diff}
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
