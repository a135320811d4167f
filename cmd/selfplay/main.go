// Command selfplay runs bot-only rounds across a pool of workers at full
// speed, recording each round's replay and result.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brensch/snekcord/ai"
	"github.com/brensch/snekcord/game"
	"github.com/brensch/snekcord/logging"
	"github.com/brensch/snekcord/replay"
	"github.com/brensch/snekcord/session"
	"github.com/brensch/snekcord/store"
	tea "github.com/charmbracelet/bubbletea"
)

var (
	totalTicks atomic.Int64
	totalGames atomic.Int64
)

// GameUpdate reports one finished round.
type GameUpdate struct {
	WorkerID int
	Winner   string
	Ticks    int
	Aborted  bool
}

// tickCounter counts ticks and aborts rounds that run too long.
type tickCounter struct {
	max    int
	cancel context.CancelFunc
}

func (c *tickCounter) Observe(_ string, snap game.Snapshot) {
	totalTicks.Add(1)
	if c.max > 0 && snap.TickCount >= c.max && !snap.GameOver {
		c.cancel()
	}
}

type model struct {
	gamesPlayed int
	aborted     int
	wins        map[string]int
	ticks       int64
	startTime   time.Time
	recentGames []string
	updates     chan GameUpdate
}

func initialModel(updates chan GameUpdate) model {
	return model{
		startTime: time.Now(),
		wins:      make(map[string]int),
		updates:   updates,
	}
}

type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func waitForUpdate(updates chan GameUpdate) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return tea.Quit()
		}
		return u
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case TickMsg:
		m.ticks = totalTicks.Load()
		return m, tickCmd()
	case GameUpdate:
		m = m.record(msg)
		return m, waitForUpdate(m.updates)
	}
	return m, nil
}

func (m model) record(u GameUpdate) model {
	m.gamesPlayed++
	if u.Aborted {
		m.aborted++
	} else {
		winner := u.Winner
		if winner == "" {
			winner = "draw"
		}
		m.wins[winner]++
	}
	m.recentGames = append([]string{describe(u)}, m.recentGames...)
	if len(m.recentGames) > 10 {
		m.recentGames = m.recentGames[:10]
	}
	return m
}

func describe(u GameUpdate) string {
	switch {
	case u.Aborted:
		return fmt.Sprintf("Worker %d: aborted after %d ticks", u.WorkerID, u.Ticks)
	case u.Winner == "":
		return fmt.Sprintf("Worker %d: draw, %d ticks", u.WorkerID, u.Ticks)
	}
	return fmt.Sprintf("Worker %d: winner %s, %d ticks", u.WorkerID, u.Winner, u.Ticks)
}

func (m model) View() string {
	duration := time.Since(m.startTime)
	gamesPerSec, ticksPerSec := 0.0, 0.0
	if duration.Seconds() >= 1 {
		gamesPerSec = float64(m.gamesPlayed) / duration.Seconds()
		ticksPerSec = float64(m.ticks) / duration.Seconds()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Games Played: %d (%d aborted)\n", m.gamesPlayed, m.aborted)
	fmt.Fprintf(&b, "Total Ticks:  %d\n", m.ticks)
	fmt.Fprintf(&b, "Duration:     %s\n", duration.Round(time.Second))
	fmt.Fprintf(&b, "Games/Sec:    %.2f\n", gamesPerSec)
	fmt.Fprintf(&b, "Ticks/Sec:    %.2f\n\n", ticksPerSec)

	b.WriteString("Wins:\n")
	for id, n := range m.wins {
		fmt.Fprintf(&b, "  %-8s %d\n", id, n)
	}
	b.WriteString("\nRecent Games:\n")
	for _, g := range m.recentGames {
		b.WriteString(g + "\n")
	}
	b.WriteString("\nPress q to quit.\n")
	return b.String()
}

type options struct {
	size       int
	bots       int
	difficulty ai.Difficulty
	maxTicks   int
}

// playOne runs a single round to completion or to the tick limit.
func playOne(ctx context.Context, workerID int, opts options, logger *slog.Logger, observers []session.Observer) (GameUpdate, error) {
	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess, err := session.New("", session.Options{
		Mode:       game.ModeMultiPlayer,
		Difficulty: opts.difficulty,
		GridSize:   opts.size,
		Bots:       opts.bots,
		Logger:     logger,
	})
	if err != nil {
		return GameUpdate{}, err
	}
	for _, o := range observers {
		sess.AddObserver(o)
	}
	sess.AddObserver(&tickCounter{max: opts.maxTicks, cancel: cancel})

	if err := sess.Start(gctx); err != nil {
		return GameUpdate{}, err
	}
	<-sess.Done()
	sess.Close()

	snap := sess.Snapshot()
	return GameUpdate{
		WorkerID: workerID,
		Winner:   snap.Winner,
		Ticks:    snap.TickCount,
		Aborted:  !snap.GameOver,
	}, nil
}

func main() {
	workers := flag.Int("workers", 4, "Number of concurrent rounds")
	maxGames := flag.Int64("max-games", 100, "Stop after this many rounds (0 = run until interrupted)")
	size := flag.Int("size", 12, "Board side in cells")
	bots := flag.Int("bots", 2, "Bots per round")
	difficulty := flag.String("difficulty", "hard", "easy, medium or hard")
	maxTicks := flag.Int("max-ticks", 2000, "Abort rounds longer than this")
	outDir := flag.String("out-dir", "", "Replay output directory (empty disables)")
	dbPath := flag.String("db", "", "Optional sqlite database for results")
	useTUI := flag.Bool("tui", false, "Show a live dashboard instead of log lines")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	var logOut io.Writer = os.Stderr
	if *useTUI {
		logOut = io.Discard
	}
	logger, err := logging.New(logOut, "text", *logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	diff, err := ai.ParseDifficulty(*difficulty)
	if err != nil {
		logger.Error("bad difficulty", "err", err)
		os.Exit(2)
	}
	opts := options{size: *size, bots: *bots, difficulty: diff, maxTicks: *maxTicks}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	var observers []session.Observer
	var rec *replay.Recorder
	if *outDir != "" {
		rec = replay.NewRecorder(*outDir, logger)
		observers = append(observers, rec)
	}
	if *dbPath != "" {
		db, err := store.Open(*dbPath)
		if err != nil {
			logger.Error("open db", "path", *dbPath, "err", err)
			os.Exit(1)
		}
		defer db.Close()
		observers = append(observers, store.NewMatchRecorder(db, logger))
	}

	updates := make(chan GameUpdate, *workers)
	var workerWG sync.WaitGroup
	for i := 0; i < *workers; i++ {
		workerWG.Add(1)
		go func(workerID int) {
			defer workerWG.Done()
			for ctx.Err() == nil {
				u, err := playOne(ctx, workerID, opts, logger, observers)
				if err != nil {
					logger.Error("round failed", "worker", workerID, "err", err)
					return
				}
				if ctx.Err() != nil && u.Aborted {
					return
				}
				total := totalGames.Add(1)
				if *maxGames > 0 && total >= *maxGames {
					cancel()
				}
				select {
				case updates <- u:
				case <-ctx.Done():
				}
			}
		}(i)
	}
	go func() {
		workerWG.Wait()
		close(updates)
	}()

	final := initialModel(updates)
	if *useTUI {
		out, err := tea.NewProgram(final, tea.WithAltScreen()).Run()
		if err != nil {
			logger.Error("tui", "err", err)
		}
		if m, ok := out.(model); ok {
			final = m
		}
		cancel()
		for range updates {
		}
	} else {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
	loop:
		for {
			select {
			case u, ok := <-updates:
				if !ok {
					break loop
				}
				final = final.record(u)
				logger.Debug("round finished", "worker", u.WorkerID, "winner", u.Winner, "ticks", u.Ticks, "aborted", u.Aborted)
			case <-ticker.C:
				logger.Info("progress", "games", totalGames.Load(), "ticks", totalTicks.Load())
			}
		}
	}

	if rec != nil {
		if err := rec.Close(); err != nil {
			logger.Error("flush replays", "err", err)
		}
	}
	final.ticks = totalTicks.Load()
	fmt.Print(final.View())
}
