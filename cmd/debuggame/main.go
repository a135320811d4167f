// Command debuggame plays one bot-only round at full speed, prints every
// board and writes a replay. With -replay it prints a stored replay instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/snekcord/ai"
	"github.com/brensch/snekcord/game"
	"github.com/brensch/snekcord/logging"
	"github.com/brensch/snekcord/render"
	"github.com/brensch/snekcord/replay"
	"github.com/brensch/snekcord/session"
	"github.com/brensch/snekcord/store"
)

// printer writes each tick's board to stdout and stops the round after a
// tick limit.
type printer struct {
	quiet    bool
	maxTicks int
	cancel   context.CancelFunc
}

func (p *printer) Observe(_ string, snap game.Snapshot) {
	if !p.quiet || snap.GameOver {
		fmt.Println(render.Board(snap))
	}
	if p.maxTicks > 0 && snap.TickCount >= p.maxTicks && !snap.GameOver {
		fmt.Printf("tick limit %d reached\n", p.maxTicks)
		p.cancel()
	}
}

func main() {
	size := flag.Int("size", 12, "Board side in cells")
	bots := flag.Int("bots", 2, "Number of bots")
	difficulty := flag.String("difficulty", "hard", "easy, medium or hard")
	seed := flag.Int64("seed", 0, "Random seed (0 uses the clock)")
	maxTicks := flag.Int("max-ticks", 2000, "Stop after this many ticks (0 = no limit)")
	outDir := flag.String("out-dir", "debug_games", "Replay output directory (empty disables)")
	dbPath := flag.String("db", "", "Optional sqlite database to record the match in")
	replayPath := flag.String("replay", "", "Print a stored replay file and exit")
	quiet := flag.Bool("quiet", false, "Only print the final board")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	logger, err := logging.New(os.Stderr, "text", *logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if *replayPath != "" {
		if err := printReplay(*replayPath); err != nil {
			logger.Error("print replay", "path", *replayPath, "err", err)
			os.Exit(1)
		}
		return
	}

	diff, err := ai.ParseDifficulty(*difficulty)
	if err != nil {
		logger.Error("bad difficulty", "err", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	sess, err := session.New("", session.Options{
		Mode:       game.ModeMultiPlayer,
		Difficulty: diff,
		GridSize:   *size,
		Bots:       *bots,
		Seed:       *seed,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("new session", "err", err)
		os.Exit(1)
	}
	sess.AddObserver(&printer{quiet: *quiet, maxTicks: *maxTicks, cancel: cancel})

	var rec *replay.Recorder
	if *outDir != "" {
		rec = replay.NewRecorder(*outDir, logger)
		sess.AddObserver(rec)
	}
	if *dbPath != "" {
		db, err := store.Open(*dbPath)
		if err != nil {
			logger.Error("open db", "path", *dbPath, "err", err)
			os.Exit(1)
		}
		defer db.Close()
		sess.AddObserver(store.NewMatchRecorder(db, logger))
	}

	start := time.Now()
	if err := sess.Start(ctx); err != nil {
		logger.Error("start", "err", err)
		os.Exit(1)
	}
	<-sess.Done()
	sess.Close()

	snap := sess.Snapshot()
	logger.Info("round finished",
		"ticks", snap.TickCount,
		"winner", snap.Winner,
		"game_over", snap.GameOver,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	if rec != nil {
		if err := rec.Close(); err != nil {
			logger.Error("flush replay", "err", err)
		}
		for _, path := range rec.Written() {
			abs, _ := filepath.Abs(path)
			logger.Info("replay written", "path", abs)
		}
	}
}

func printReplay(path string) error {
	rows, err := replay.ReadFile(path)
	if err != nil {
		return err
	}
	for _, row := range rows {
		fmt.Println(render.Board(row.Snapshot()))
	}
	slog.Info("replay printed", "path", path, "ticks", len(rows))
	return nil
}
