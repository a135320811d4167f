// Package config loads server settings from flags, the environment and an
// optional .env file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is everything cmd/snekd needs.
type Config struct {
	Listen  string
	BaseURL string

	// Host platform application settings.
	ClientID string
	GuildID  string

	GridSize     int
	CellSize     int
	FPS          int
	SyncInterval time.Duration

	MaxSessions int
	MaxPlayers  int
	Bots        int

	WebDir    string
	DBPath    string
	ReplayDir string
	JWTSecret string

	LogFormat string
	LogLevel  string
}

// Load reads .env (when present), then builds the config from args with
// environment values as flag defaults.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	fs := flag.NewFlagSet("snekd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.Listen, "listen", defaultListen(), "HTTP listen address")
	fs.StringVar(&cfg.BaseURL, "base-url", getEnvOrDefault("EMBEDDED_APP_URL", "http://localhost:5010"), "Public URL of the activity")
	fs.StringVar(&cfg.ClientID, "client-id", getEnvOrDefault("APPLICATION_ID", ""), "Application (client) id")
	fs.StringVar(&cfg.GuildID, "guild-id", getEnvOrDefault("GUILD_ID", ""), "Development guild id")
	fs.IntVar(&cfg.GridSize, "grid-size", getEnvIntOrDefault("GRID_SIZE", 20), "Board side in cells")
	fs.IntVar(&cfg.CellSize, "cell-size", getEnvIntOrDefault("CELL_SIZE", 20), "Cell size in pixels for clients")
	fs.IntVar(&cfg.FPS, "fps", getEnvIntOrDefault("FPS", 10), "Ticks per second")
	fs.DurationVar(&cfg.SyncInterval, "sync-interval", getEnvDurationOrDefault("SYNC_INTERVAL", time.Second), "Full state resync interval for multiplayer clients")
	fs.IntVar(&cfg.MaxSessions, "max-sessions", getEnvIntOrDefault("MAX_SESSIONS", 64), "Maximum concurrent sessions")
	fs.IntVar(&cfg.MaxPlayers, "max-players", getEnvIntOrDefault("MAX_PLAYERS", 2), "Maximum humans per multiplayer session")
	fs.IntVar(&cfg.Bots, "bots", getEnvIntOrDefault("BOTS", 0), "Computer snakes added to multiplayer rounds")
	fs.StringVar(&cfg.WebDir, "web-dir", getEnvOrDefault("WEB_DIR", "web"), "Directory of static client assets")
	fs.StringVar(&cfg.DBPath, "db", getEnvOrDefault("DB_PATH", "snekcord.db"), "SQLite match history path")
	fs.StringVar(&cfg.ReplayDir, "replay-dir", getEnvOrDefault("REPLAY_DIR", "replays"), "Directory for parquet replays (empty disables)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", getEnvOrDefault("JWT_SECRET", ""), "Token signing secret (empty: generated and stored in the database)")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnvOrDefault("LOG_FORMAT", "pretty"), "pretty, json or text")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnvOrDefault("LOG_LEVEL", "info"), "debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges the game cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.GridSize < 4 {
		errs = append(errs, fmt.Errorf("grid size %d: must be at least 4", c.GridSize))
	}
	if c.FPS < 1 || c.FPS > 60 {
		errs = append(errs, fmt.Errorf("fps %d: must be between 1 and 60", c.FPS))
	}
	if c.CellSize < 1 {
		errs = append(errs, fmt.Errorf("cell size %d: must be positive", c.CellSize))
	}
	if c.MaxPlayers < 2 {
		errs = append(errs, fmt.Errorf("max players %d: must be at least 2", c.MaxPlayers))
	}
	if c.Bots < 0 {
		errs = append(errs, fmt.Errorf("bots %d: must not be negative", c.Bots))
	}
	if strings.TrimSpace(c.Listen) == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	return errors.Join(errs...)
}

// defaultListen prefers LISTEN, then PORT on loopback.
func defaultListen() string {
	if v := os.Getenv("LISTEN"); v != "" {
		return v
	}
	return "127.0.0.1:" + getEnvOrDefault("PORT", "5010")
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		var i int
		if _, err := fmt.Sscanf(val, "%d", &i); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
