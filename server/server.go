// Package server is the activity's HTTP and websocket surface.
package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/brensch/snekcord/config"
	"github.com/brensch/snekcord/game"
	"github.com/brensch/snekcord/protocol"
	"github.com/brensch/snekcord/session"
	"github.com/brensch/snekcord/store"
	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
)

//go:embed page.html.tmpl
var pageSource string

var pageTmpl = template.Must(template.New("page").Parse(pageSource))

// launchParams are the host platform's query parameters passed through to
// the client untouched.
var launchParams = []string{
	"guild_id", "channel_id", "activity_id", "instance_id", "location_id",
	"launch_id", "referrer_id", "custom_id", "frame_id", "platform",
}

var colors = map[string][3]int{
	"black":  {0, 0, 0},
	"white":  {255, 255, 255},
	"green":  {0, 255, 0},
	"red":    {255, 0, 0},
	"blue":   {0, 0, 255},
	"yellow": {255, 255, 0},
}

// Options wires a Server. DB may be nil, which disables history endpoints
// and keeps the token secret in memory.
type Options struct {
	Config   config.Config
	Sessions *session.Manager
	Hub      *Hub
	DB       *store.DB
	Logger   *slog.Logger
}

type Server struct {
	cfg      config.Config
	log      *slog.Logger
	sessions *session.Manager
	hub      *Hub
	db       *store.DB
	tokens   *Tokens
	upgrader websocket.Upgrader

	// ctx outlives requests; rounds started over the websocket run on it.
	ctx context.Context
}

// New builds a server. ctx bounds every round the server starts.
func New(ctx context.Context, opts Options) (*Server, error) {
	if opts.Sessions == nil {
		return nil, errors.New("server: nil session manager")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := opts.Hub
	if hub == nil {
		hub = NewHub(logger)
	}

	var st SettingStore
	if opts.DB != nil {
		st = opts.DB
	}
	secret, err := LoadSecret(ctx, st, opts.Config.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("token secret: %w", err)
	}

	return &Server{
		cfg:      opts.Config,
		log:      logger,
		sessions: opts.Sessions,
		hub:      hub,
		db:       opts.DB,
		tokens:   NewTokens(secret),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		ctx: ctx,
	}, nil
}

func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/config", s.handleConfig)
	mux.HandleFunc("POST /api/token", s.handleToken)
	mux.HandleFunc("GET /api/check-discord", s.handleCheck)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}/invite.png", s.handleInvite)
	mux.HandleFunc("GET /api/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /api/matches", s.handleMatches)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /discord-activity", s.handleActivity)
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /snake-game", s.handleIndex)
	mux.Handle("GET /", s.staticHandler())

	mux.HandleFunc("GET /ws", s.handleWS)

	return withCORS(mux)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go s.hub.RunSync(ctx, s.cfg.SyncInterval, s.sessions)

	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", s.cfg.Listen, "base_url", s.cfg.BaseURL)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"clientId": s.cfg.ClientID,
		"gridSize": s.cfg.GridSize,
		"cellSize": s.cfg.CellSize,
		"fps":      s.cfg.FPS,
		"baseUrl":  s.cfg.BaseURL,
		"colors":   colors,
	})
}

type tokenRequest struct {
	Code string `json:"code"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	tok, err := s.tokens.Issue(req.Code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.Debug("token issued", "subject", Subject(req.Code))
	writeJSON(w, tokenResponse{
		AccessToken: tok,
		TokenType:   "Bearer",
		ExpiresIn:   int64(tokenTTL / time.Second),
	})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	referer := r.Header.Get("Referer")
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		headers[k] = strings.Join(v, ", ")
	}
	writeJSON(w, map[string]any{
		"isDiscord": strings.Contains(referer, "discord.com"),
		"isIframe":  r.URL.Query().Get("is_iframe") == "true",
		"referer":   referer,
		"userAgent": r.UserAgent(),
		"headers":   headers,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.sessions.List())
}

// handleInvite returns a QR code of the session's join link.
func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.sessions.Get(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	size := parseIntQuery(r, "size", 256)
	if size < 64 || size > 1024 {
		size = 256
	}
	png, err := qrcode.Encode(s.inviteURL(id), qrcode.Medium, size)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(png)
}

func (s *Server) inviteURL(sessionID string) string {
	base := strings.TrimRight(s.cfg.BaseURL, "/")
	return base + "/?" + url.Values{"sid": {sessionID}}.Encode()
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeJSON(w, []store.LeaderboardEntry{})
		return
	}
	entries, err := s.db.Leaderboard(r.Context(), parseIntQuery(r, "limit", 10))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []store.LeaderboardEntry{}
	}
	writeJSON(w, entries)
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeJSON(w, []store.MatchRow{})
		return
	}
	matches, err := s.db.RecentMatches(r.Context(), parseIntQuery(r, "limit", 20))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if matches == nil {
		matches = []store.MatchRow{}
	}
	writeJSON(w, matches)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "sessions": s.sessions.Len()})
}

type pageData struct {
	Mode       string
	Difficulty string
	Activity   bool
	Width      int
	Launch     map[string]string
}

// handleActivity serves the page embedded by the host platform's iframe.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	launch := map[string]string{
		"mode":        queryOr(q, "mode", game.ModeSinglePlayer.String()),
		"difficulty":  queryOr(q, "difficulty", "medium"),
		"is_activity": "true",
	}
	for _, k := range launchParams {
		if v := q.Get(k); v != "" {
			launch[k] = v
		}
	}
	s.log.Debug("activity launch", "params", launch)

	h := w.Header()
	h.Set("X-Frame-Options", "ALLOW-FROM https://discord.com")
	h.Set("Content-Security-Policy", "frame-ancestors 'self' https://discord.com https://*.discord.com;")
	setNoCache(h)
	s.renderPage(w, launch)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	launch := map[string]string{
		"mode":       queryOr(q, "mode", game.ModeSinglePlayer.String()),
		"difficulty": queryOr(q, "difficulty", "medium"),
	}
	if sid := q.Get("sid"); sid != "" {
		launch["sid"] = sid
	}
	w.Header().Set("Cache-Control", "no-cache")
	s.renderPage(w, launch)
}

func (s *Server) renderPage(w http.ResponseWriter, launch map[string]string) {
	data := pageData{
		Mode:       launch["mode"],
		Difficulty: launch["difficulty"],
		Activity:   launch["is_activity"] == "true",
		Width:      s.cfg.GridSize * s.cfg.CellSize,
		Launch:     launch,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTmpl.Execute(w, data); err != nil {
		s.log.Error("render page", "err", err)
	}
}

// staticHandler serves client assets from the web directory. Stylesheets are
// never cached so iframe reloads pick up changes.
func (s *Server) staticHandler() http.Handler {
	files := http.FileServer(http.Dir(s.cfg.WebDir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Clean(r.URL.Path)
		candidate := filepath.Join(s.cfg.WebDir, strings.TrimPrefix(path, "/"))
		if fi, err := os.Stat(candidate); err != nil || fi.IsDir() {
			http.NotFound(w, r)
			return
		}
		if strings.HasSuffix(path, ".css") {
			setNoCache(w.Header())
		}
		files.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade", "err", err)
		return
	}
	c := newClient(s, conn, remoteIP(r))
	go c.WritePump()
	go c.ReadPump()
}

// sessionOptions turns a create request into session options using the
// server's configured limits.
func (s *Server) sessionOptions(msg protocol.CreateMsg) (session.Options, error) {
	mode := game.ModeSinglePlayer
	if strings.TrimSpace(msg.Mode) != "" {
		m, err := game.ParseMode(msg.Mode)
		if err != nil {
			return session.Options{}, err
		}
		mode = m
	}
	diff, err := difficultyOrDefault(msg.Difficulty)
	if err != nil {
		return session.Options{}, err
	}
	return session.Options{
		Mode:       mode,
		Difficulty: diff,
		GridSize:   s.cfg.GridSize,
		MaxPlayers: s.cfg.MaxPlayers,
		Rate:       s.cfg.FPS,
		Bots:       s.cfg.Bots,
		ChannelID:  msg.ChannelID,
	}, nil
}

func setNoCache(h http.Header) {
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func queryOr(q url.Values, key, def string) string {
	if v := strings.TrimSpace(q.Get(key)); v != "" {
		return v
	}
	return def
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
