package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/brensch/snekcord/config"
	"github.com/brensch/snekcord/game"
	"github.com/brensch/snekcord/protocol"
	"github.com/brensch/snekcord/session"
	"github.com/brensch/snekcord/store"
	"github.com/gorilla/websocket"
)

type testEnv struct {
	ts       *httptest.Server
	wsURL    string
	sessions *session.Manager
	srv      *Server
}

func newTestEnv(t *testing.T, db *store.DB) *testEnv {
	t.Helper()

	webDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(webDir, "styles.css"), []byte("body{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Config{
		Listen:       "127.0.0.1:0",
		BaseURL:      "https://snek.example",
		ClientID:     "client-123",
		GridSize:     10,
		CellSize:     20,
		FPS:          20,
		SyncInterval: time.Second,
		MaxSessions:  8,
		MaxPlayers:   2,
		WebDir:       webDir,
		JWTSecret:    "test-secret",
	}
	logger := slog.New(slog.DiscardHandler)
	hub := NewHub(logger)
	mgr := session.NewManager(cfg.MaxSessions, logger, hub)

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := New(ctx, Options{Config: cfg, Sessions: mgr, Hub: hub, DB: db, Logger: logger})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		mgr.CloseAll()
		cancel()
	})
	return &testEnv{
		ts:       ts,
		wsURL:    "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		sessions: mgr,
		srv:      srv,
	}
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s status=%d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return resp
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"t": typ, "d": data})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil skips frames until a text envelope of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) protocol.InEnvelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v", want, err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		env, err := protocol.Decode(raw)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.T == want {
			return env
		}
	}
}

func readBinaryState(t *testing.T, conn *websocket.Conn) game.Snapshot {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for binary state: %v", err)
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		snap, err := protocol.DecodeStateBinary(raw)
		if err != nil {
			t.Fatalf("decode binary: %v", err)
		}
		return snap
	}
}

func createSession(t *testing.T, conn *websocket.Conn, msg protocol.CreateMsg) string {
	t.Helper()
	send(t, conn, protocol.MsgCreate, msg)
	var created protocol.CreatedMsg
	if err := protocol.DecodeData(readUntil(t, conn, protocol.MsgCreated), &created); err != nil {
		t.Fatal(err)
	}
	if created.SessionID == "" {
		t.Fatalf("empty session id")
	}
	return created.SessionID
}

func join(t *testing.T, conn *websocket.Conn, msg protocol.JoinMsg) protocol.WelcomeMsg {
	t.Helper()
	send(t, conn, protocol.MsgJoin, msg)
	var welcome protocol.WelcomeMsg
	if err := protocol.DecodeData(readUntil(t, conn, protocol.MsgWelcome), &welcome); err != nil {
		t.Fatal(err)
	}
	return welcome
}

func TestConfigEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	var got struct {
		ClientID string            `json:"clientId"`
		GridSize int               `json:"gridSize"`
		CellSize int               `json:"cellSize"`
		FPS      int               `json:"fps"`
		BaseURL  string            `json:"baseUrl"`
		Colors   map[string][3]int `json:"colors"`
	}
	getJSON(t, env.ts.URL+"/api/config", &got)

	if got.ClientID != "client-123" || got.GridSize != 10 || got.CellSize != 20 || got.FPS != 20 {
		t.Fatalf("config=%+v", got)
	}
	if got.Colors["green"] != [3]int{0, 255, 0} {
		t.Fatalf("green=%v want=[0 255 0]", got.Colors["green"])
	}
}

func TestTokenEndpoint_IssuesValidToken(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Post(env.ts.URL+"/api/token", "application/json", strings.NewReader(`{"code":"abcdefghijkl"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.TokenType != "Bearer" || got.ExpiresIn != 604800 {
		t.Fatalf("token=%+v", got)
	}
	sub, err := env.srv.tokens.Validate(got.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if sub != "user_abcdefgh" {
		t.Fatalf("subject=%q want=%q", sub, "user_abcdefgh")
	}
}

func TestTokenEndpoint_RejectsBadBody(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, err := http.Post(env.ts.URL+"/api/token", "application/json", strings.NewReader(`{`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d want=%d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestCheckDiscord(t *testing.T) {
	env := newTestEnv(t, nil)

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/check-discord?is_iframe=true", nil)
	req.Header.Set("Referer", "https://discord.com/channels/1/2")
	req.Header.Set("User-Agent", "snek-test")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var got struct {
		IsDiscord bool              `json:"isDiscord"`
		IsIframe  bool              `json:"isIframe"`
		UserAgent string            `json:"userAgent"`
		Headers   map[string]string `json:"headers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if !got.IsDiscord || !got.IsIframe || got.UserAgent != "snek-test" {
		t.Fatalf("check=%+v", got)
	}
	if got.Headers["Referer"] == "" {
		t.Fatalf("headers missing Referer: %v", got.Headers)
	}
}

func TestActivityPage_EmbedsLaunchParams(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.ts.URL + "/discord-activity?mode=multiplayer&channel_id=42&guild_id=7")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	h := resp.Header
	if h.Get("X-Frame-Options") != "ALLOW-FROM https://discord.com" {
		t.Fatalf("X-Frame-Options=%q", h.Get("X-Frame-Options"))
	}
	if !strings.Contains(h.Get("Content-Security-Policy"), "frame-ancestors 'self' https://discord.com") {
		t.Fatalf("CSP=%q", h.Get("Content-Security-Policy"))
	}
	if !strings.Contains(h.Get("Cache-Control"), "no-store") || h.Get("Expires") != "0" {
		t.Fatalf("cache headers=%v", h)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	body := doc.Find("body")
	if v, _ := body.Attr("data-mode"); v != "multiplayer" {
		t.Fatalf("data-mode=%q want=multiplayer", v)
	}
	if v, _ := body.Attr("data-activity"); v != "true" {
		t.Fatalf("data-activity=%q want=true", v)
	}
	if v, _ := doc.Find("canvas#game").Attr("width"); v != "200" {
		t.Fatalf("canvas width=%q want=200", v)
	}

	var launch map[string]string
	raw := doc.Find("#launch-config").Text()
	if err := json.Unmarshal([]byte(raw), &launch); err != nil {
		t.Fatalf("launch config %q: %v", raw, err)
	}
	t.Logf("launch=%v", launch)
	if launch["is_activity"] != "true" || launch["channel_id"] != "42" || launch["guild_id"] != "7" {
		t.Fatalf("launch=%v", launch)
	}
	if launch["difficulty"] != "medium" {
		t.Fatalf("difficulty=%q want=medium", launch["difficulty"])
	}
	if _, ok := launch["frame_id"]; ok {
		t.Fatalf("unset params must be omitted: %v", launch)
	}
}

func TestIndexPage_NoFrameHeaders(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/", "/snake-game"} {
		resp, err := http.Get(env.ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		doc, err := goquery.NewDocumentFromReader(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.Fatal(err)
		}
		if resp.Header.Get("X-Frame-Options") != "" {
			t.Fatalf("%s: unexpected X-Frame-Options", path)
		}
		if v, _ := doc.Find("body").Attr("data-activity"); v != "false" {
			t.Fatalf("%s: data-activity=%q want=false", path, v)
		}
	}
}

func TestStatic_CSSNotCached(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.ts.URL + "/styles.css")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Cache-Control"), "no-cache") {
		t.Fatalf("Cache-Control=%q", resp.Header.Get("Cache-Control"))
	}

	resp, err = http.Get(env.ts.URL + "/missing.js")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing status=%d want=404", resp.StatusCode)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, nil)

	cases := map[string]bool{
		"https://discord.com":      true,
		"https://1234.discord.com": true,
		"http://localhost:3000":    true,
		"https://evil.example":     false,
		"http://discord.com":       false,
		"https://notdiscord.com":   false,
	}
	for origin, allowed := range cases {
		req, _ := http.NewRequest(http.MethodOptions, env.ts.URL+"/api/config", nil)
		req.Header.Set("Origin", origin)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("%s: status=%d want=204", origin, resp.StatusCode)
		}
		got := resp.Header.Get("Access-Control-Allow-Origin") == origin
		if got != allowed {
			t.Fatalf("%s: allowed=%v want=%v", origin, got, allowed)
		}
	}
}

func TestInviteQR(t *testing.T) {
	env := newTestEnv(t, nil)
	sess, err := env.sessions.Create(session.Options{Mode: game.ModeMultiPlayer})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(env.ts.URL + "/api/sessions/" + sess.ID + "/invite.png")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("content-type=%q", resp.Header.Get("Content-Type"))
	}
	b, _ := io.ReadAll(resp.Body)
	if !bytes.HasPrefix(b, []byte("\x89PNG")) {
		t.Fatalf("not a png: % x", b[:min(8, len(b))])
	}

	resp, err = http.Get(env.ts.URL + "/api/sessions/nope/invite.png")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session status=%d want=404", resp.StatusCode)
	}
}

func TestSessionsAndLeaderboard(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "snek.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	env := newTestEnv(t, db)

	if _, err := env.sessions.Create(session.Options{Mode: game.ModeSinglePlayer}); err != nil {
		t.Fatal(err)
	}
	var infos []session.Info
	getJSON(t, env.ts.URL+"/api/sessions", &infos)
	if len(infos) != 1 || infos[0].Mode != "singleplayer" || infos[0].Players != 2 {
		t.Fatalf("sessions=%+v", infos)
	}

	var board []store.LeaderboardEntry
	getJSON(t, env.ts.URL+"/api/leaderboard", &board)
	if len(board) != 0 {
		t.Fatalf("leaderboard=%+v want empty", board)
	}

	var health map[string]any
	getJSON(t, env.ts.URL+"/healthz", &health)
	if health["status"] != "ok" || health["sessions"] != float64(1) {
		t.Fatalf("health=%v", health)
	}
}

func TestWS_SinglePlayer(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := dialWS(t, env.wsURL)

	sid := createSession(t, conn, protocol.CreateMsg{Mode: "singleplayer", Difficulty: "hard"})
	welcome := join(t, conn, protocol.JoinMsg{SessionID: sid, Name: "alice"})
	if welcome.ID != game.HumanID || welcome.Color != session.ColorGreen || welcome.GridSize != 10 {
		t.Fatalf("welcome=%+v", welcome)
	}

	var snap game.Snapshot
	if err := protocol.DecodeData(readUntil(t, conn, protocol.MsgState), &snap); err != nil {
		t.Fatal(err)
	}
	if _, ok := snap.Snakes[session.BotID]; !ok || len(snap.Snakes) != 2 {
		t.Fatalf("snakes=%v", snap.Snakes)
	}

	send(t, conn, protocol.MsgInput, protocol.InputMsg{Dir: "down"})
	deadline := time.Now().Add(3 * time.Second)
	for snap.TickCount == 0 && time.Now().Before(deadline) {
		if err := protocol.DecodeData(readUntil(t, conn, protocol.MsgState), &snap); err != nil {
			t.Fatal(err)
		}
	}
	if snap.TickCount == 0 {
		t.Fatalf("session never ticked")
	}

	sess, err := env.sessions.Get(sid)
	if err != nil {
		t.Fatal(err)
	}
	if got := sess.Participants()[0].Name; got != "alice" {
		t.Fatalf("name=%q want=alice", got)
	}

	// The second join finds the human snake taken.
	other := dialWS(t, env.wsURL)
	send(t, other, protocol.MsgJoin, protocol.JoinMsg{SessionID: sid})
	var e protocol.ErrorMsg
	if err := protocol.DecodeData(readUntil(t, other, protocol.MsgError), &e); err != nil {
		t.Fatal(err)
	}
	if e.Msg != session.ErrFull.Error() {
		t.Fatalf("error=%q want=%q", e.Msg, session.ErrFull.Error())
	}

	conn.Close()
	deadline = time.Now().Add(3 * time.Second)
	for env.sessions.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := env.sessions.Len(); n != 0 {
		t.Fatalf("sessions=%d want=0 after disconnect", n)
	}
}

func TestWS_BinaryState(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := dialWS(t, env.wsURL)

	sid := createSession(t, conn, protocol.CreateMsg{})
	join(t, conn, protocol.JoinMsg{SessionID: sid, Binary: true})

	snap := readBinaryState(t, conn)
	if snap.GridSize != 10 || snap.Mode != "singleplayer" {
		t.Fatalf("snap grid=%d mode=%q", snap.GridSize, snap.Mode)
	}
	if len(snap.Snakes) != 2 {
		t.Fatalf("snakes=%d want=2", len(snap.Snakes))
	}
}

func TestWS_TokenNamesPlayer(t *testing.T) {
	env := newTestEnv(t, nil)
	tok, err := env.srv.tokens.Issue("abcdefghijkl")
	if err != nil {
		t.Fatal(err)
	}
	conn := dialWS(t, env.wsURL)
	sid := createSession(t, conn, protocol.CreateMsg{})
	join(t, conn, protocol.JoinMsg{SessionID: sid, Name: "ignored", Token: tok})

	sess, err := env.sessions.Get(sid)
	if err != nil {
		t.Fatal(err)
	}
	if got := sess.Participants()[0].Name; got != "user_abcdefgh" {
		t.Fatalf("name=%q want=user_abcdefgh", got)
	}

	send(t, conn, protocol.MsgJoin, protocol.JoinMsg{SessionID: sid, Token: "garbage"})
	readUntil(t, conn, protocol.MsgError)
}

func TestWS_JoinNameCutOnRuneBoundary(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := dialWS(t, env.wsURL)
	sid := createSession(t, conn, protocol.CreateMsg{})
	join(t, conn, protocol.JoinMsg{SessionID: sid, Name: "a" + strings.Repeat("é", 20)})

	sess, err := env.sessions.Get(sid)
	if err != nil {
		t.Fatal(err)
	}
	got := sess.Participants()[0].Name
	t.Logf("name=%q", got)
	if !utf8.ValidString(got) {
		t.Fatalf("name=%q is not valid utf-8", got)
	}
	if want := "a" + strings.Repeat("é", maxNameLen-1); got != want {
		t.Fatalf("name=%q want=%q", got, want)
	}
}

func TestCleanName(t *testing.T) {
	cases := []struct{ in, want string }{
		{in: "  bob  ", want: "bob"},
		{in: "", want: ""},
		{in: "abcdefghijklmnopqrstuvwxyz", want: "abcdefghijklmnop"},
		{in: "日本語", want: "日本語"},
		{in: "ok\xffname", want: "okname"},
		{in: strings.Repeat("🐍", 17), want: strings.Repeat("🐍", 16)},
	}
	for _, c := range cases {
		if got := cleanName(c.in); got != c.want {
			t.Fatalf("cleanName(%q)=%q want=%q", c.in, got, c.want)
		}
	}
}

func TestWS_UnjoinedSessionsDroppedOnDisconnect(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := dialWS(t, env.wsURL)
	for i := 0; i < 7; i++ {
		createSession(t, conn, protocol.CreateMsg{Mode: "multiplayer"})
	}
	// A session the creator handed to someone else survives.
	kept := createSession(t, conn, protocol.CreateMsg{Mode: "multiplayer"})
	friend := dialWS(t, env.wsURL)
	join(t, friend, protocol.JoinMsg{SessionID: kept, Name: "friend"})

	send(t, conn, protocol.MsgCreate, protocol.CreateMsg{Mode: "multiplayer"})
	var e protocol.ErrorMsg
	if err := protocol.DecodeData(readUntil(t, conn, protocol.MsgError), &e); err != nil {
		t.Fatal(err)
	}
	if e.Msg != session.ErrFull.Error() {
		t.Fatalf("error=%q want=%q", e.Msg, session.ErrFull.Error())
	}

	conn.Close()
	deadline := time.Now().Add(3 * time.Second)
	for env.sessions.Len() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := env.sessions.Len(); n != 1 {
		t.Fatalf("sessions=%d want=1 after creator disconnected", n)
	}
	if _, err := env.sessions.Get(kept); err != nil {
		t.Fatalf("joined session dropped: %v", err)
	}

	fresh := dialWS(t, env.wsURL)
	createSession(t, fresh, protocol.CreateMsg{Mode: "multiplayer"})
}

func TestWS_MultiplayerStart(t *testing.T) {
	env := newTestEnv(t, nil)
	a := dialWS(t, env.wsURL)
	b := dialWS(t, env.wsURL)

	sid := createSession(t, a, protocol.CreateMsg{Mode: "multiplayer", ChannelID: "chan-1"})
	wa := join(t, a, protocol.JoinMsg{SessionID: sid, Name: "a"})
	if wa.Color != session.ColorGreen {
		t.Fatalf("first color=%q want=%q", wa.Color, session.ColorGreen)
	}

	send(t, a, protocol.MsgCommand, protocol.CommandMsg{Name: "start"})
	var e protocol.ErrorMsg
	if err := protocol.DecodeData(readUntil(t, a, protocol.MsgError), &e); err != nil {
		t.Fatal(err)
	}
	if e.Msg != session.ErrNotEnoughPlayers.Error() {
		t.Fatalf("error=%q want=%q", e.Msg, session.ErrNotEnoughPlayers.Error())
	}

	// Creating in the same channel hands back the existing session.
	if got := createSession(t, b, protocol.CreateMsg{Mode: "multiplayer", ChannelID: "chan-1"}); got != sid {
		t.Fatalf("channel session=%q want=%q", got, sid)
	}
	wb := join(t, b, protocol.JoinMsg{SessionID: sid, Name: "b"})
	if wb.Color != session.ColorBlue || wb.ID == wa.ID {
		t.Fatalf("second welcome=%+v", wb)
	}

	send(t, a, protocol.MsgCommand, protocol.CommandMsg{Name: "/start"})
	var snap game.Snapshot
	deadline := time.Now().Add(3 * time.Second)
	for snap.TickCount == 0 && time.Now().Before(deadline) {
		if err := protocol.DecodeData(readUntil(t, b, protocol.MsgState), &snap); err != nil {
			t.Fatal(err)
		}
	}
	if snap.TickCount == 0 || len(snap.Snakes) != 2 {
		t.Fatalf("tick=%d snakes=%d", snap.TickCount, len(snap.Snakes))
	}

	send(t, a, protocol.MsgCommand, protocol.CommandMsg{Name: "dance"})
	readUntil(t, a, protocol.MsgError)
}

func TestWS_RejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, nil)
	h := http.Header{}
	h.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL, h)
	if err == nil {
		t.Fatalf("dial succeeded from foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp=%v want 403", resp)
	}
}
