package server

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/brensch/snekcord/ai"
	"github.com/brensch/snekcord/game"
	"github.com/brensch/snekcord/protocol"
	"github.com/brensch/snekcord/session"
	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 50
	maxNameLen        = 16
)

var errAlreadyJoined = errors.New("already in this session")

type frame struct {
	binary bool
	data   []byte
}

// Client is one websocket connection. It holds at most one snake at a time.
type Client struct {
	srv        *Server
	conn       *websocket.Conn
	send       chan frame
	done       chan struct{}
	remoteAddr string

	// Touched only by ReadPump.
	sessionID  string
	playerID   string
	created    map[string]struct{}
	msgCount   int
	msgResetAt time.Time

	binary atomic.Bool
}

func newClient(srv *Server, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		srv:        srv,
		conn:       conn,
		send:       make(chan frame, sendBufSize),
		done:       make(chan struct{}),
		remoteAddr: remoteAddr,
		created:    make(map[string]struct{}),
	}
}

// ReadPump reads messages until the connection drops, then releases the
// client's snake and any session it created that nobody joined.
func (c *Client) ReadPump() {
	defer func() {
		c.leave()
		c.dropCreated()
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.srv.log.Warn("ws read", "remote", c.remoteAddr, "err", err)
			}
			return
		}

		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			c.srv.log.Warn("rate limit exceeded, disconnecting", "remote", c.remoteAddr)
			return
		}

		c.handleMessage(message)
	}
}

// WritePump owns all writes to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case f := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			kind := websocket.TextMessage
			if f.binary {
				kind = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(kind, f.data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendText(b []byte) { c.enqueue(frame{data: b}) }
func (c *Client) sendBinary(b []byte) { c.enqueue(frame{binary: true, data: b}) }

// enqueue drops the frame when the client is too slow or gone. send is
// never closed; done marks the end of the connection.
func (c *Client) enqueue(f frame) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- f:
	case <-c.done:
	default:
	}
}

func (c *Client) sendMsg(t string, data any) {
	b, err := protocol.Encode(t, data)
	if err != nil {
		c.srv.log.Error("encode message", "type", t, "err", err)
		return
	}
	c.sendText(b)
}

func (c *Client) sendError(err error) {
	c.sendMsg(protocol.MsgError, protocol.ErrorMsg{Msg: err.Error()})
}

// sendState sends one snapshot in the client's chosen encoding.
func (c *Client) sendState(snap game.Snapshot) {
	if c.binary.Load() {
		b, err := protocol.EncodeStateBinary(snap)
		if err != nil {
			c.sendError(err)
			return
		}
		c.sendBinary(b)
		return
	}
	b, err := protocol.EncodeState(snap)
	if err != nil {
		c.sendError(err)
		return
	}
	c.sendText(b)
}

func (c *Client) handleMessage(raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		c.sendError(err)
		return
	}

	switch env.T {
	case protocol.MsgCreate:
		c.handleCreate(env)
	case protocol.MsgJoin:
		c.handleJoin(env)
	case protocol.MsgInput:
		c.handleInput(env)
	case protocol.MsgCommand:
		c.handleCommand(env)
	case protocol.MsgLeave:
		c.leave()
	default:
		c.sendError(errors.New("unknown message type " + env.T))
	}
}

func (c *Client) handleCreate(env protocol.InEnvelope) {
	var msg protocol.CreateMsg
	if len(env.D) > 0 {
		if err := protocol.DecodeData(env, &msg); err != nil {
			c.sendError(err)
			return
		}
	}

	opts, err := c.srv.sessionOptions(msg)
	if err != nil {
		c.sendError(err)
		return
	}
	sess, err := c.srv.sessions.Create(opts)
	if errors.Is(err, session.ErrChannelBusy) {
		// One game per channel: point the caller at the running one.
		if existing, ok := c.srv.sessions.ForChannel(opts.ChannelID); ok {
			c.sendMsg(protocol.MsgCreated, protocol.CreatedMsg{SessionID: existing.ID})
			return
		}
	}
	if err != nil {
		c.sendError(err)
		return
	}
	c.created[sess.ID] = struct{}{}
	c.sendMsg(protocol.MsgCreated, protocol.CreatedMsg{SessionID: sess.ID})
}

func (c *Client) handleJoin(env protocol.InEnvelope) {
	var msg protocol.JoinMsg
	if err := protocol.DecodeData(env, &msg); err != nil {
		c.sendError(err)
		return
	}
	name := msg.Name
	if msg.Token != "" {
		sub, err := c.srv.tokens.Validate(msg.Token)
		if err != nil {
			c.sendError(err)
			return
		}
		name = sub
	}
	name = cleanName(name)

	if msg.SessionID != "" && c.sessionID == msg.SessionID {
		c.sendError(errAlreadyJoined)
		return
	}
	sess, p, err := c.srv.sessions.Join(msg.SessionID, name)
	if err != nil {
		c.sendError(err)
		return
	}
	delete(c.created, sess.ID)
	c.leave()
	c.sessionID = sess.ID
	c.playerID = p.ID
	c.binary.Store(msg.Binary)

	snap := sess.Snapshot()
	c.sendMsg(protocol.MsgWelcome, protocol.WelcomeMsg{
		ID:        p.ID,
		SessionID: sess.ID,
		Color:     p.Color,
		GridSize:  snap.GridSize,
		Mode:      snap.Mode,
	})
	c.sendState(snap)
	c.srv.hub.subscribe(c, sess.ID)

	if sess.Mode() == game.ModeSinglePlayer {
		if err := sess.Start(c.srv.ctx); err != nil && !errors.Is(err, session.ErrRunning) {
			c.sendError(err)
		}
		return
	}
	// Everyone in the lobby sees the new snake.
	c.srv.hub.broadcast(sess.ID, sess.Snapshot())
}

func (c *Client) handleInput(env protocol.InEnvelope) {
	if c.sessionID == "" {
		return
	}
	var msg protocol.InputMsg
	if err := protocol.DecodeData(env, &msg); err != nil {
		c.sendError(err)
		return
	}
	d, err := game.ParseDirection(msg.Dir)
	if err != nil {
		c.sendError(err)
		return
	}
	sess, err := c.srv.sessions.Get(c.sessionID)
	if err != nil {
		return
	}
	sess.Input(c.playerID, d)
}

func (c *Client) handleCommand(env protocol.InEnvelope) {
	if c.sessionID == "" {
		c.sendError(session.ErrNotFound)
		return
	}
	var msg protocol.CommandMsg
	if err := protocol.DecodeData(env, &msg); err != nil {
		c.sendError(err)
		return
	}
	sess, err := c.srv.sessions.Get(c.sessionID)
	if err != nil {
		c.sendError(err)
		return
	}
	if err := sess.Command(c.srv.ctx, strings.ToLower(strings.TrimPrefix(msg.Name, "/"))); err != nil {
		c.sendError(err)
	}
}

// leave releases the current snake. A session nobody holds a snake in any
// more is shut down.
func (c *Client) leave() {
	if c.sessionID == "" {
		return
	}
	sid, pid := c.sessionID, c.playerID
	c.sessionID, c.playerID = "", ""
	c.srv.hub.unsubscribe(c, sid)
	c.srv.sessions.Release(sid, pid)
}

// dropCreated removes sessions this client created that still have no
// humans in them.
func (c *Client) dropCreated() {
	for sid := range c.created {
		c.srv.sessions.RemoveIdle(sid)
	}
	c.created = nil
}

// cleanName trims a display name and cuts it to maxNameLen runes.
func cleanName(name string) string {
	name = strings.TrimSpace(strings.ToValidUTF8(name, ""))
	n := 0
	for i := range name {
		if n == maxNameLen {
			return name[:i]
		}
		n++
	}
	return name
}

// difficultyOrDefault parses a difficulty, defaulting to medium.
func difficultyOrDefault(s string) (ai.Difficulty, error) {
	if strings.TrimSpace(s) == "" {
		return ai.Medium, nil
	}
	return ai.ParseDifficulty(s)
}
