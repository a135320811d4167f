package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/brensch/snekcord/game"
	"github.com/brensch/snekcord/protocol"
	"github.com/brensch/snekcord/session"
)

// Hub routes session snapshots to the clients watching each session. It is
// a session.Observer.
type Hub struct {
	log *slog.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log:   logger,
		rooms: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) subscribe(c *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[sessionID] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) unsubscribe(c *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[sessionID]
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
}

func (h *Hub) clients(sessionID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.rooms[sessionID]))
	for c := range h.rooms[sessionID] {
		out = append(out, c)
	}
	return out
}

// Watching returns the number of clients subscribed to a session.
func (h *Hub) Watching(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

func (h *Hub) roomIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Observe broadcasts a tick. The final snapshot of a round is followed by a
// gameover message.
func (h *Hub) Observe(sessionID string, snap game.Snapshot) {
	h.broadcast(sessionID, snap)
	if !snap.GameOver {
		return
	}
	msg, err := protocol.Encode(protocol.MsgGameOver, protocol.GameOver(snap))
	if err != nil {
		h.log.Error("encode gameover", "session", sessionID, "err", err)
		return
	}
	for _, c := range h.clients(sessionID) {
		c.sendText(msg)
	}
}

// broadcast encodes each representation at most once.
func (h *Hub) broadcast(sessionID string, snap game.Snapshot) {
	clients := h.clients(sessionID)
	if len(clients) == 0 {
		return
	}
	var text, bin []byte
	for _, c := range clients {
		var err error
		if c.binary.Load() {
			if bin == nil {
				if bin, err = protocol.EncodeStateBinary(snap); err != nil {
					h.log.Error("encode state", "session", sessionID, "err", err)
					return
				}
			}
			c.sendBinary(bin)
			continue
		}
		if text == nil {
			if text, err = protocol.EncodeState(snap); err != nil {
				h.log.Error("encode state", "session", sessionID, "err", err)
				return
			}
		}
		c.sendText(text)
	}
}

// RunSync pushes the full state of every watched session each interval, so
// lobbies and late frames converge even without ticks. It returns when ctx
// is done.
func (h *Hub) RunSync(ctx context.Context, every time.Duration, sessions *session.Manager) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, id := range h.roomIDs() {
				sess, err := sessions.Get(id)
				if err != nil {
					continue
				}
				h.broadcast(id, sess.Snapshot())
			}
		}
	}
}
