// Package protocol defines the websocket messages exchanged with clients.
//
// Every text frame is a JSON Envelope. Clients that join with Binary set
// receive state frames as msgpack-encoded game.Snapshot in binary frames.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/brensch/snekcord/game"
	"github.com/vmihailenco/msgpack/v5"
)

// Client -> Server message types
const (
	MsgCreate  = "create"
	MsgJoin    = "join"
	MsgInput   = "input"
	MsgCommand = "command"
	MsgLeave   = "leave"
)

// Server -> Client message types
const (
	MsgCreated  = "created"
	MsgWelcome  = "welcome"
	MsgState    = "state"
	MsgGameOver = "gameover"
	MsgError    = "error"
)

// Envelope wraps all outgoing messages with a type field.
type Envelope struct {
	T    string `json:"t"`
	Data any    `json:"d,omitempty"`
}

// InEnvelope is an incoming message with its payload left raw.
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// CreateMsg asks for a new session. Mode and Difficulty use the same names
// as the activity launch parameters.
type CreateMsg struct {
	Mode       string `json:"mode"`
	Difficulty string `json:"difficulty"`
	ChannelID  string `json:"channel,omitempty"`
}

// JoinMsg takes a snake in a session. Token is an optional activity token
// from /api/token used for the display name.
type JoinMsg struct {
	SessionID string `json:"sid"`
	Name      string `json:"name,omitempty"`
	Token     string `json:"token,omitempty"`
	Binary    bool   `json:"binary,omitempty"`
}

type InputMsg struct {
	Dir string `json:"dir"`
}

// CommandMsg is a remote command such as "start" or "restart".
type CommandMsg struct {
	Name string `json:"name"`
}

type CreatedMsg struct {
	SessionID string `json:"sid"`
}

type WelcomeMsg struct {
	ID        string `json:"id"`
	SessionID string `json:"sid"`
	Color     string `json:"color"`
	GridSize  int    `json:"gridSize"`
	Mode      string `json:"mode"`
}

type GameOverMsg struct {
	Winner string         `json:"winner,omitempty"`
	Scores map[string]int `json:"scores"`
	Ticks  int            `json:"ticks"`
}

type ErrorMsg struct {
	Msg string `json:"msg"`
}

// Encode marshals an outgoing envelope.
func Encode(t string, data any) ([]byte, error) {
	b, err := json.Marshal(Envelope{T: t, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return b, nil
}

// Decode parses an incoming envelope.
func Decode(raw []byte) (InEnvelope, error) {
	var in InEnvelope
	if err := json.Unmarshal(raw, &in); err != nil {
		return InEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if in.T == "" {
		return InEnvelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return in, nil
}

// DecodeData unmarshals an envelope payload into v.
func DecodeData(in InEnvelope, v any) error {
	if len(in.D) == 0 {
		return fmt.Errorf("decode %s: empty payload", in.T)
	}
	if err := json.Unmarshal(in.D, v); err != nil {
		return fmt.Errorf("decode %s: %w", in.T, err)
	}
	return nil
}

// EncodeState returns the text frame for a snapshot.
func EncodeState(snap game.Snapshot) ([]byte, error) {
	return Encode(MsgState, snap)
}

// EncodeStateBinary returns the msgpack payload for a binary state frame.
func EncodeStateBinary(snap game.Snapshot) ([]byte, error) {
	b, err := msgpack.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode binary state: %w", err)
	}
	return b, nil
}

// DecodeStateBinary is the inverse of EncodeStateBinary.
func DecodeStateBinary(b []byte) (game.Snapshot, error) {
	var snap game.Snapshot
	if err := msgpack.Unmarshal(b, &snap); err != nil {
		return game.Snapshot{}, fmt.Errorf("decode binary state: %w", err)
	}
	return snap, nil
}

// GameOver builds the game-over payload from a final snapshot.
func GameOver(snap game.Snapshot) GameOverMsg {
	scores := make(map[string]int, len(snap.Snakes))
	for id, v := range snap.Snakes {
		scores[id] = v.Score
	}
	return GameOverMsg{Winner: snap.Winner, Scores: scores, Ticks: snap.TickCount}
}
