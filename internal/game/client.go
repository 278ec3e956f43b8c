// Package game binds the bot to the game world server. The Client interface
// is the boundary the rest of the bot programs against; wsClient speaks the
// JSON-envelope websocket protocol, and Fake stands in for tests and
// offline runs.
package game

import (
	"context"

	"github.com/kit-courier/bot/internal/session"
)

// Item is one inventory stack.
type Item struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	Count       int    `json:"count"`
}

// Label returns the human-facing item name.
func (i Item) Label() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.Name
}

// PlayerInfo is one entry from the server's player list.
type PlayerInfo struct {
	Name string `json:"name"`
	Ping int    `json:"ping"`
}

// Handlers receives game events. Callbacks run on the client's read
// goroutine and must return quickly.
type Handlers struct {
	OnSpawn      func()
	OnChat       func(sender, text string)
	OnKick       func(reason string)
	OnError      func(err error)
	OnDisconnect func()
	OnMove       func(pos session.Position)
	OnHealth     func(health float64)
}

// Client is the game-world collaborator boundary.
type Client interface {
	// Connect dials the server and starts event dispatch. It returns once
	// the join handshake is accepted.
	Connect(ctx context.Context) error
	Close() error

	// Chat sends one raw chat line. All rate limiting happens upstream in
	// the outbound queue.
	Chat(text string) error

	Username() string
	Position() session.Position
	Health() float64
	Dimension() string
	Players() []PlayerInfo
	Inventory() []Item
	TossStack(item Item) error
	EquipAndUse(name string) error

	SetHandlers(Handlers)
}
