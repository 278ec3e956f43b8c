package game

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kit-courier/bot/internal/session"
)

// clientEnvelope wraps every message sent to the server.
type clientEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// serverEnvelope wraps every message received from the server.
type serverEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	Username string `json:"username"`
}

type chatPayload struct {
	Sender string `json:"sender,omitempty"`
	Text   string `json:"text"`
}

type telemetryPayload struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Health    float64 `json:"health"`
	Dimension string  `json:"dimension"`
}

type kickPayload struct {
	Reason string `json:"reason"`
}

type playersPayload struct {
	Players []PlayerInfo `json:"players"`
}

type inventoryPayload struct {
	Items []Item `json:"items"`
}

type actionPayload struct {
	Action string `json:"action"`
	Item   string `json:"item,omitempty"`
	Count  int    `json:"count,omitempty"`
}

// WSClient talks to the world server over a websocket. One instance serves
// one connection; the supervisor builds a fresh client per reconnect.
type WSClient struct {
	url      string
	username string

	mu        sync.Mutex
	conn      *websocket.Conn
	handlers  Handlers
	position  session.Position
	health    float64
	dimension string
	players   []PlayerInfo
	inventory []Item
	closed    bool

	writeMu sync.Mutex
}

func NewWSClient(url, username string) *WSClient {
	return &WSClient{
		url:       url,
		username:  username,
		health:    20,
		dimension: "overworld",
	}
}

func (c *WSClient) SetHandlers(h Handlers) {
	c.mu.Lock()
	c.handlers = h
	c.mu.Unlock()
}

func (c *WSClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	if err := c.write("join", joinPayload{Username: c.username}); err != nil {
		conn.Close()
		return fmt.Errorf("join: %w", err)
	}

	go c.readPump()
	return nil
}

func (c *WSClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.closed = true
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *WSClient) Username() string { return c.username }

func (c *WSClient) Chat(text string) error {
	return c.write("chat", chatPayload{Text: text})
}

func (c *WSClient) TossStack(item Item) error {
	return c.write("action", actionPayload{Action: "toss", Item: item.Name, Count: item.Count})
}

func (c *WSClient) EquipAndUse(name string) error {
	if err := c.write("action", actionPayload{Action: "equip", Item: name}); err != nil {
		return err
	}
	return c.write("action", actionPayload{Action: "use"})
}

func (c *WSClient) Position() session.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *WSClient) Health() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

func (c *WSClient) Dimension() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimension
}

func (c *WSClient) Players() []PlayerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PlayerInfo, len(c.players))
	copy(out, c.players)
	return out
}

func (c *WSClient) Inventory() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Item, len(c.inventory))
	copy(out, c.inventory)
	return out
}

func (c *WSClient) write(msgType string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if conn == nil || closed {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(clientEnvelope{Type: msgType, Payload: payload})
}

// readPump dispatches server envelopes to the registered handlers until the
// connection drops.
func (c *WSClient) readPump() {
	for {
		c.mu.Lock()
		conn := c.conn
		closed := c.closed
		handlers := c.handlers
		c.mu.Unlock()
		if conn == nil || closed {
			return
		}

		var env serverEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			wasClosed := c.closed
			c.closed = true
			c.mu.Unlock()
			if !wasClosed {
				if handlers.OnError != nil {
					handlers.OnError(err)
				}
				if handlers.OnDisconnect != nil {
					handlers.OnDisconnect()
				}
			}
			return
		}

		c.dispatch(env, handlers)
	}
}

func (c *WSClient) dispatch(env serverEnvelope, handlers Handlers) {
	switch env.Type {
	case "spawn":
		if handlers.OnSpawn != nil {
			handlers.OnSpawn()
		}
	case "chat":
		var p chatPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Printf("game: bad chat payload: %v", err)
			return
		}
		if handlers.OnChat != nil {
			handlers.OnChat(p.Sender, p.Text)
		}
	case "telemetry":
		var p telemetryPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Printf("game: bad telemetry payload: %v", err)
			return
		}
		c.mu.Lock()
		c.position = session.Position{X: p.X, Y: p.Y, Z: p.Z}
		c.health = p.Health
		if p.Dimension != "" {
			c.dimension = p.Dimension
		}
		c.mu.Unlock()
		if handlers.OnMove != nil {
			handlers.OnMove(session.Position{X: p.X, Y: p.Y, Z: p.Z})
		}
		if handlers.OnHealth != nil {
			handlers.OnHealth(p.Health)
		}
	case "players":
		var p playersPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Printf("game: bad players payload: %v", err)
			return
		}
		c.mu.Lock()
		c.players = p.Players
		c.mu.Unlock()
	case "inventory":
		var p inventoryPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Printf("game: bad inventory payload: %v", err)
			return
		}
		c.mu.Lock()
		c.inventory = p.Items
		c.mu.Unlock()
	case "kick":
		var p kickPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Printf("game: bad kick payload: %v", err)
		}
		if handlers.OnKick != nil {
			handlers.OnKick(p.Reason)
		}
	default:
		log.Printf("game: unknown envelope type %q", env.Type)
	}
}
