package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

type outEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type inEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type messageIn struct {
	ID      string `json:"id"`
	Channel string `json:"channel"`
	Author  string `json:"author"`
	Text    string `json:"text"`
	Bot     bool   `json:"bot"`
}

type sendOut struct {
	Channel string `json:"channel"`
	Text    string `json:"text,omitempty"`
	Embed   *Embed `json:"embed,omitempty"`
	ReplyTo string `json:"replyTo,omitempty"`
}

type reactOut struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

// WSMessenger speaks the chat gateway's websocket protocol. Outbound frames
// funnel through a buffered send channel drained by a single write pump;
// inbound messages for the configured channel surface on Commands().
type WSMessenger struct {
	url     string
	token   string
	channel string

	send     chan outEnvelope
	commands chan Command

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func NewWSMessenger(url, token, channel string) *WSMessenger {
	return &WSMessenger{
		url:      url,
		token:    token,
		channel:  channel,
		send:     make(chan outEnvelope, 64),
		commands: make(chan Command, 16),
	}
}

// Connect dials the gateway and starts the read and write pumps.
func (m *WSMessenger) Connect(ctx context.Context) error {
	header := http.Header{}
	if m.token != "" {
		header.Set("Authorization", "Bearer "+m.token)
	}
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, m.url, header)
	if err != nil {
		return fmt.Errorf("dial gateway %s: %w", m.url, err)
	}

	m.mu.Lock()
	m.conn = conn
	m.closed = false
	m.mu.Unlock()

	go m.writePump()
	go m.readPump()
	return nil
}

func (m *WSMessenger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.send)
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}

func (m *WSMessenger) enqueue(env outEnvelope) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return fmt.Errorf("gateway closed")
	}
	select {
	case m.send <- env:
		return nil
	default:
		return fmt.Errorf("gateway send buffer full")
	}
}

func (m *WSMessenger) Send(channel, text string) error {
	return m.enqueue(outEnvelope{Type: "send", Payload: sendOut{Channel: channel, Text: text}})
}

func (m *WSMessenger) SendEmbed(channel string, e Embed) error {
	return m.enqueue(outEnvelope{Type: "send", Payload: sendOut{Channel: channel, Embed: &e}})
}

func (m *WSMessenger) Reply(cmd Command, text string) error {
	return m.enqueue(outEnvelope{Type: "send", Payload: sendOut{
		Channel: cmd.Channel, Text: text, ReplyTo: cmd.ID,
	}})
}

func (m *WSMessenger) ReplyEmbed(cmd Command, e Embed) error {
	return m.enqueue(outEnvelope{Type: "send", Payload: sendOut{
		Channel: cmd.Channel, Embed: &e, ReplyTo: cmd.ID,
	}})
}

func (m *WSMessenger) React(cmd Command, ok bool) error {
	emoji := "✅"
	if !ok {
		emoji = "❌"
	}
	return m.enqueue(outEnvelope{Type: "react", Payload: reactOut{MessageID: cmd.ID, Emoji: emoji}})
}

func (m *WSMessenger) Commands() <-chan Command {
	return m.commands
}

func (m *WSMessenger) writePump() {
	for env := range m.send {
		m.mu.Lock()
		conn := m.conn
		m.mu.Unlock()
		if conn == nil {
			return
		}
		if err := conn.WriteJSON(env); err != nil {
			log.Printf("relay: write failed: %v", err)
			return
		}
	}
}

func (m *WSMessenger) readPump() {
	for {
		m.mu.Lock()
		conn := m.conn
		closed := m.closed
		m.mu.Unlock()
		if conn == nil || closed {
			return
		}

		var env inEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			m.mu.Lock()
			wasClosed := m.closed
			m.mu.Unlock()
			if !wasClosed {
				log.Printf("relay: read failed: %v", err)
			}
			return
		}
		if env.Type != "message" {
			continue
		}

		var msg messageIn
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			log.Printf("relay: bad message payload: %v", err)
			continue
		}
		// Ignore our own echoes and traffic outside the command channel.
		if msg.Bot || msg.Channel != m.channel {
			continue
		}

		select {
		case m.commands <- Command{ID: msg.ID, Channel: msg.Channel, Author: msg.Author, Text: msg.Text}:
		default:
			log.Printf("relay: command buffer full, dropping message %s", msg.ID)
		}
	}
}
