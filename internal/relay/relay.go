// Package relay binds the bot to the external messaging platform: one
// configured command channel plus a coordination channel that receives a
// line per completed delivery.
package relay

// Embed colors used across notifications.
const (
	ColorSuccess = 0x00ff00
	ColorError   = 0xff0000
	ColorWarning = 0xffaa00
	ColorInfo    = 0x0099ff
)

// Field is one titled value inside an Embed.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Embed is a structured rich message.
type Embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Color       int     `json:"color"`
	Fields      []Field `json:"fields,omitempty"`
}

// Command is an inbound message from the configured command channel.
type Command struct {
	ID      string
	Channel string
	Author  string
	Text    string
}

// Messenger is the messaging-platform collaborator boundary. Authentication
// and platform details live behind the implementation.
type Messenger interface {
	Send(channel, text string) error
	SendEmbed(channel string, e Embed) error

	// Commands yields inbound messages scoped to the configured channel.
	Commands() <-chan Command

	Reply(cmd Command, text string) error
	ReplyEmbed(cmd Command, e Embed) error

	// React marks cmd with a success or failure reaction.
	React(cmd Command, ok bool) error

	Close() error
}
