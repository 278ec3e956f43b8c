// Package outbound serializes every outgoing game chat line through a
// rate-limited two-class priority queue. A single drain goroutine enforces
// the minimum spacing between sends; each submission gets a result future.
package outbound

import (
	"log"
	"strings"
	"sync"
	"time"
)

// Sender delivers one raw chat line to the game connection.
type Sender interface {
	Chat(text string) error
}

// Gate exposes the connection and login flags consulted before enqueueing.
type Gate interface {
	Connected() bool
	LoggedIn() bool
}

type item struct {
	text   string
	result chan bool
}

// Options tunes the queue. AllowedPrefixes lists commands permitted before
// login completes (the handshake commands themselves).
type Options struct {
	MinDelay        time.Duration
	SendDelay       time.Duration
	MaxLength       int
	AllowedPrefixes []string
}

type Chat struct {
	gate Gate
	opts Options

	mu       sync.Mutex
	sender   Sender
	queue    []item // priority items sit in front of normal ones
	npri     int    // count of priority items at the head
	draining bool
	lastSent time.Time
}

func NewChat(gate Gate, opts Options) *Chat {
	if len(opts.AllowedPrefixes) == 0 {
		opts.AllowedPrefixes = []string{"/login", "/8b8t", "/help"}
	}
	return &Chat{gate: gate, opts: opts}
}

// SetSender swaps the underlying connection. Called on every reconnect.
// A nil sender makes all submissions fail fast.
func (c *Chat) SetSender(s Sender) {
	c.mu.Lock()
	c.sender = s
	c.mu.Unlock()
}

// Submit queues text for sending and returns a future resolved with true on
// a successful send. Rejections (not connected, not logged in, empty after
// sanitizing) resolve immediately with false.
func (c *Chat) Submit(text string, priority, bypassLoginGate bool) <-chan bool {
	result := make(chan bool, 1)

	c.mu.Lock()
	sender := c.sender
	c.mu.Unlock()

	if sender == nil || !c.gate.Connected() {
		log.Printf("chat: dropping message, not connected: %q", text)
		result <- false
		return result
	}
	if !c.gate.LoggedIn() && !bypassLoginGate && !c.allowedBeforeLogin(text) {
		log.Printf("chat: dropping message, not logged in: %q", text)
		result <- false
		return result
	}

	clean := Sanitize(text, c.opts.MaxLength)
	if clean == "" {
		log.Printf("chat: message empty after sanitizing")
		result <- false
		return result
	}

	c.mu.Lock()
	it := item{text: clean, result: result}
	if priority {
		c.queue = append(c.queue, item{})
		copy(c.queue[c.npri+1:], c.queue[c.npri:])
		c.queue[c.npri] = it
		c.npri++
	} else {
		c.queue = append(c.queue, it)
	}
	start := !c.draining
	if start {
		c.draining = true
	}
	c.mu.Unlock()

	if start {
		go c.drain()
	}
	return result
}

// SubmitWait is Submit for callers that need the outcome inline.
func (c *Chat) SubmitWait(text string, priority, bypassLoginGate bool) bool {
	return <-c.Submit(text, priority, bypassLoginGate)
}

func (c *Chat) allowedBeforeLogin(text string) bool {
	for _, prefix := range c.opts.AllowedPrefixes {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

// drain sends queued items one at a time. Only one drain runs; re-entrant
// submissions join the live queue instead of spawning another loop.
func (c *Chat) drain() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.draining = false
			c.mu.Unlock()
			return
		}
		it := c.queue[0]
		c.queue = c.queue[1:]
		if c.npri > 0 {
			c.npri--
		}
		sender := c.sender
		wait := c.opts.MinDelay - time.Since(c.lastSent)
		c.mu.Unlock()

		if wait > 0 {
			time.Sleep(wait)
		}

		if sender == nil {
			it.result <- false
			continue
		}
		if err := sender.Chat(it.text); err != nil {
			log.Printf("chat: send failed: %v", err)
			it.result <- false
		} else {
			c.mu.Lock()
			c.lastSent = time.Now()
			c.mu.Unlock()
			it.result <- true
		}

		time.Sleep(c.opts.SendDelay)
	}
}

// QueueLen reports how many items are waiting to be sent.
func (c *Chat) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Sanitize strips non-printable characters, trims whitespace and truncates
// to maxLen. Returns "" when nothing printable remains.
func Sanitize(text string, maxLen int) string {
	var b strings.Builder
	for _, r := range text {
		if r >= 0x20 && r <= 0x7e {
			b.WriteRune(r)
		}
	}
	clean := strings.TrimSpace(b.String())
	if maxLen > 0 && len(clean) > maxLen {
		clean = clean[:maxLen]
	}
	return clean
}
