// Package announce runs the rotating background chat announcements. The
// loop yields to all other traffic (non-priority submissions) and stops
// whenever the session drops or a giveaway takes over the chat.
package announce

import (
	"log"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/kit-courier/bot/internal/config"
	"github.com/kit-courier/bot/internal/outbound"
	"github.com/kit-courier/bot/internal/session"
)

var builtinMessages = []string{
	"Kit bot is online!",
	"Type $kit for free items!",
	"Join our community channel for updates!",
}

// Submitter is the slice of the outbound queue the announcer needs.
type Submitter interface {
	SubmitWait(text string, priority, bypassLoginGate bool) bool
}

type Announcer struct {
	cfg   config.AnnounceConfig
	state *session.State
	chat  Submitter

	mu      sync.Mutex
	running bool
	stop    chan struct{}
}

func New(cfg config.AnnounceConfig, state *session.State, chat Submitter) *Announcer {
	return &Announcer{cfg: cfg, state: state, chat: chat}
}

// Start begins the loop. No-op unless the session is connected and logged
// in and no loop is already running.
func (a *Announcer) Start() {
	if !a.state.Connected() || !a.state.LoggedIn() {
		return
	}

	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	stop := make(chan struct{})
	a.stop = stop
	a.mu.Unlock()

	messages := a.loadMessages()
	log.Printf("announce: started with %d messages", len(messages))
	go a.loop(messages, stop)
}

// Stop halts the loop until Start is called again.
func (a *Announcer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return
	}
	a.running = false
	close(a.stop)
	a.stop = nil
}

// stopGeneration stops the loop only if stop is still the live channel, so
// a stale loop cannot tear down a restarted one.
func (a *Announcer) stopGeneration(stop chan struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running || a.stop != stop {
		return
	}
	a.running = false
	close(a.stop)
	a.stop = nil
}

func (a *Announcer) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// loop rotates through messages sequentially. Sequential rotation keeps the
// spacing between identical messages at exactly the pool size.
func (a *Announcer) loop(messages []string, stop chan struct{}) {
	idx := 0
	for {
		wait := a.cfg.Interval
		if a.cfg.Jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(a.cfg.Jitter)))
		}
		select {
		case <-stop:
			return
		case <-time.After(wait):
		}

		if !a.state.Connected() || !a.state.LoggedIn() {
			log.Printf("announce: session dropped, stopping")
			a.stopGeneration(stop)
			return
		}

		if a.chat.SubmitWait(messages[idx], false, false) {
			idx = (idx + 1) % len(messages)
		}
	}
}

// loadMessages reads candidate lines from the configured file, sanitized
// and bounded. Falls back to the built-in set when the file is missing or
// nothing survives filtering.
func (a *Announcer) loadMessages() []string {
	data, err := os.ReadFile(a.cfg.FilePath)
	if err != nil {
		log.Printf("announce: could not load %s: %v, using built-ins", a.cfg.FilePath, err)
		return builtinMessages
	}

	var messages []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || len(line) > a.cfg.MaxLength {
			continue
		}
		if clean := outbound.Sanitize(line, a.cfg.MaxLength); clean != "" {
			messages = append(messages, clean)
		}
	}
	if len(messages) == 0 {
		log.Printf("announce: no usable messages in %s, using built-ins", a.cfg.FilePath)
		return builtinMessages
	}
	return messages
}
