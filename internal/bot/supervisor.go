// Package bot owns the game connection lifecycle: connecting, wiring event
// handlers into the session and command router, reconnecting with backoff,
// and keeping the bot alive in the world (auto-eat).
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/kit-courier/bot/internal/announce"
	"github.com/kit-courier/bot/internal/config"
	"github.com/kit-courier/bot/internal/game"
	"github.com/kit-courier/bot/internal/login"
	"github.com/kit-courier/bot/internal/outbound"
	"github.com/kit-courier/bot/internal/relay"
	"github.com/kit-courier/bot/internal/session"
)

// loginTriggerTimer names the post-spawn login delay so Reset cancels it.
const loginTriggerTimer = "login-trigger"

// loginTriggerDelay gives the server a moment to finish spawning the bot
// before the authentication sequence starts.
const loginTriggerDelay = 2 * time.Second

// foods are inventory item names the bot will eat when health drops, in
// preference order.
var foods = []string{
	"golden_apple",
	"cooked_beef",
	"cooked_porkchop",
	"bread",
	"baked_potato",
	"apple",
}

// ClientFactory builds a fresh game client for each connection attempt.
type ClientFactory func(cfg config.GameConfig) game.Client

type Supervisor struct {
	cfg       *config.Config
	state     *session.State
	chat      *outbound.Chat
	driver    *login.Driver
	announcer *announce.Announcer
	msgr      relay.Messenger
	factory   ClientFactory

	// chatHandler is set after construction to break the cycle with the
	// command router.
	chatHandler func(sender, message string)

	mu      sync.Mutex
	client  game.Client
	delay   time.Duration
	dropped chan string
	eating  bool
}

func NewSupervisor(
	cfg *config.Config,
	state *session.State,
	chat *outbound.Chat,
	driver *login.Driver,
	announcer *announce.Announcer,
	msgr relay.Messenger,
	factory ClientFactory,
) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		state:     state,
		chat:      chat,
		driver:    driver,
		announcer: announcer,
		msgr:      msgr,
		factory:   factory,
		delay:     cfg.Game.ReconnectDelay,
		dropped:   make(chan string, 4),
	}
}

// SetChatHandler wires inbound game chat to the command router.
func (s *Supervisor) SetChatHandler(h func(sender, message string)) {
	s.chatHandler = h
}

// Client returns the live game client, or nil between connections.
func (s *Supervisor) Client() game.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Restart drops the current connection; the run loop reconnects.
func (s *Supervisor) Restart() {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client != nil {
		client.Close()
	}
	s.signalDrop("restart requested")
}

// Run connects and keeps reconnecting until the context ends or the attempt
// budget is exhausted.
func (s *Supervisor) Run(ctx context.Context) error {
	attempts := 0
	for {
		if err := s.connect(ctx); err != nil {
			attempts++
			log.Printf("bot: connect failed (attempt %d/%d): %v",
				attempts, s.cfg.Game.MaxReconnectAttempts, err)
			if attempts >= s.cfg.Game.MaxReconnectAttempts {
				return fmt.Errorf("giving up after %d connection attempts: %w", attempts, err)
			}
			if !s.waitBackoff(ctx, "connect error") {
				return ctx.Err()
			}
			continue
		}
		attempts = 0

		var reason string
		select {
		case <-ctx.Done():
			s.teardown()
			return ctx.Err()
		case reason = <-s.dropped:
		}

		log.Printf("bot: connection dropped: %s", reason)
		s.teardown()
		s.notifyRelay(fmt.Sprintf("**Disconnected:** %s", reason))

		attempts++
		if attempts >= s.cfg.Game.MaxReconnectAttempts {
			return errors.New("giving up: too many reconnects")
		}
		if !s.waitBackoff(ctx, reason) {
			return ctx.Err()
		}
	}
}

func (s *Supervisor) connect(ctx context.Context) error {
	// Drain drop signals left over from the previous connection.
	for {
		select {
		case <-s.dropped:
			continue
		default:
		}
		break
	}

	client := s.factory(s.cfg.Game)
	client.SetHandlers(s.handlers(client))

	if err := client.Connect(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	s.chat.SetSender(client)
	log.Printf("bot: connected to %s as %s", s.cfg.Game.URL, s.cfg.Game.Username)
	return nil
}

func (s *Supervisor) teardown() {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if client != nil {
		client.Close()
	}
	s.chat.SetSender(nil)
	s.announcer.Stop()
	s.state.Reset()
}

// waitBackoff sleeps the current reconnect delay, growing it when the drop
// reason smells like server-side rate limiting. Returns false when ctx ends.
func (s *Supervisor) waitBackoff(ctx context.Context, reason string) bool {
	s.mu.Lock()
	delay := s.delay
	lower := strings.ToLower(reason)
	if strings.Contains(lower, "too fast") || strings.Contains(lower, "login") {
		s.delay = time.Duration(float64(s.delay) * 1.5)
		if s.delay > s.cfg.Game.MaxReconnectDelay {
			s.delay = s.cfg.Game.MaxReconnectDelay
		}
	}
	s.mu.Unlock()

	log.Printf("bot: reconnecting in %s", delay)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (s *Supervisor) signalDrop(reason string) {
	select {
	case s.dropped <- reason:
	default:
	}
}

func (s *Supervisor) handlers(client game.Client) game.Handlers {
	return game.Handlers{
		OnSpawn: func() {
			log.Printf("bot: spawned in world")
			s.state.SetConnected(true)

			s.mu.Lock()
			s.delay = s.cfg.Game.ReconnectDelay
			s.mu.Unlock()

			if !s.state.LoggedIn() && !s.state.LoginInProgress() {
				t := time.AfterFunc(loginTriggerDelay, s.driver.Start)
				s.state.RegisterTimer(loginTriggerTimer, t)
			}
		},
		OnChat: func(sender, message string) {
			if s.chatHandler != nil {
				s.chatHandler(sender, message)
			}
		},
		OnKick: func(reason string) {
			s.signalDrop("kicked: " + reason)
		},
		OnError: func(err error) {
			s.signalDrop("error: " + err.Error())
		},
		OnDisconnect: func() {
			s.signalDrop("connection closed")
		},
		OnMove: func(pos session.Position) {
			s.state.SetPosition(pos)
			s.state.SetDimension(client.Dimension())
		},
		OnHealth: func(h float64) {
			s.state.SetHealth(h)
			if h > 0 && h <= s.cfg.Game.HealthThreshold {
				s.autoEat(client)
			}
		},
	}
}

// autoEat equips and consumes the first known food in the inventory. One
// attempt at a time; health events arrive faster than eating finishes.
func (s *Supervisor) autoEat(client game.Client) {
	s.mu.Lock()
	if s.eating {
		s.mu.Unlock()
		return
	}
	s.eating = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.eating = false
			s.mu.Unlock()
		}()

		inventory := client.Inventory()
		for _, food := range foods {
			for _, it := range inventory {
				if it.Name != food {
					continue
				}
				log.Printf("bot: health low, eating %s", it.Label())
				if err := client.EquipAndUse(it.Name); err != nil {
					log.Printf("bot: eating failed: %v", err)
				}
				return
			}
		}
		log.Printf("bot: health low but no food in inventory")
	}()
}

func (s *Supervisor) notifyRelay(text string) {
	if s.msgr == nil || s.cfg.Relay.Channel == "" {
		return
	}
	if err := s.msgr.Send(s.cfg.Relay.Channel, text); err != nil {
		log.Printf("bot: relay notify failed: %v", err)
	}
}
