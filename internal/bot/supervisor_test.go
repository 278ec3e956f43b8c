package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kit-courier/bot/internal/announce"
	"github.com/kit-courier/bot/internal/config"
	"github.com/kit-courier/bot/internal/game"
	"github.com/kit-courier/bot/internal/login"
	"github.com/kit-courier/bot/internal/outbound"
	"github.com/kit-courier/bot/internal/relay"
	"github.com/kit-courier/bot/internal/session"
)

func newTestSupervisor(factory ClientFactory) (*Supervisor, *session.State) {
	cfg := config.Default()
	cfg.Game.ReconnectDelay = 2 * time.Millisecond
	cfg.Game.MaxReconnectDelay = 10 * time.Millisecond
	cfg.Game.MaxReconnectAttempts = 3
	cfg.Chat.MinDelay = time.Millisecond
	cfg.Chat.SendDelay = 0
	cfg.Login.StartDelay = time.Millisecond
	cfg.Login.PrimaryDelay = time.Millisecond
	cfg.Login.SetupDelay = time.Millisecond

	state := session.New(session.Options{MaxQueueSize: 1})
	chat := outbound.NewChat(state, outbound.Options{
		MinDelay:  cfg.Chat.MinDelay,
		MaxLength: cfg.Chat.MaxLength,
	})
	announcer := announce.New(cfg.Announce, state, chat)
	driver := login.New(cfg.Login, state, chat, nil)

	return NewSupervisor(cfg, state, chat, driver, announcer, relay.NewRecorder(), factory), state
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestRunConnectsAndReconnectsOnKick(t *testing.T) {
	var mu sync.Mutex
	var clients []*game.Fake
	factory := func(gc config.GameConfig) game.Client {
		f := game.NewFake(gc.Username)
		mu.Lock()
		clients = append(clients, f)
		mu.Unlock()
		return f
	}
	clientCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(clients)
	}
	s, state := newTestSupervisor(factory)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool { return s.Client() != nil })
	mu.Lock()
	first := clients[0]
	mu.Unlock()
	first.EmitSpawn()
	waitFor(t, state.Connected)

	first.EmitKick("flying is not enabled")

	// A second client appears after the backoff.
	waitFor(t, func() bool { return clientCount() >= 2 })
	if state.StatsSnapshot().Reconnects == 0 {
		t.Error("Reset never ran after kick")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit on cancel")
	}
}

func TestHandlersMirrorTelemetry(t *testing.T) {
	fake := game.NewFake("courier")
	s, state := newTestSupervisor(func(config.GameConfig) game.Client { return fake })
	fake.SetHandlers(s.handlers(fake))

	fake.SetPosition(session.Position{X: 10, Y: 64, Z: -20})
	if got := state.Position(); got.X != 10 || got.Z != -20 {
		t.Errorf("position = %+v, want mirrored", got)
	}

	fake.SetHealth(18)
	if state.Health() != 18 {
		t.Errorf("health = %v, want 18", state.Health())
	}
}

func TestChatHandlerReceivesGameChat(t *testing.T) {
	fake := game.NewFake("courier")
	s, _ := newTestSupervisor(func(config.GameConfig) game.Client { return fake })

	var gotSender, gotText string
	s.SetChatHandler(func(sender, text string) {
		gotSender, gotText = sender, text
	})
	fake.SetHandlers(s.handlers(fake))

	fake.EmitChat("alice", "$kit")
	if gotSender != "alice" || gotText != "$kit" {
		t.Errorf("chat handler got (%q, %q)", gotSender, gotText)
	}
}

func TestBackoffGrowsOnRateLimit(t *testing.T) {
	s, _ := newTestSupervisor(func(gc config.GameConfig) game.Client {
		return game.NewFake(gc.Username)
	})

	base := s.delay
	s.waitBackoff(context.Background(), "kicked: you are logging in too fast")
	if s.delay <= base {
		t.Errorf("delay = %s, want growth past %s", s.delay, base)
	}

	for i := 0; i < 10; i++ {
		s.waitBackoff(context.Background(), "kicked: login throttled")
	}
	if s.delay > s.cfg.Game.MaxReconnectDelay {
		t.Errorf("delay = %s, exceeded cap %s", s.delay, s.cfg.Game.MaxReconnectDelay)
	}

	// Unrelated reasons leave the delay alone.
	before := s.delay
	s.waitBackoff(context.Background(), "connection closed")
	if s.delay != before {
		t.Errorf("delay = %s, want unchanged %s", s.delay, before)
	}
}
