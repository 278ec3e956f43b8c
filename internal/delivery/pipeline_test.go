package delivery

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kit-courier/bot/internal/config"
	"github.com/kit-courier/bot/internal/relay"
	"github.com/kit-courier/bot/internal/session"
)

type recordingChat struct {
	mu   sync.Mutex
	sent []string
}

func (c *recordingChat) Submit(text string, priority, bypass bool) <-chan bool {
	c.mu.Lock()
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	result := make(chan bool, 1)
	result <- true
	return result
}

func (c *recordingChat) SubmitWait(text string, priority, bypass bool) bool {
	return <-c.Submit(text, priority, bypass)
}

func (c *recordingChat) lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *recordingChat) contains(substr string) bool {
	for _, line := range c.lines() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func testPipelineConfig() *config.Config {
	cfg := config.Default()
	cfg.Kit.Cooldown = 30 * time.Second
	cfg.Kit.VIPCooldown = 10 * time.Second
	cfg.Kit.AcceptWindow = 60 * time.Millisecond
	cfg.Kit.DeliveryDelay = 5 * time.Millisecond
	cfg.Kit.WatchInterval = 2 * time.Millisecond
	cfg.Kit.MoveThreshold = 5
	cfg.Kit.SpawnProximity = 5
	cfg.Kit.GraceDelay = 5 * time.Millisecond
	cfg.Kit.RecoveryDelay = 5 * time.Millisecond
	cfg.Kit.MaxQueueSize = 3
	cfg.Relay.CoordsChannel = "coords"
	return cfg
}

func newTestPipeline(cfg *config.Config) (*Pipeline, *session.State, *recordingChat, *relay.Recorder) {
	state := session.New(session.Options{
		Cooldown:     cfg.Kit.Cooldown,
		VIPCooldown:  cfg.Kit.VIPCooldown,
		MaxQueueSize: cfg.Kit.MaxQueueSize,
	})
	state.SetPosition(session.Position{X: 100, Y: 64, Z: 100})
	chat := &recordingChat{}
	rec := relay.NewRecorder()
	return New(cfg, state, chat, rec), state, chat, rec
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

func TestDeliveryCompletesOnArrival(t *testing.T) {
	cfg := testPipelineConfig()
	p, state, chat, rec := newTestPipeline(cfg)

	p.Request("alice", "")

	// Preparation command fires, then the teleport request.
	waitFor(t, func() bool { return chat.contains("/tpa alice") })

	// Simulate the teleport completing: the bot is displaced well past the
	// movement threshold.
	state.SetPosition(session.Position{X: 300, Y: 70, Z: -40})

	waitFor(t, func() bool { return !state.DeliveryInProgress() })

	if !chat.contains("/home kit") {
		t.Error("preparation command never sent")
	}
	if !chat.contains("Kit delivered") {
		t.Error("success whisper never sent")
	}
	if state.StatsSnapshot().Deliveries != 1 {
		t.Errorf("Deliveries = %d, want 1", state.StatsSnapshot().Deliveries)
	}
	if state.CooldownRemaining("alice", time.Now()) == 0 {
		t.Error("no cooldown stamped after delivery")
	}

	msgs := rec.Messages()
	if len(msgs) != 1 || msgs[0].Channel != "coords" {
		t.Fatalf("coords messages = %+v, want one on coords channel", msgs)
	}
	if !strings.Contains(msgs[0].Text, "alice") || !strings.Contains(msgs[0].Text, "{300, 70, -40}") {
		t.Errorf("coords line = %q", msgs[0].Text)
	}
}

func TestDeliveryTimeout(t *testing.T) {
	cfg := testPipelineConfig()
	p, state, chat, _ := newTestPipeline(cfg)

	p.Request("alice", "")
	waitFor(t, func() bool { return chat.contains("/tpa alice") })

	// No movement: the acceptance window elapses.
	waitFor(t, func() bool { return !state.DeliveryInProgress() })

	if !chat.contains("/tpacancel") {
		t.Error("teleport request never cancelled")
	}
	if !chat.contains("Timeout") {
		t.Error("timeout whisper never sent")
	}
	if state.StatsSnapshot().Deliveries != 0 {
		t.Error("timed-out delivery counted as success")
	}
	// Timeout still stamps the cooldown.
	if state.CooldownRemaining("alice", time.Now()) == 0 {
		t.Error("no cooldown stamped after timeout")
	}
}

func TestSecondRequestQueuesAndFollows(t *testing.T) {
	cfg := testPipelineConfig()
	p, state, chat, _ := newTestPipeline(cfg)

	p.Request("alice", "")
	waitFor(t, func() bool { return chat.contains("/tpa alice") })

	p.Request("bob", "pvp")
	if !chat.contains("Added to queue. Position: 1") {
		t.Errorf("bob not queued: %v", chat.lines())
	}

	// Alice accepts; bob's delivery follows after the grace delay.
	state.SetPosition(session.Position{X: 300, Y: 70, Z: -40})
	waitFor(t, func() bool { return chat.contains("/tpa bob") })

	if !chat.contains("/home pvp") {
		t.Error("bob's preparation command never sent")
	}
}

func TestQueuedEntryKeepsTurnWhenSlotTaken(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Kit.GraceDelay = 100 * time.Millisecond
	p, state, chat, _ := newTestPipeline(cfg)

	p.Request("alice", "")
	waitFor(t, func() bool { return chat.contains("/tpa alice") })
	p.Request("bob", "pvp")

	// Alice completes; the grace window before bob's promotion opens.
	state.SetPosition(session.Position{X: 300, Y: 70, Z: -40})
	waitFor(t, func() bool { return !state.DeliveryInProgress() })

	// A fresh request claims the freed slot inside the window.
	p.Request("carol", "")
	waitFor(t, func() bool { return chat.contains("/tpa carol") })

	// Carol completes too. Bob stayed at the head of the queue and must
	// still get his delivery.
	state.SetPosition(session.Position{X: -300, Y: 70, Z: 500})
	waitFor(t, func() bool { return chat.contains("/tpa bob") })

	if !chat.contains("/home pvp") {
		t.Error("bob's preparation command never sent")
	}
}

func TestRequestWhileQueuedUpdatesKind(t *testing.T) {
	cfg := testPipelineConfig()
	p, state, chat, _ := newTestPipeline(cfg)

	p.Request("alice", "")
	waitFor(t, func() bool { return state.DeliveryInProgress() })

	p.Request("bob", "kit")
	p.Request("bob", "pvp")

	if !chat.contains("Queue entry updated to pvp. Position: 1") {
		t.Errorf("kind update message missing: %v", chat.lines())
	}
	entries := state.QueueEntries()
	if len(entries) != 1 || entries[0].Kind != "pvp" {
		t.Errorf("queue = %+v, want single bob/pvp entry", entries)
	}
}

func TestRepeatRequestBlockedByCooldown(t *testing.T) {
	cfg := testPipelineConfig()
	p, state, chat, _ := newTestPipeline(cfg)

	state.SetCooldown("alice", time.Now())
	p.Request("alice", "")

	if !chat.contains("Cooldown") {
		t.Errorf("cooldown rejection missing: %v", chat.lines())
	}
	if state.DeliveryInProgress() {
		t.Error("delivery started despite cooldown")
	}
}

func TestCurrentRecipientRejectedNotQueued(t *testing.T) {
	cfg := testPipelineConfig()
	p, state, chat, _ := newTestPipeline(cfg)

	p.Request("alice", "")
	waitFor(t, func() bool { return state.DeliveryInProgress() })

	p.Request("ALICE", "")
	if !chat.contains("already being prepared") {
		t.Errorf("repeat-request message missing: %v", chat.lines())
	}
	if state.QueueLen() != 0 {
		t.Error("current recipient was queued")
	}
}

func TestBlacklistedRejected(t *testing.T) {
	cfg := testPipelineConfig()
	state := session.New(session.Options{
		Cooldown:     cfg.Kit.Cooldown,
		VIPCooldown:  cfg.Kit.VIPCooldown,
		MaxQueueSize: cfg.Kit.MaxQueueSize,
		Blacklist:    []string{"mallory"},
	})
	state.SetPosition(session.Position{X: 100, Y: 64, Z: 100})
	chat := &recordingChat{}
	p := New(cfg, state, chat, relay.NewRecorder())

	p.Request("Mallory", "")
	if !chat.contains("banned") {
		t.Errorf("blacklist rejection missing: %v", chat.lines())
	}
	if state.DeliveryInProgress() {
		t.Error("delivery started for blacklisted identity")
	}
}

func TestMaintenanceModeVIPOnly(t *testing.T) {
	cfg := testPipelineConfig()
	state := session.New(session.Options{
		Cooldown:     cfg.Kit.Cooldown,
		VIPCooldown:  cfg.Kit.VIPCooldown,
		MaxQueueSize: cfg.Kit.MaxQueueSize,
		VIPs:         []string{"vera"},
	})
	state.SetPosition(session.Position{X: 100, Y: 64, Z: 100})
	state.ToggleDevMode()
	chat := &recordingChat{}
	p := New(cfg, state, chat, relay.NewRecorder())

	p.Request("alice", "")
	if !chat.contains("maintenance mode") {
		t.Errorf("maintenance rejection missing: %v", chat.lines())
	}

	p.Request("Vera", "")
	waitFor(t, func() bool { return state.DeliveryInProgress() })
}

func TestUnknownKindRejected(t *testing.T) {
	cfg := testPipelineConfig()
	p, state, chat, _ := newTestPipeline(cfg)

	p.Request("alice", "diamond")
	if !chat.contains("Unknown kit kind") {
		t.Errorf("unknown-kind rejection missing: %v", chat.lines())
	}
	if state.DeliveryInProgress() {
		t.Error("delivery started for unknown kind")
	}
}

func TestMatchesSpawnDistanceError(t *testing.T) {
	tests := []struct {
		message string
		want    bool
	}{
		{"You must be at least 1000 blocks from spawn in order to use /home", true},
		{"You must be 500 blocks from spawn in order to use /tpa here", true},
		{"blocks from spawn in order to use something else", false},
		{"teleport request sent", false},
	}

	for _, tt := range tests {
		if got := MatchesSpawnDistanceError(tt.message); got != tt.want {
			t.Errorf("MatchesSpawnDistanceError(%q) = %v, want %v", tt.message, got, tt.want)
		}
	}
}

func TestRecoverSpawnDistanceRestartsRun(t *testing.T) {
	cfg := testPipelineConfig()
	p, _, chat, _ := newTestPipeline(cfg)

	p.Request("alice", "")
	waitFor(t, func() bool { return chat.contains("/home kit") })

	p.RecoverSpawnDistance()

	if !chat.contains("/kill") {
		t.Error("recovery did not self-neutralize")
	}

	// The retry re-runs the preparation phase for the same recipient.
	waitFor(t, func() bool {
		count := 0
		for _, line := range chat.lines() {
			if line == "/home kit" {
				count++
			}
		}
		return count >= 2
	})

	if recipient, ok := p.CurrentRecipient(); !ok || recipient != "alice" {
		t.Errorf("recipient after recovery = (%q, %v), want alice", recipient, ok)
	}
}

func TestRecoverAfterHandledIsIgnored(t *testing.T) {
	cfg := testPipelineConfig()
	p, state, chat, _ := newTestPipeline(cfg)

	p.Request("alice", "")
	waitFor(t, func() bool { return chat.contains("/tpa alice") })

	// Teleport completes first; the late spawn-distance line must not
	// restart anything.
	state.SetPosition(session.Position{X: 300, Y: 70, Z: -40})
	waitFor(t, func() bool { return !state.DeliveryInProgress() })

	before := len(chat.lines())
	p.RecoverSpawnDistance()
	time.Sleep(20 * time.Millisecond)

	if state.DeliveryInProgress() {
		t.Error("stale recovery restarted a delivery")
	}
	if len(chat.lines()) != before {
		t.Errorf("stale recovery sent messages: %v", chat.lines()[before:])
	}
}

func TestCancelCurrent(t *testing.T) {
	cfg := testPipelineConfig()
	p, state, chat, _ := newTestPipeline(cfg)

	p.Request("alice", "")
	waitFor(t, func() bool { return state.DeliveryInProgress() })

	if !p.CancelCurrent("Delivery cancelled for maintenance.") {
		t.Fatal("CancelCurrent found nothing in flight")
	}
	if state.DeliveryInProgress() {
		t.Error("delivery still in progress after cancel")
	}
	if !chat.contains("cancelled for maintenance") {
		t.Errorf("cancel whisper missing: %v", chat.lines())
	}

	if p.CancelCurrent("again") {
		t.Error("CancelCurrent succeeded with nothing in flight")
	}
}
