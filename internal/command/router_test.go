package command

import (
	"strings"
	"testing"
	"time"

	"github.com/kit-courier/bot/internal/announce"
	"github.com/kit-courier/bot/internal/config"
	"github.com/kit-courier/bot/internal/delivery"
	"github.com/kit-courier/bot/internal/game"
	"github.com/kit-courier/bot/internal/giveaway"
	"github.com/kit-courier/bot/internal/login"
	"github.com/kit-courier/bot/internal/outbound"
	"github.com/kit-courier/bot/internal/relay"
	"github.com/kit-courier/bot/internal/session"
)

type fixture struct {
	router *Router
	state  *session.State
	fake   *game.Fake
	rec    *relay.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Chat.MinDelay = time.Millisecond
	cfg.Chat.SendDelay = 0
	cfg.Kit.DeliveryDelay = 5 * time.Millisecond
	cfg.Kit.WatchInterval = 2 * time.Millisecond
	cfg.Kit.AcceptWindow = 50 * time.Millisecond
	cfg.Kit.GraceDelay = 5 * time.Millisecond
	cfg.Operators = []string{"admin"}
	cfg.Relay.Channel = "bridge"
	cfg.Relay.CoordsChannel = "coords"

	state := session.New(session.Options{
		Cooldown:     cfg.Kit.Cooldown,
		VIPCooldown:  cfg.Kit.VIPCooldown,
		MaxQueueSize: cfg.Kit.MaxQueueSize,
		VIPs:         []string{"vera"},
	})
	state.SetConnected(true)
	state.SetLoggedIn(true)
	state.SetPosition(session.Position{X: 100, Y: 64, Z: 100})

	fake := game.NewFake(cfg.Game.Username)
	fake.Connect(nil)

	chat := outbound.NewChat(state, outbound.Options{
		MinDelay:  cfg.Chat.MinDelay,
		SendDelay: cfg.Chat.SendDelay,
		MaxLength: cfg.Chat.MaxLength,
	})
	chat.SetSender(fake)

	rec := relay.NewRecorder()
	announcer := announce.New(cfg.Announce, state, chat)
	driver := login.New(cfg.Login, state, chat, nil)
	pipeline := delivery.New(cfg, state, chat, rec)
	giveaways := giveaway.NewManager(cfg.Giveaway, state, chat, announcer)

	router := NewRouter(cfg, state, chat, pipeline, giveaways, announcer, driver, rec, Hooks{
		Client: func() game.Client { return fake },
	})

	return &fixture{router: router, state: state, fake: fake, rec: rec}
}

func (f *fixture) waitSent(t *testing.T, substr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, line := range f.fake.Sent() {
			if strings.Contains(line, substr) {
				return
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("never sent %q; sent: %v", substr, f.fake.Sent())
}

func (f *fixture) sentContains(substr string) bool {
	for _, line := range f.fake.Sent() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestKitCommandStartsDelivery(t *testing.T) {
	f := newFixture(t)

	f.router.HandleGameChat("alice", "$kit")
	f.waitSent(t, "/home kit")
	f.waitSent(t, "/tpa alice")
}

func TestOwnMessagesIgnored(t *testing.T) {
	f := newFixture(t)

	f.router.HandleGameChat("courier", "$kit")
	time.Sleep(20 * time.Millisecond)

	if f.state.DeliveryInProgress() {
		t.Error("bot reacted to its own chat line")
	}
	if f.state.StatsSnapshot().MessagesReceived != 0 {
		t.Error("own message counted")
	}
}

func TestGameChatForwardedToRelay(t *testing.T) {
	f := newFixture(t)

	f.router.HandleGameChat("alice", "hello there")

	msgs := f.rec.Messages()
	if len(msgs) != 1 || msgs[0].Channel != "bridge" {
		t.Fatalf("relay messages = %+v, want one on bridge", msgs)
	}
	if !strings.Contains(msgs[0].Text, "alice") || !strings.Contains(msgs[0].Text, "hello there") {
		t.Errorf("forwarded line = %q", msgs[0].Text)
	}
	if f.state.StatsSnapshot().MessagesReceived != 1 {
		t.Error("message not counted")
	}
}

func TestLoginSuccessLineDetected(t *testing.T) {
	f := newFixture(t)
	f.state.SetLoggedIn(false)

	f.router.HandleGameChat("Server", "You have successfully logged in!")
	if !f.state.LoggedIn() {
		t.Error("server login confirmation not applied")
	}
}

func TestQueueCommandWhenEmpty(t *testing.T) {
	f := newFixture(t)

	f.router.HandleGameChat("alice", "$queue")
	f.waitSent(t, "/msg alice Queue is empty")
}

func TestDevToggleRequiresOperator(t *testing.T) {
	f := newFixture(t)

	f.router.HandleGameChat("alice", "$dev")
	f.waitSent(t, "don't have permission")
	if f.state.DevMode() {
		t.Error("non-operator enabled maintenance mode")
	}
}

func TestDevTogglePurgesNonVIPs(t *testing.T) {
	f := newFixture(t)
	f.state.Enqueue("alice", "kit")
	f.state.Enqueue("vera", "kit")

	f.router.HandleGameChat("Admin", "$dev")
	f.waitSent(t, "Maintenance mode ENABLED")

	entries := f.state.QueueEntries()
	if len(entries) != 1 || entries[0].Identity != "vera" {
		t.Errorf("queue after purge = %+v, want only vera", entries)
	}
	if !f.state.DevMode() {
		t.Error("maintenance mode not enabled")
	}
}

func TestHealthCommandVIPGated(t *testing.T) {
	f := newFixture(t)
	f.state.SetHealth(12)

	f.router.HandleGameChat("alice", "$health")
	f.waitSent(t, "VIP access required")

	f.router.HandleGameChat("Vera", "$health")
	f.waitSent(t, "Bot health: 12/20")
}

func TestSeedCommand(t *testing.T) {
	f := newFixture(t)

	f.router.HandleGameChat("alice", "$seed")
	f.waitSent(t, "-9079062558503125353")
}

func TestPingCommand(t *testing.T) {
	f := newFixture(t)
	f.fake.SetPlayers([]game.PlayerInfo{
		{Name: "alice", Ping: 42},
		{Name: "bob", Ping: 180},
		{Name: "courier", Ping: 1},
	})

	f.router.HandleGameChat("alice", "$ping")
	f.waitSent(t, "alice's ping: 42ms")

	f.router.HandleGameChat("alice", "$ping BOB")
	f.waitSent(t, "bob's ping: 180ms")

	f.router.HandleGameChat("alice", "$bestping")
	f.waitSent(t, "best ping: alice (42ms)")

	f.router.HandleGameChat("alice", "$worstping")
	f.waitSent(t, "worst ping: bob (180ms)")
}

func TestGiveawayJoinViaGameChat(t *testing.T) {
	f := newFixture(t)

	f.router.HandleGameChat("alice", "$giveaway")
	f.waitSent(t, "No active giveaway!")
}

func TestRelayPlainTextForwardsToGame(t *testing.T) {
	f := newFixture(t)

	f.router.HandleRelayCommand(relay.Command{ID: "1", Channel: "bridge", Author: "admin", Text: "hello world"})
	f.waitSent(t, "hello world")

	reactions := f.rec.Reactions()
	if len(reactions) != 1 || !reactions[0] {
		t.Errorf("reactions = %v, want [true]", reactions)
	}
}

func TestRelayUnknownCommand(t *testing.T) {
	f := newFixture(t)

	f.router.HandleRelayCommand(relay.Command{ID: "1", Text: "$frobnicate"})

	msgs := f.rec.Messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "Unknown command") {
		t.Fatalf("messages = %+v, want unknown-command reply", msgs)
	}
	reactions := f.rec.Reactions()
	if len(reactions) != 1 || reactions[0] {
		t.Errorf("reactions = %v, want [false]", reactions)
	}
}

func TestRelayVIPManagement(t *testing.T) {
	f := newFixture(t)

	f.router.HandleRelayCommand(relay.Command{ID: "1", Text: "$vip add Dave"})
	if !f.state.IsVIP("dave") {
		t.Error("vip add did not register dave")
	}

	f.router.HandleRelayCommand(relay.Command{ID: "2", Text: "$vip list"})
	msgs := f.rec.Messages()
	last := msgs[len(msgs)-1]
	if !strings.Contains(last.Text, "dave") || !strings.Contains(last.Text, "vera") {
		t.Errorf("vip list = %q", last.Text)
	}

	f.router.HandleRelayCommand(relay.Command{ID: "3", Text: "$vip remove dave"})
	if f.state.IsVIP("dave") {
		t.Error("vip remove left dave in place")
	}
}

func TestRelayClearQueue(t *testing.T) {
	f := newFixture(t)
	f.state.Enqueue("alice", "kit")
	f.state.Enqueue("bob", "pvp")

	f.router.HandleRelayCommand(relay.Command{ID: "1", Text: "$clearqueue"})

	if f.state.QueueLen() != 0 {
		t.Error("queue not cleared")
	}
	msgs := f.rec.Messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "Cleared 2 entries") {
		t.Errorf("reply = %+v", msgs)
	}
}

func TestRelayStatsEmbed(t *testing.T) {
	f := newFixture(t)

	f.router.HandleRelayCommand(relay.Command{ID: "1", Text: "$stats"})

	msgs := f.rec.Messages()
	if len(msgs) != 1 || msgs[0].Embed == nil {
		t.Fatalf("messages = %+v, want one embed", msgs)
	}
	if msgs[0].Embed.Title != "Bot Statistics" {
		t.Errorf("embed title = %q", msgs[0].Embed.Title)
	}
}

func TestRelayInventoryAggregates(t *testing.T) {
	f := newFixture(t)
	f.fake.SetInventory([]game.Item{
		{Name: "diamond", Count: 32},
		{Name: "diamond", Count: 16},
		{Name: "bread", DisplayName: "Bread", Count: 5},
	})

	f.router.HandleRelayCommand(relay.Command{ID: "1", Text: "$inv"})

	msgs := f.rec.Messages()
	if len(msgs) != 1 || msgs[0].Embed == nil {
		t.Fatalf("messages = %+v, want one embed", msgs)
	}
	desc := msgs[0].Embed.Description
	if !strings.Contains(desc, "48x diamond") || !strings.Contains(desc, "5x Bread") {
		t.Errorf("inventory description = %q", desc)
	}
}

func TestRelayGiveawayLifecycle(t *testing.T) {
	f := newFixture(t)

	f.router.HandleRelayCommand(relay.Command{ID: "1", Author: "admin", Text: "$giveaway create bad args"})
	msgs := f.rec.Messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "Usage") {
		t.Fatalf("bad create reply = %+v", msgs)
	}

	f.router.HandleRelayCommand(relay.Command{ID: "2", Author: "admin",
		Text: `$giveaway create "Weekly Drop" "Diamond Kit" 10`})
	info, err := f.router.giveaways.Info()
	if err != nil {
		t.Fatalf("giveaway not created: %v", err)
	}
	if info.Title != "Weekly Drop" || info.Prize != "Diamond Kit" || info.Duration != 10*time.Minute {
		t.Errorf("giveaway info = %+v", info)
	}

	f.router.HandleGameChat("alice", "$giveaway")
	f.router.HandleRelayCommand(relay.Command{ID: "3", Author: "admin", Text: "$giveaway participants"})
	msgs = f.rec.Messages()
	last := msgs[len(msgs)-1]
	if !strings.Contains(last.Text, "alice") {
		t.Errorf("participants reply = %q", last.Text)
	}

	f.router.HandleRelayCommand(relay.Command{ID: "4", Author: "admin", Text: "$giveaway end"})
	if f.router.giveaways.Active() {
		t.Error("giveaway still active after end")
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{5*time.Minute + 3*time.Second, "5m 3s"},
		{2*time.Hour + 15*time.Minute, "2h 15m"},
		{26*time.Hour + 5*time.Minute, "1d 2h 5m"},
	}

	for _, tt := range tests {
		if got := FormatUptime(tt.d); got != tt.want {
			t.Errorf("FormatUptime(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestHealthBar(t *testing.T) {
	tests := []struct {
		health float64
		want   string
	}{
		{20, "##########"},
		{10, "#####-----"},
		{0, "----------"},
		{-2, "----------"},
	}

	for _, tt := range tests {
		if got := healthBar(tt.health); got != tt.want {
			t.Errorf("healthBar(%v) = %q, want %q", tt.health, got, tt.want)
		}
	}
}
