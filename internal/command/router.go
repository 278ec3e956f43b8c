// Package command dispatches inbound game chat and relay-channel commands
// to the session, pipeline, giveaway and announcement subsystems.
package command

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/kit-courier/bot/internal/announce"
	"github.com/kit-courier/bot/internal/config"
	"github.com/kit-courier/bot/internal/delivery"
	"github.com/kit-courier/bot/internal/game"
	"github.com/kit-courier/bot/internal/giveaway"
	"github.com/kit-courier/bot/internal/login"
	"github.com/kit-courier/bot/internal/outbound"
	"github.com/kit-courier/bot/internal/perf"
	"github.com/kit-courier/bot/internal/relay"
	"github.com/kit-courier/bot/internal/session"
)

// Hooks are supervisor callbacks the router cannot own itself.
type Hooks struct {
	// Client returns the live game client, which changes across reconnects.
	Client func() game.Client
	// Restart tears the game connection down and reconnects.
	Restart func()
}

type Router struct {
	cfg       *config.Config
	state     *session.State
	chat      *outbound.Chat
	pipeline  *delivery.Pipeline
	giveaways *giveaway.Manager
	announcer *announce.Announcer
	driver    *login.Driver
	msgr      relay.Messenger
	hooks     Hooks
}

func NewRouter(
	cfg *config.Config,
	state *session.State,
	chat *outbound.Chat,
	pipeline *delivery.Pipeline,
	giveaways *giveaway.Manager,
	announcer *announce.Announcer,
	driver *login.Driver,
	msgr relay.Messenger,
	hooks Hooks,
) *Router {
	return &Router{
		cfg:       cfg,
		state:     state,
		chat:      chat,
		pipeline:  pipeline,
		giveaways: giveaways,
		announcer: announcer,
		driver:    driver,
		msgr:      msgr,
		hooks:     hooks,
	}
}

func (r *Router) whisper(identity, text string) {
	r.chat.Submit(fmt.Sprintf("/msg %s %s", identity, text), false, false)
}

func (r *Router) isOperator(identity string) bool {
	for _, op := range r.cfg.Operators {
		if strings.EqualFold(op, identity) {
			return true
		}
	}
	return false
}

// HandleGameChat processes one inbound game chat line: server message
// patterns first, then forwarding to the relay channel, then the in-game
// command surface.
func (r *Router) HandleGameChat(sender, message string) {
	if strings.EqualFold(sender, r.cfg.Game.Username) {
		return
	}
	r.state.CountMessage()

	if delivery.MatchesSpawnDistanceError(message) {
		r.pipeline.RecoverSpawnDistance()
		return
	}
	if login.DetectSuccess(message) {
		r.driver.NoteServerLogin()
	}

	// Mirror everything into the relay channel.
	clean := outbound.Sanitize(message, r.cfg.Chat.MaxLength)
	if clean != "" && r.cfg.Relay.Channel != "" {
		line := fmt.Sprintf("`%s` **%s**: %s", time.Now().Format("15:04:05"), sender, clean)
		if err := r.msgr.Send(r.cfg.Relay.Channel, line); err != nil {
			log.Printf("router: relay forward failed: %v", err)
		}
	}

	args := strings.Fields(strings.TrimSpace(message))
	if len(args) == 0 || !strings.HasPrefix(args[0], "$") {
		return
	}
	cmd := strings.ToLower(args[0])

	switch cmd {
	case "$kit":
		kind := ""
		if len(args) > 1 {
			kind = args[1]
		}
		r.pipeline.Request(sender, kind)

	case "$queue":
		entries := r.state.QueueEntries()
		if len(entries) == 0 {
			r.whisper(sender, "Queue is empty")
			return
		}
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Identity
		}
		r.whisper(sender, fmt.Sprintf("Queue (%d): %s", len(entries), strings.Join(names, ", ")))

	case "$dev":
		r.handleDevToggle(sender)

	case "$health":
		if !r.state.IsVIP(sender) {
			r.whisper(sender, "VIP access required")
			return
		}
		h := r.state.Health()
		r.whisper(sender, fmt.Sprintf("Bot health: %.0f/20 %s", h, healthBar(h)))

	case "$giveaway":
		if len(args) > 1 && strings.EqualFold(args[1], "info") {
			r.giveawayInfoWhisper(sender)
			return
		}
		count, err := r.giveaways.Join(sender)
		if err != nil {
			r.whisper(sender, giveawayErrorText(err))
			return
		}
		r.whisper(sender, fmt.Sprintf("Successfully entered the giveaway! (%d participants)", count))

	case "$ban":
		if len(args) < 2 {
			r.whisper(sender, "Usage: $ban <player> [reason]")
			return
		}
		reason := "No reason specified"
		if len(args) > 2 {
			reason = strings.Join(args[2:], " ")
		}
		r.chat.Submit(fmt.Sprintf("[Server] %s has been banned by %s for: %s", args[1], sender, reason), false, false)

	case "$ping":
		r.handlePing(sender, args)

	case "$bestping":
		r.handleExtremePing(sender, true)

	case "$worstping":
		r.handleExtremePing(sender, false)

	case "$coords":
		x := rand.Intn(1000000) - 500000
		y := rand.Intn(256)
		z := rand.Intn(1000000) - 500000
		r.whisper(sender, fmt.Sprintf("My coordinates: %d, %d, %d", x, y, z))

	case "$seed":
		r.whisper(sender, "Server seed: -9079062558503125353")

	case "$tps":
		sample, err := perf.Read(100 * time.Millisecond)
		if err != nil {
			r.whisper(sender, "Performance data unavailable")
			return
		}
		r.whisper(sender, fmt.Sprintf("Server performance: %s", sample))
	}
}

// handleDevToggle flips maintenance mode. On enable, non-VIP entries are
// purged from the queue and a non-VIP in-flight delivery is cancelled.
func (r *Router) handleDevToggle(sender string) {
	if !r.isOperator(sender) {
		r.whisper(sender, "You don't have permission to use this command.")
		return
	}

	enabled := r.state.ToggleDevMode()
	if !enabled {
		r.whisper(sender, "Maintenance mode DISABLED. Kit system is available for all users.")
		r.chat.Submit("Kit system is back online! Type $kit to get your free items.", false, false)
		r.relayNotice(fmt.Sprintf("**Maintenance mode disabled** by %s", sender))
		return
	}

	r.whisper(sender, "Maintenance mode ENABLED. Kit system is restricted to VIP users only.")

	removed := r.state.PurgeNonVIP()
	if len(removed) > 0 {
		r.chat.Submit(fmt.Sprintf("Maintenance mode enabled. %d non-VIP users removed from queue.", len(removed)), false, false)
	}
	if current, ok := r.pipeline.CurrentRecipient(); ok && !r.state.IsVIP(current) {
		r.pipeline.CancelCurrent("Kit delivery cancelled due to maintenance mode.")
	}
	r.relayNotice(fmt.Sprintf("**Maintenance mode enabled** by %s", sender))
}

func (r *Router) relayNotice(text string) {
	if r.cfg.Relay.Channel == "" {
		return
	}
	if err := r.msgr.Send(r.cfg.Relay.Channel, text); err != nil {
		log.Printf("router: relay notice failed: %v", err)
	}
}

func (r *Router) giveawayInfoWhisper(sender string) {
	info, err := r.giveaways.Info()
	if err != nil {
		r.whisper(sender, giveawayErrorText(err))
		return
	}
	r.whisper(sender, fmt.Sprintf("Active giveaway: %s", info.Title))
	r.whisper(sender, fmt.Sprintf("Prize: %s", info.Prize))
	r.whisper(sender, fmt.Sprintf("Time left: %s", info.FormatRemaining()))
	r.whisper(sender, fmt.Sprintf("Participants: %d", len(info.Participants)))
}

func (r *Router) handlePing(sender string, args []string) {
	client := r.hooks.Client()
	if client == nil {
		r.whisper(sender, "No player data available")
		return
	}
	target := sender
	if len(args) > 1 {
		target = args[1]
	}
	for _, p := range client.Players() {
		if strings.EqualFold(p.Name, target) {
			r.whisper(sender, fmt.Sprintf("%s's ping: %dms", p.Name, p.Ping))
			return
		}
	}
	r.whisper(sender, fmt.Sprintf("Player %s not found", target))
}

func (r *Router) handleExtremePing(sender string, best bool) {
	client := r.hooks.Client()
	if client == nil {
		r.whisper(sender, "No player data available")
		return
	}
	var candidates []game.PlayerInfo
	for _, p := range client.Players() {
		if !strings.EqualFold(p.Name, r.cfg.Game.Username) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		r.whisper(sender, "No valid ping data available")
		return
	}
	pick := candidates[0]
	for _, p := range candidates[1:] {
		if (best && p.Ping < pick.Ping) || (!best && p.Ping > pick.Ping) {
			pick = p
		}
	}
	label := "best"
	if !best {
		label = "worst"
	}
	r.whisper(sender, fmt.Sprintf("Player with %s ping: %s (%dms)", label, pick.Name, pick.Ping))
}

func giveawayErrorText(err error) string {
	switch {
	case errors.Is(err, giveaway.ErrNoneActive):
		return "No active giveaway!"
	case errors.Is(err, giveaway.ErrEnded):
		return "Giveaway has ended!"
	case errors.Is(err, giveaway.ErrAlreadyJoined):
		return "You are already entered in this giveaway!"
	case errors.Is(err, giveaway.ErrAlreadyActive):
		return "A giveaway is already active!"
	case errors.Is(err, giveaway.ErrBadDuration):
		return "Duration must be between 1 and 1440 minutes"
	default:
		return err.Error()
	}
}

// healthBar renders health 0..20 as a ten-segment bar.
func healthBar(h float64) string {
	filled := int(h / 2)
	if filled < 0 {
		filled = 0
	}
	if filled > 10 {
		filled = 10
	}
	return strings.Repeat("#", filled) + strings.Repeat("-", 10-filled)
}

// FormatUptime renders a duration as the largest two useful units.
func FormatUptime(d time.Duration) string {
	secs := int(d.Seconds())
	mins := secs / 60
	hours := mins / 60
	days := hours / 24
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours%24, mins%60)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins%60)
	case mins > 0:
		return fmt.Sprintf("%dm %ds", mins, secs%60)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}
