package command

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kit-courier/bot/internal/relay"
)

var giveawayCreateRe = regexp.MustCompile(`^create\s+"([^"]+)"\s+"([^"]+)"\s+(\d+)\s*$`)

// RunRelay consumes the relay command stream until the context ends or the
// stream closes.
func (r *Router) RunRelay(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-r.msgr.Commands():
			if !ok {
				return
			}
			r.HandleRelayCommand(cmd)
		}
	}
}

// HandleRelayCommand processes one relay-channel message. Lines that do not
// start with "$" are forwarded into game chat; the reaction reports whether
// the forward went through.
func (r *Router) HandleRelayCommand(cmd relay.Command) {
	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		return
	}

	if !strings.HasPrefix(text, "$") {
		ok := r.chat.SubmitWait(text, false, false)
		r.msgr.React(cmd, ok)
		return
	}

	fields := strings.Fields(text)
	name := strings.ToLower(strings.TrimPrefix(fields[0], "$"))
	args := fields[1:]

	switch name {
	case "help":
		r.relayHelp(cmd)
	case "stats":
		r.relayStats(cmd)
	case "status":
		r.relayStatus(cmd)
	case "config":
		r.relayConfig(cmd)
	case "queue":
		r.relayQueue(cmd)
	case "clearqueue":
		n := r.state.ClearQueue()
		r.replyOK(cmd, fmt.Sprintf("Cleared %d entries from the delivery queue", n))
	case "vip":
		r.relayVIP(cmd, args)
	case "blacklist":
		r.relayBlacklist(cmd, args)
	case "cooldown":
		r.relayCooldown(cmd, args)
	case "say":
		r.relaySay(cmd, args)
	case "msg", "whisper":
		r.relayWhisper(cmd, args)
	case "inventory", "inv":
		r.relayInventory(cmd)
	case "drop":
		r.relayDrop(cmd)
	case "tp":
		r.relayTeleport(cmd, args, "/tpa")
	case "tph":
		r.relayTeleport(cmd, args, "/tpahere")
	case "login":
		r.driver.Start()
		r.replyOK(cmd, "Login sequence triggered")
	case "restart":
		r.replyOK(cmd, "Restarting game connection...")
		if r.hooks.Restart != nil {
			r.hooks.Restart()
		}
	case "giveaway":
		r.relayGiveaway(cmd, strings.TrimSpace(strings.TrimPrefix(text, fields[0])))
	default:
		r.replyErr(cmd, fmt.Sprintf("Unknown command `%s` - try `$help`", fields[0]))
	}
}

func (r *Router) replyOK(cmd relay.Command, text string) {
	if err := r.msgr.Reply(cmd, text); err != nil {
		log.Printf("router: relay reply failed: %v", err)
	}
	r.msgr.React(cmd, true)
}

func (r *Router) replyErr(cmd relay.Command, text string) {
	if err := r.msgr.Reply(cmd, text); err != nil {
		log.Printf("router: relay reply failed: %v", err)
	}
	r.msgr.React(cmd, false)
}

func (r *Router) replyEmbed(cmd relay.Command, embed relay.Embed) {
	if err := r.msgr.ReplyEmbed(cmd, embed); err != nil {
		log.Printf("router: relay embed failed: %v", err)
	}
	r.msgr.React(cmd, true)
}

func (r *Router) relayHelp(cmd relay.Command) {
	r.replyEmbed(cmd, relay.Embed{
		Title: "Bot Commands",
		Color: relay.ColorInfo,
		Fields: []relay.Field{
			{Name: "$stats", Value: "Delivery and session statistics"},
			{Name: "$status", Value: "Connection, health and position"},
			{Name: "$queue / $clearqueue", Value: "Show or clear the delivery queue"},
			{Name: "$vip add|remove|list [player]", Value: "Manage VIP players"},
			{Name: "$blacklist add|remove|list [player]", Value: "Manage blacklisted players"},
			{Name: "$cooldown [player] / $cooldown clear <player>", Value: "Show or clear cooldowns"},
			{Name: "$say <text>", Value: "Send a chat message in game"},
			{Name: "$msg <player> <text>", Value: "Whisper a player in game"},
			{Name: "$inventory", Value: "Show the bot's inventory"},
			{Name: "$drop", Value: "Toss every inventory stack"},
			{Name: "$tp <player> / $tph <player>", Value: "Teleport request to/from a player"},
			{Name: "$login / $restart", Value: "Re-run login or restart the connection"},
			{Name: "$giveaway create \"Title\" \"Prize\" <minutes>", Value: "Start a giveaway"},
			{Name: "$giveaway end|cancel|participants", Value: "Manage the active giveaway"},
			{Name: "$config", Value: "Show active configuration"},
		},
	})
}

func (r *Router) relayStats(cmd relay.Command) {
	stats := r.state.StatsSnapshot()
	r.replyEmbed(cmd, relay.Embed{
		Title: "Bot Statistics",
		Color: relay.ColorInfo,
		Fields: []relay.Field{
			{Name: "Uptime", Value: FormatUptime(r.state.Uptime()), Inline: true},
			{Name: "Kits delivered", Value: strconv.Itoa(stats.Deliveries), Inline: true},
			{Name: "Messages seen", Value: strconv.Itoa(stats.MessagesReceived), Inline: true},
			{Name: "Reconnects", Value: strconv.Itoa(stats.Reconnects), Inline: true},
			{Name: "Queue length", Value: strconv.Itoa(r.state.QueueLen()), Inline: true},
			{Name: "VIPs", Value: strconv.Itoa(len(r.state.VIPs())), Inline: true},
		},
	})
}

func (r *Router) relayStatus(cmd relay.Command) {
	pos := r.state.Position()
	current := "none"
	if identity, ok := r.pipeline.CurrentRecipient(); ok {
		current = identity
	}
	r.replyEmbed(cmd, relay.Embed{
		Title: "Bot Status",
		Color: relay.ColorInfo,
		Fields: []relay.Field{
			{Name: "Connected", Value: yesNo(r.state.Connected()), Inline: true},
			{Name: "Logged in", Value: yesNo(r.state.LoggedIn()), Inline: true},
			{Name: "Maintenance", Value: yesNo(r.state.DevMode()), Inline: true},
			{Name: "Health", Value: fmt.Sprintf("%.0f/20", r.state.Health()), Inline: true},
			{Name: "Position", Value: fmt.Sprintf("%.0f, %.0f, %.0f", pos.X, pos.Y, pos.Z), Inline: true},
			{Name: "Dimension", Value: orDash(r.state.Dimension()), Inline: true},
			{Name: "Delivering to", Value: current, Inline: true},
			{Name: "Announcer", Value: yesNo(r.announcer.Running()), Inline: true},
			{Name: "Giveaway", Value: yesNo(r.giveaways.Active()), Inline: true},
		},
	})
}

func (r *Router) relayConfig(cmd relay.Command) {
	kinds := make([]string, 0, len(r.cfg.Kit.Kinds))
	for k := range r.cfg.Kit.Kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	r.replyEmbed(cmd, relay.Embed{
		Title: "Active Configuration",
		Color: relay.ColorInfo,
		Fields: []relay.Field{
			{Name: "Username", Value: r.cfg.Game.Username, Inline: true},
			{Name: "Cooldown", Value: r.cfg.Kit.Cooldown.String(), Inline: true},
			{Name: "VIP cooldown", Value: r.cfg.Kit.VIPCooldown.String(), Inline: true},
			{Name: "Accept window", Value: r.cfg.Kit.AcceptWindow.String(), Inline: true},
			{Name: "Max queue size", Value: strconv.Itoa(r.cfg.Kit.MaxQueueSize), Inline: true},
			{Name: "Kit kinds", Value: strings.Join(kinds, ", "), Inline: true},
			{Name: "Announce interval", Value: r.cfg.Announce.Interval.String(), Inline: true},
			{Name: "Operators", Value: strconv.Itoa(len(r.cfg.Operators)), Inline: true},
		},
	})
}

func (r *Router) relayQueue(cmd relay.Command) {
	entries := r.state.QueueEntries()
	if len(entries) == 0 {
		r.replyOK(cmd, "The delivery queue is empty")
		return
	}
	var b strings.Builder
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, e.Identity, e.Kind)
	}
	r.replyEmbed(cmd, relay.Embed{
		Title:       fmt.Sprintf("Delivery Queue (%d)", len(entries)),
		Description: b.String(),
		Color:       relay.ColorInfo,
	})
}

func (r *Router) relayVIP(cmd relay.Command, args []string) {
	if len(args) == 0 {
		r.replyErr(cmd, "Usage: $vip add|remove|list [player]")
		return
	}
	switch strings.ToLower(args[0]) {
	case "add":
		if len(args) < 2 {
			r.replyErr(cmd, "Usage: $vip add <player>")
			return
		}
		r.state.AddVIP(args[1])
		r.replyOK(cmd, fmt.Sprintf("Added %s to the VIP list", args[1]))
	case "remove":
		if len(args) < 2 {
			r.replyErr(cmd, "Usage: $vip remove <player>")
			return
		}
		r.state.RemoveVIP(args[1])
		r.replyOK(cmd, fmt.Sprintf("Removed %s from the VIP list", args[1]))
	case "list":
		vips := r.state.VIPs()
		if len(vips) == 0 {
			r.replyOK(cmd, "No VIP players")
			return
		}
		r.replyOK(cmd, fmt.Sprintf("VIPs (%d): %s", len(vips), strings.Join(vips, ", ")))
	default:
		r.replyErr(cmd, "Usage: $vip add|remove|list [player]")
	}
}

func (r *Router) relayBlacklist(cmd relay.Command, args []string) {
	if len(args) == 0 {
		r.replyErr(cmd, "Usage: $blacklist add|remove|list [player]")
		return
	}
	switch strings.ToLower(args[0]) {
	case "add":
		if len(args) < 2 {
			r.replyErr(cmd, "Usage: $blacklist add <player>")
			return
		}
		r.state.AddBlacklist(args[1])
		r.replyOK(cmd, fmt.Sprintf("Blacklisted %s", args[1]))
	case "remove":
		if len(args) < 2 {
			r.replyErr(cmd, "Usage: $blacklist remove <player>")
			return
		}
		r.state.RemoveBlacklist(args[1])
		r.replyOK(cmd, fmt.Sprintf("Removed %s from the blacklist", args[1]))
	case "list":
		banned := r.state.Blacklist()
		if len(banned) == 0 {
			r.replyOK(cmd, "The blacklist is empty")
			return
		}
		r.replyOK(cmd, fmt.Sprintf("Blacklisted (%d): %s", len(banned), strings.Join(banned, ", ")))
	default:
		r.replyErr(cmd, "Usage: $blacklist add|remove|list [player]")
	}
}

func (r *Router) relayCooldown(cmd relay.Command, args []string) {
	now := time.Now()
	if len(args) >= 2 && strings.EqualFold(args[0], "clear") {
		r.state.ClearCooldown(args[1])
		r.replyOK(cmd, fmt.Sprintf("Cleared cooldown for %s", args[1]))
		return
	}
	if len(args) > 0 {
		remaining := r.state.CooldownRemaining(args[0], now)
		if remaining <= 0 {
			r.replyOK(cmd, fmt.Sprintf("%s has no active cooldown", args[0]))
			return
		}
		r.replyOK(cmd, fmt.Sprintf("%s: %ds remaining", args[0], int(remaining.Seconds()+0.999)))
		return
	}

	cooldowns := r.state.Cooldowns()
	var lines []string
	for identity := range cooldowns {
		if remaining := r.state.CooldownRemaining(identity, now); remaining > 0 {
			lines = append(lines, fmt.Sprintf("%s: %ds", identity, int(remaining.Seconds()+0.999)))
		}
	}
	if len(lines) == 0 {
		r.replyOK(cmd, "No active cooldowns")
		return
	}
	sort.Strings(lines)
	r.replyOK(cmd, fmt.Sprintf("Active cooldowns (%d): %s", len(lines), strings.Join(lines, ", ")))
}

func (r *Router) relaySay(cmd relay.Command, args []string) {
	if len(args) == 0 {
		r.replyErr(cmd, "Usage: $say <text>")
		return
	}
	ok := r.chat.SubmitWait(strings.Join(args, " "), false, false)
	r.msgr.React(cmd, ok)
}

func (r *Router) relayWhisper(cmd relay.Command, args []string) {
	if len(args) < 2 {
		r.replyErr(cmd, "Usage: $msg <player> <text>")
		return
	}
	ok := r.chat.SubmitWait(fmt.Sprintf("/msg %s %s", args[0], strings.Join(args[1:], " ")), false, false)
	r.msgr.React(cmd, ok)
}

func (r *Router) relayInventory(cmd relay.Command) {
	client := r.hooks.Client()
	if client == nil {
		r.replyErr(cmd, "Not connected to the game server")
		return
	}
	items := client.Inventory()
	if len(items) == 0 {
		r.replyOK(cmd, "Inventory is empty")
		return
	}

	// Aggregate stacks of the same item.
	totals := make(map[string]int)
	for _, it := range items {
		totals[it.Label()] += it.Count
	}
	labels := make([]string, 0, len(totals))
	for label := range totals {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var b strings.Builder
	for _, label := range labels {
		fmt.Fprintf(&b, "%dx %s\n", totals[label], label)
	}
	r.replyEmbed(cmd, relay.Embed{
		Title:       fmt.Sprintf("Inventory (%d stacks)", len(items)),
		Description: b.String(),
		Color:       relay.ColorInfo,
	})
}

func (r *Router) relayDrop(cmd relay.Command) {
	client := r.hooks.Client()
	if client == nil {
		r.replyErr(cmd, "Not connected to the game server")
		return
	}
	items := client.Inventory()
	if len(items) == 0 {
		r.replyOK(cmd, "Inventory is already empty")
		return
	}
	dropped := 0
	for _, it := range items {
		if err := client.TossStack(it); err != nil {
			log.Printf("router: toss %s failed: %v", it.Label(), err)
			continue
		}
		dropped++
	}
	r.replyOK(cmd, fmt.Sprintf("Dropped %d of %d stacks", dropped, len(items)))
}

func (r *Router) relayTeleport(cmd relay.Command, args []string, verb string) {
	if len(args) == 0 {
		r.replyErr(cmd, fmt.Sprintf("Usage: $%s <player>", strings.TrimPrefix(verb, "/")))
		return
	}
	ok := r.chat.SubmitWait(fmt.Sprintf("%s %s", verb, args[0]), false, false)
	r.msgr.React(cmd, ok)
}

func (r *Router) relayGiveaway(cmd relay.Command, rest string) {
	sub := ""
	if f := strings.Fields(rest); len(f) > 0 {
		sub = strings.ToLower(f[0])
	}
	switch {
	case sub == "create":
		m := giveawayCreateRe.FindStringSubmatch(rest)
		if m == nil {
			r.replyErr(cmd, "Usage: $giveaway create \"Title\" \"Prize\" <minutes>")
			return
		}
		minutes, err := strconv.Atoi(m[3])
		if err != nil {
			r.replyErr(cmd, "Usage: $giveaway create \"Title\" \"Prize\" <minutes>")
			return
		}
		if _, err := r.giveaways.Create(m[1], m[2], time.Duration(minutes)*time.Minute, cmd.Author); err != nil {
			r.replyErr(cmd, giveawayErrorText(err))
			return
		}
		r.msgr.React(cmd, true)

	case sub == "end":
		result, err := r.giveaways.End(false)
		if err != nil {
			r.replyErr(cmd, giveawayErrorText(err))
			return
		}
		if result.Winner == "" {
			r.replyOK(cmd, "Giveaway ended with no participants")
			return
		}
		r.replyOK(cmd, fmt.Sprintf("Giveaway ended, winner: %s", result.Winner))

	case sub == "cancel":
		if _, err := r.giveaways.Cancel(); err != nil {
			r.replyErr(cmd, giveawayErrorText(err))
			return
		}
		r.msgr.React(cmd, true)

	case sub == "participants":
		info, err := r.giveaways.Info()
		if err != nil {
			r.replyErr(cmd, giveawayErrorText(err))
			return
		}
		if len(info.Participants) == 0 {
			r.replyOK(cmd, "No participants yet")
			return
		}
		r.replyOK(cmd, fmt.Sprintf("Participants (%d): %s",
			len(info.Participants), strings.Join(info.Participants, ", ")))

	case sub == "":
		info, err := r.giveaways.Info()
		if err != nil {
			r.replyErr(cmd, giveawayErrorText(err))
			return
		}
		r.replyEmbed(cmd, relay.Embed{
			Title: "Active Giveaway",
			Description: fmt.Sprintf("**%s**\n**Prize:** %s\n**Time left:** %s\n**Participants:** %d\n**Started by:** %s",
				info.Title, info.Prize, info.FormatRemaining(), len(info.Participants), info.CreatedBy),
			Color: relay.ColorInfo,
		})

	default:
		r.replyErr(cmd, "Usage: $giveaway create|end|cancel|participants")
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
