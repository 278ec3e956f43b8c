// Package delivery implements the single-flight kit delivery pipeline: one
// request at a time moves through relocation, a position-change watcher and
// a timeout-guarded acceptance step, backed by a FIFO wait queue.
package delivery

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kit-courier/bot/internal/config"
	"github.com/kit-courier/bot/internal/relay"
	"github.com/kit-courier/bot/internal/session"
)

// Timer registry names, cancelled by session reset.
const (
	acceptTimer  = "kit-accept"
	nextTimer    = "kit-next"
	recoverTimer = "kit-recover"
	prepTimer    = "kit-prep"
)

// Submitter is the slice of the outbound queue the pipeline needs.
type Submitter interface {
	Submit(text string, priority, bypassLoginGate bool) <-chan bool
	SubmitWait(text string, priority, bypassLoginGate bool) bool
}

// deliveryRun tracks one in-flight delivery attempt. The handled flag is
// the exactly-once arbiter between the position watcher, the acceptance
// timeout and the recovery branch.
type deliveryRun struct {
	identity string
	kind     string
	prepCmd  string

	baseline  session.Position
	handled   bool
	finalized bool

	stopWatch chan struct{}
	stopOnce  sync.Once
	accept    *time.Timer
}

func (r *deliveryRun) stop() {
	r.stopOnce.Do(func() {
		if r.stopWatch != nil {
			close(r.stopWatch)
		}
	})
}

type Pipeline struct {
	cfg   *config.Config
	state *session.State
	chat  Submitter
	msgr  relay.Messenger

	mu  sync.Mutex
	run *deliveryRun
}

func New(cfg *config.Config, state *session.State, chat Submitter, msgr relay.Messenger) *Pipeline {
	return &Pipeline{cfg: cfg, state: state, chat: chat, msgr: msgr}
}

func (p *Pipeline) whisper(identity, text string) {
	p.chat.Submit(fmt.Sprintf("/msg %s %s", identity, text), false, false)
}

// Request is the public entry point. Invalid requests are rejected with a
// whispered reason and no state change; valid ones either start delivery,
// join the wait queue, or update an existing queue entry.
func (p *Pipeline) Request(identity, kind string) {
	if p.state.IsBlacklisted(identity) {
		p.whisper(identity, "You are currently banned from requesting kits.")
		return
	}
	if p.state.DevMode() && !p.state.IsVIP(identity) {
		p.whisper(identity, "Kit system is in maintenance mode. Only VIP users can request kits right now.")
		return
	}

	prepCmd, ok := p.cfg.KindCommand(kind)
	if !ok {
		p.whisper(identity, fmt.Sprintf("Unknown kit kind %q. Available: %s", kind, p.kindNames()))
		return
	}
	kindName := p.canonicalKind(kind)

	if remaining := p.state.CooldownRemaining(identity, time.Now()); remaining > 0 {
		vipTag := ""
		if p.state.IsVIP(identity) {
			vipTag = " (VIP)"
		}
		secs := int(math.Ceil(remaining.Seconds()))
		p.whisper(identity, fmt.Sprintf("Cooldown%s: %ds remaining.", vipTag, secs))
		return
	}

	if !p.state.BeginDelivery(identity, kindName) {
		// Someone else holds the delivery slot.
		if p.state.IsCurrentRecipient(identity) {
			p.whisper(identity, "Your kit is already being prepared.")
			return
		}
		pos, replaced, ok := p.state.Enqueue(identity, kindName)
		switch {
		case !ok:
			p.whisper(identity, "Queue is full. Please try again later.")
		case replaced:
			p.whisper(identity, fmt.Sprintf("Queue entry updated to %s. Position: %d", kindName, pos))
		default:
			p.whisper(identity, fmt.Sprintf("Added to queue. Position: %d", pos))
		}
		return
	}

	p.begin(identity, kindName, prepCmd)
}

// begin launches a run for an identity that already holds the delivery slot.
func (p *Pipeline) begin(identity, kindName, prepCmd string) {
	run := &deliveryRun{identity: identity, kind: kindName, prepCmd: prepCmd}
	p.mu.Lock()
	p.run = run
	p.mu.Unlock()

	log.Printf("delivery: starting %s kit for %s", kindName, identity)
	go p.deliver(run)
}

// deliver executes the preparation phase: optional self-neutralize near the
// world origin (the relocation command is rejected close to spawn), then
// the kind's preparation command, then the relocation step after a delay.
func (p *Pipeline) deliver(run *deliveryRun) {
	pos := p.state.Position()
	// The spawn restriction zone is a vertical cylinder around the origin:
	// only horizontal distance counts, elevation does not.
	if math.Sqrt(pos.X*pos.X+pos.Z*pos.Z) <= p.cfg.Kit.SpawnProximity {
		log.Printf("delivery: too close to origin, self-neutralizing first")
		p.chat.SubmitWait("/kill", true, false)
		time.Sleep(p.cfg.Kit.RecoveryDelay)
	}

	if !p.chat.SubmitWait(run.prepCmd, true, false) {
		log.Printf("delivery: preparation command failed for %s", run.identity)
		p.finalize(run)
		return
	}

	t := time.AfterFunc(p.cfg.Kit.DeliveryDelay, func() { p.relocate(run) })
	p.state.RegisterTimer(prepTimer, t)
}

// relocate captures the position baseline, starts the watcher and issues
// the teleport request with acceptance instructions.
func (p *Pipeline) relocate(run *deliveryRun) {
	p.mu.Lock()
	if p.run != run || run.handled {
		p.mu.Unlock()
		return
	}
	run.baseline = p.state.Position()
	run.stopWatch = make(chan struct{})
	p.mu.Unlock()

	go p.watch(run)

	p.chat.Submit(fmt.Sprintf("/tpa %s", run.identity), true, false)
	secs := int(p.cfg.Kit.AcceptWindow.Seconds())
	p.whisper(run.identity, fmt.Sprintf(
		"Your kit is ready! Accept the teleport (/tpayes %s) within %d seconds.",
		p.cfg.Game.Username, secs))

	accept := time.AfterFunc(p.cfg.Kit.AcceptWindow, func() { p.timeout(run) })
	p.mu.Lock()
	run.accept = accept
	p.mu.Unlock()
	p.state.RegisterTimer(acceptTimer, accept)
}

// watch polls position telemetry until displacement from the baseline
// exceeds the threshold, signalling a completed teleport.
func (p *Pipeline) watch(run *deliveryRun) {
	ticker := time.NewTicker(p.cfg.Kit.WatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-run.stopWatch:
			return
		case <-ticker.C:
			p.mu.Lock()
			stale := p.run != run || run.handled
			p.mu.Unlock()
			if stale {
				return
			}
			cur := p.state.Position()
			if cur.Distance(run.baseline) > p.cfg.Kit.MoveThreshold {
				p.arrived(run, cur)
				return
			}
		}
	}
}

// stopAccept stops the acceptance timeout for run, if armed.
func (p *Pipeline) stopAccept(run *deliveryRun) {
	p.mu.Lock()
	t := run.accept
	p.mu.Unlock()
	if t != nil {
		t.Stop()
	}
	p.state.CancelTimer(acceptTimer)
}

// claim wins the race between watcher, timeout and recovery for run.
// Exactly one caller sees true.
func (p *Pipeline) claim(run *deliveryRun) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run != run || run.handled {
		return false
	}
	run.handled = true
	return true
}

// arrived handles a detected teleport: log the delivery to the coordination
// channel, notify the recipient, clean up and finalize.
func (p *Pipeline) arrived(run *deliveryRun, pos session.Position) {
	if !p.claim(run) {
		return
	}
	p.stopAccept(run)

	dim := p.state.Dimension()
	line := fmt.Sprintf("{%d, %d, %d} in %s by %s (%s)",
		int(math.Floor(pos.X)), int(math.Floor(pos.Y)), int(math.Floor(pos.Z)),
		dim, run.identity, run.kind)
	if p.msgr != nil && p.cfg.Relay.CoordsChannel != "" {
		if err := p.msgr.Send(p.cfg.Relay.CoordsChannel, line); err != nil {
			log.Printf("delivery: coords log failed: %v", err)
		}
	}

	log.Printf("delivery: completed for %s at %s", run.identity, line)
	p.state.CountDelivery(run.identity)
	p.whisper(run.identity, "Kit delivered! Enjoy your items.")
	p.chat.Submit("/kill", false, false)
	p.finalize(run)
}

// timeout fires when the acceptance window elapses with no displacement.
func (p *Pipeline) timeout(run *deliveryRun) {
	if !p.claim(run) {
		return
	}
	run.stop()
	log.Printf("delivery: acceptance timeout for %s", run.identity)
	secs := int(p.cfg.Kit.AcceptWindow.Seconds())
	p.whisper(run.identity, fmt.Sprintf("Timeout: you did not accept the teleport within %d seconds.", secs))
	p.chat.Submit("/tpacancel", false, false)
	p.finalize(run)
}

// finalize runs exactly once per delivery: stamps the cooldown, releases
// the delivery slot and starts the next queued request after a grace delay.
func (p *Pipeline) finalize(run *deliveryRun) {
	p.mu.Lock()
	if run.finalized {
		p.mu.Unlock()
		return
	}
	run.finalized = true
	if p.run == run {
		p.run = nil
	}
	p.mu.Unlock()

	run.stop()
	p.stopAccept(run)

	p.state.SetCooldown(run.identity, time.Now())
	p.state.EndDelivery()
	log.Printf("delivery: finished for %s", run.identity)

	if p.state.QueueLen() == 0 {
		return
	}
	t := time.AfterFunc(p.cfg.Kit.GraceDelay, p.startNext)
	p.state.RegisterTimer(nextTimer, t)
}

// startNext promotes the queue head into the delivery slot once the grace
// delay has elapsed. The head stays queued until it actually claims the
// slot: if a fresh request won the slot during the grace window, the entry
// goes back to the front and keeps its turn when that delivery finalizes.
func (p *Pipeline) startNext() {
	for {
		entry, ok := p.state.Dequeue()
		if !ok {
			return
		}
		prepCmd, known := p.cfg.KindCommand(entry.Kind)
		if !known {
			// Kind map changed while queued; skip the entry rather than wedge.
			log.Printf("delivery: dropping queued entry %s with unknown kind %q", entry.Identity, entry.Kind)
			continue
		}
		if !p.state.BeginDelivery(entry.Identity, entry.Kind) {
			p.state.EnqueueFront(entry)
			return
		}
		p.begin(entry.Identity, entry.Kind, prepCmd)
		return
	}
}

// spawnDistancePattern matches the server rejecting the relocation command
// because the bot is too close to spawn.
var spawnDistancePattern = "blocks from spawn in order to use"

// MatchesSpawnDistanceError reports whether a server chat line is the
// spawn-distance rejection.
func MatchesSpawnDistanceError(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, spawnDistancePattern) &&
		(strings.Contains(lower, "/home") || strings.Contains(lower, "/tpa"))
}

// RecoverSpawnDistance restarts the current delivery from the beginning
// after the server rejects the relocation command. Gated to the
// pre-acceptance phase: once the watcher or timeout has handled the run,
// the message is ignored.
func (p *Pipeline) RecoverSpawnDistance() {
	p.mu.Lock()
	run := p.run
	if run == nil || run.handled {
		p.mu.Unlock()
		return
	}
	run.handled = true
	p.mu.Unlock()

	run.stop()
	p.stopAccept(run)
	p.state.CancelTimer(prepTimer)

	log.Printf("delivery: spawn distance error, retrying for %s", run.identity)
	p.chat.Submit("/kill", true, false)

	t := time.AfterFunc(p.cfg.Kit.RecoveryDelay, func() {
		p.mu.Lock()
		if p.run != run {
			p.mu.Unlock()
			return
		}
		retry := &deliveryRun{identity: run.identity, kind: run.kind, prepCmd: run.prepCmd}
		p.run = retry
		p.mu.Unlock()
		go p.deliver(retry)
	})
	p.state.RegisterTimer(recoverTimer, t)
}

// CancelCurrent aborts the in-flight delivery with a whispered reason and
// finalizes it. Returns false when nothing is in flight.
func (p *Pipeline) CancelCurrent(reason string) bool {
	p.mu.Lock()
	run := p.run
	if run == nil || run.handled {
		p.mu.Unlock()
		return false
	}
	run.handled = true
	p.mu.Unlock()

	p.whisper(run.identity, reason)
	p.finalize(run)
	return true
}

// CurrentRecipient reports who holds the delivery slot, if anyone.
func (p *Pipeline) CurrentRecipient() (string, bool) {
	identity, _, ok := p.state.CurrentDelivery()
	return identity, ok
}

func (p *Pipeline) kindNames() string {
	names := make([]string, 0, len(p.cfg.Kit.Kinds))
	for name := range p.cfg.Kit.Kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func (p *Pipeline) canonicalKind(kind string) string {
	if kind == "" {
		return p.cfg.Kit.DefaultKind
	}
	for name := range p.cfg.Kit.Kinds {
		if strings.EqualFold(name, kind) {
			return name
		}
	}
	return strings.ToLower(kind)
}
