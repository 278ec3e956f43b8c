package session

import (
	"context"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Position is the bot's location in the game world.
type Position struct {
	X, Y, Z float64
}

// Distance returns the straight-line distance to other.
func (p Position) Distance(other Position) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	dz := p.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// QueueEntry is one waiting delivery request. Identity keeps the caller's
// original casing for display; lookups are case-insensitive.
type QueueEntry struct {
	Identity string
	Kind     string
}

// Stats tracks process-lifetime counters.
type Stats struct {
	Deliveries       int
	MessagesReceived int
	Reconnects       int
	StartedAt        time.Time
}

// State is the single source of truth for connection, login, delivery and
// cooldown status. One instance lives for the whole process and is passed
// explicitly to every component; Reset clears it on each reconnect cycle.
type State struct {
	mu sync.Mutex

	connected       bool
	loggedIn        bool
	loginInProgress bool
	loginAttempts   int

	deliveryInProgress bool
	currentRecipient   string
	currentKind        string

	queue        []QueueEntry
	maxQueueSize int

	cooldowns   map[string]time.Time
	cooldown    time.Duration
	vipCooldown time.Duration

	vips      map[string]bool
	blacklist map[string]bool

	devMode bool

	health    float64
	position  Position
	dimension string

	stats Stats

	observers []Observer
	timers    map[string]*time.Timer
}

// Options configures a new State.
type Options struct {
	Cooldown     time.Duration
	VIPCooldown  time.Duration
	MaxQueueSize int
	VIPs         []string
	Blacklist    []string
}

func New(opts Options) *State {
	s := &State{
		maxQueueSize: opts.MaxQueueSize,
		cooldown:     opts.Cooldown,
		vipCooldown:  opts.VIPCooldown,
		cooldowns:    make(map[string]time.Time),
		vips:         make(map[string]bool),
		blacklist:    make(map[string]bool),
		timers:       make(map[string]*time.Timer),
		health:       20,
		dimension:    "overworld",
		stats:        Stats{StartedAt: time.Now()},
	}
	for _, v := range opts.VIPs {
		s.vips[strings.ToLower(v)] = true
	}
	for _, b := range opts.Blacklist {
		s.blacklist[strings.ToLower(b)] = true
	}
	return s
}

// Subscribe registers an observer for state events. Not safe to call
// concurrently with mutations; wire observers during startup.
func (s *State) Subscribe(o Observer) {
	s.observers = append(s.observers, o)
}

func (s *State) emit(ev Event) {
	for _, o := range s.observers {
		o.Notify(ev)
	}
}

// Reset clears delivery, login and queue state after a connect, disconnect
// or error cycle. Registered timers are cancelled so no stale callback fires
// against the fresh state.
func (s *State) Reset() {
	s.mu.Lock()
	s.deliveryInProgress = false
	s.currentRecipient = ""
	s.currentKind = ""
	s.queue = nil
	s.connected = false
	s.loggedIn = false
	s.loginInProgress = false
	s.loginAttempts = 0
	s.stats.Reconnects++
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()

	s.emit(Event{Type: EventReset})
}

// RegisterTimer records a timer so Reset can cancel it. A previous timer
// under the same name is stopped first.
func (s *State) RegisterTimer(name string, t *time.Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[name]; ok {
		old.Stop()
	}
	s.timers[name] = t
}

// CancelTimer stops and forgets the named timer, if present.
func (s *State) CancelTimer(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
}

func (s *State) SetConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *State) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *State) SetLoggedIn(v bool) {
	s.mu.Lock()
	s.loggedIn = v
	s.mu.Unlock()
}

func (s *State) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// BeginLogin marks the login sequence as running and bumps the attempt
// counter. Returns false if a sequence is already in progress.
func (s *State) BeginLogin() (attempt int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loginInProgress {
		return s.loginAttempts, false
	}
	s.loginInProgress = true
	s.loginAttempts++
	return s.loginAttempts, true
}

// FinishLogin records the outcome of a login sequence. On success the
// attempt counter resets to zero.
func (s *State) FinishLogin(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginInProgress = false
	if success {
		s.loggedIn = true
		s.loginAttempts = 0
	}
}

func (s *State) LoginInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginInProgress
}

func (s *State) LoginAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginAttempts
}

// ResetLoginAttempts zeroes the attempt counter after retries are exhausted.
func (s *State) ResetLoginAttempts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginAttempts = 0
}

// MarkLoggedIn short-circuits login state when the server authenticates
// out-of-band. Idempotent.
func (s *State) MarkLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loggedIn {
		return false
	}
	s.loggedIn = true
	s.loginInProgress = false
	s.loginAttempts = 0
	return true
}

// BeginDelivery claims the single delivery slot for identity. Returns false
// when a delivery is already in progress.
func (s *State) BeginDelivery(identity, kind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveryInProgress {
		return false
	}
	s.deliveryInProgress = true
	s.currentRecipient = identity
	s.currentKind = kind
	return true
}

// EndDelivery releases the delivery slot.
func (s *State) EndDelivery() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveryInProgress = false
	s.currentRecipient = ""
	s.currentKind = ""
}

// CurrentDelivery reports the in-flight recipient and kind, if any.
func (s *State) CurrentDelivery() (identity, kind string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRecipient, s.currentKind, s.deliveryInProgress
}

func (s *State) DeliveryInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliveryInProgress
}

// IsCurrentRecipient reports whether identity owns the in-flight delivery.
func (s *State) IsCurrentRecipient(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deliveryInProgress && strings.EqualFold(s.currentRecipient, identity)
}

// Enqueue adds identity to the wait queue, or updates its kind in place if
// already queued. Returns the 1-based position, whether an existing entry
// was replaced, and false when the queue is full.
func (s *State) Enqueue(identity, kind string) (pos int, replaced, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.queue {
		if strings.EqualFold(s.queue[i].Identity, identity) {
			s.queue[i].Kind = kind
			return i + 1, true, true
		}
	}
	if len(s.queue) >= s.maxQueueSize {
		return 0, false, false
	}
	s.queue = append(s.queue, QueueEntry{Identity: identity, Kind: kind})
	return len(s.queue), false, true
}

// EnqueueFront returns an entry to the head of the wait queue, bypassing
// the size limit. Used to give back a dequeued entry that could not start.
func (s *State) EnqueueFront(e QueueEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append([]QueueEntry{e}, s.queue...)
}

// Dequeue pops the head of the wait queue.
func (s *State) Dequeue() (QueueEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return QueueEntry{}, false
	}
	head := s.queue[0]
	s.queue = s.queue[1:]
	return head, true
}

func (s *State) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// QueueEntries returns a copy of the wait queue in order.
func (s *State) QueueEntries() []QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]QueueEntry, len(s.queue))
	copy(out, s.queue)
	return out
}

// ClearQueue empties the wait queue and returns how many entries it held.
func (s *State) ClearQueue() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	s.queue = nil
	return n
}

// PurgeNonVIP removes non-VIP entries from the wait queue and reports the
// removed identities in their original order. Membership is checked inline
// against the VIP set; IsVIP would re-lock s.mu.
func (s *State) PurgeNonVIP() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []QueueEntry
	var removed []string
	for _, e := range s.queue {
		if s.vips[strings.ToLower(e.Identity)] {
			kept = append(kept, e)
		} else {
			removed = append(removed, e.Identity)
		}
	}
	s.queue = kept
	return removed
}

// SetCooldown stamps identity's last delivery at now.
func (s *State) SetCooldown(identity string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldowns[strings.ToLower(identity)] = now
}

// CooldownRemaining reports how long identity must still wait. VIP members
// get the shorter window. Zero means off cooldown.
func (s *State) CooldownRemaining(identity string, now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.cooldowns[strings.ToLower(identity)]
	if !ok {
		return 0
	}
	window := s.cooldown
	if s.vips[strings.ToLower(identity)] {
		window = s.vipCooldown
	}
	remaining := window - now.Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ClearCooldown forgets identity's cooldown stamp.
func (s *State) ClearCooldown(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cooldowns, strings.ToLower(identity))
}

// Cooldowns returns a copy of the cooldown map.
func (s *State) Cooldowns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.cooldowns))
	for k, v := range s.cooldowns {
		out[k] = v
	}
	return out
}

// CleanupCooldowns purges stamps older than twice the longest window and
// returns how many were removed.
func (s *State) CleanupCooldowns(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	maxAge := s.cooldown
	if s.vipCooldown > maxAge {
		maxAge = s.vipCooldown
	}
	maxAge *= 2
	removed := 0
	for identity, stamp := range s.cooldowns {
		if now.Sub(stamp) > maxAge {
			delete(s.cooldowns, identity)
			removed++
		}
	}
	return removed
}

func (s *State) AddVIP(identity string) {
	s.mu.Lock()
	s.vips[strings.ToLower(identity)] = true
	s.mu.Unlock()
	s.emit(Event{Type: EventVIPAdded, Identity: identity})
}

func (s *State) RemoveVIP(identity string) {
	s.mu.Lock()
	delete(s.vips, strings.ToLower(identity))
	s.mu.Unlock()
	s.emit(Event{Type: EventVIPRemoved, Identity: identity})
}

func (s *State) IsVIP(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vips[strings.ToLower(identity)]
}

// VIPs returns the VIP set sorted for stable display.
func (s *State) VIPs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.vips)
}

func (s *State) AddBlacklist(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist[strings.ToLower(identity)] = true
}

func (s *State) RemoveBlacklist(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blacklist, strings.ToLower(identity))
}

func (s *State) IsBlacklisted(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blacklist[strings.ToLower(identity)]
}

func (s *State) Blacklist() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.blacklist)
}

// ToggleDevMode flips maintenance mode and returns the new value.
func (s *State) ToggleDevMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devMode = !s.devMode
	return s.devMode
}

func (s *State) DevMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devMode
}

func (s *State) SetHealth(h float64) {
	s.mu.Lock()
	s.health = h
	s.mu.Unlock()
}

func (s *State) Health() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

func (s *State) SetPosition(p Position) {
	s.mu.Lock()
	s.position = p
	s.mu.Unlock()
}

func (s *State) Position() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *State) SetDimension(d string) {
	s.mu.Lock()
	s.dimension = d
	s.mu.Unlock()
}

func (s *State) Dimension() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dimension
}

// CountMessage bumps the received-message counter.
func (s *State) CountMessage() {
	s.mu.Lock()
	s.stats.MessagesReceived++
	s.mu.Unlock()
}

// CountDelivery bumps the delivered-kit counter and notifies observers.
func (s *State) CountDelivery(identity string) {
	s.mu.Lock()
	s.stats.Deliveries++
	s.mu.Unlock()
	s.emit(Event{Type: EventKitDelivered, Identity: identity})
}

// StatsSnapshot returns a copy of the counters.
func (s *State) StatsSnapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Uptime reports time elapsed since the process started.
func (s *State) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.stats.StartedAt)
}

// Start runs the periodic cooldown cleanup in its own goroutine until ctx
// is cancelled. Cleanup is independent of all other activity.
func (s *State) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := s.CleanupCooldowns(now); n > 0 {
					log.Printf("session: purged %d stale cooldowns", n)
				}
			}
		}
	}()
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
