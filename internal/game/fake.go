package game

import (
	"context"
	"fmt"
	"sync"

	"github.com/kit-courier/bot/internal/session"
)

// Fake is an in-memory Client for tests and offline runs. Event emitters
// drive the registered handlers synchronously; sent chat lines are recorded
// for inspection.
type Fake struct {
	mu        sync.Mutex
	username  string
	handlers  Handlers
	connected bool
	position  session.Position
	health    float64
	dimension string
	players   []PlayerInfo
	inventory []Item
	sent      []string
	failChat  bool
}

func NewFake(username string) *Fake {
	return &Fake{
		username:  username,
		health:    20,
		dimension: "overworld",
	}
}

func (f *Fake) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *Fake) SetHandlers(h Handlers) {
	f.mu.Lock()
	f.handlers = h
	f.mu.Unlock()
}

func (f *Fake) Username() string { return f.username }

func (f *Fake) Chat(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return fmt.Errorf("not connected")
	}
	if f.failChat {
		return fmt.Errorf("chat rejected")
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *Fake) Position() session.Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position
}

func (f *Fake) Health() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

func (f *Fake) Dimension() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dimension
}

func (f *Fake) Players() []PlayerInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PlayerInfo, len(f.players))
	copy(out, f.players)
	return out
}

func (f *Fake) Inventory() []Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Item, len(f.inventory))
	copy(out, f.inventory)
	return out
}

func (f *Fake) TossStack(item Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, it := range f.inventory {
		if it.Name == item.Name {
			f.inventory = append(f.inventory[:i], f.inventory[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("item %s not held", item.Name)
}

func (f *Fake) EquipAndUse(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.inventory {
		if it.Name == name {
			return nil
		}
	}
	return fmt.Errorf("item %s not held", name)
}

// Sent returns a copy of every chat line sent so far.
func (f *Fake) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

// SetFailChat makes subsequent Chat calls return an error.
func (f *Fake) SetFailChat(fail bool) {
	f.mu.Lock()
	f.failChat = fail
	f.mu.Unlock()
}

// SetPosition moves the fake bot and fires the move handler.
func (f *Fake) SetPosition(p session.Position) {
	f.mu.Lock()
	f.position = p
	h := f.handlers
	f.mu.Unlock()
	if h.OnMove != nil {
		h.OnMove(p)
	}
}

// SetHealth updates health and fires the health handler.
func (f *Fake) SetHealth(health float64) {
	f.mu.Lock()
	f.health = health
	h := f.handlers
	f.mu.Unlock()
	if h.OnHealth != nil {
		h.OnHealth(health)
	}
}

func (f *Fake) SetDimension(d string) {
	f.mu.Lock()
	f.dimension = d
	f.mu.Unlock()
}

func (f *Fake) SetPlayers(players []PlayerInfo) {
	f.mu.Lock()
	f.players = players
	f.mu.Unlock()
}

func (f *Fake) SetInventory(items []Item) {
	f.mu.Lock()
	f.inventory = items
	f.mu.Unlock()
}

// EmitSpawn fires the spawn handler.
func (f *Fake) EmitSpawn() {
	f.mu.Lock()
	h := f.handlers
	f.mu.Unlock()
	if h.OnSpawn != nil {
		h.OnSpawn()
	}
}

// EmitChat fires the chat handler as if sender spoke in game chat.
func (f *Fake) EmitChat(sender, text string) {
	f.mu.Lock()
	h := f.handlers
	f.mu.Unlock()
	if h.OnChat != nil {
		h.OnChat(sender, text)
	}
}

// EmitKick fires the kick handler.
func (f *Fake) EmitKick(reason string) {
	f.mu.Lock()
	f.connected = false
	h := f.handlers
	f.mu.Unlock()
	if h.OnKick != nil {
		h.OnKick(reason)
	}
}
