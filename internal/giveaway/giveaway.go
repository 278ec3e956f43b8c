// Package giveaway runs the time-boxed contest subsystem. At most one
// giveaway is active; while it runs, the background announcer is suspended
// in favor of a higher-frequency contest announcement loop.
package giveaway

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kit-courier/bot/internal/announce"
	"github.com/kit-courier/bot/internal/config"
	"github.com/kit-courier/bot/internal/session"
)

var (
	ErrAlreadyActive = errors.New("a giveaway is already active")
	ErrNoneActive    = errors.New("no active giveaway")
	ErrEnded         = errors.New("giveaway has ended")
	ErrAlreadyJoined = errors.New("already entered in this giveaway")
	ErrBadDuration   = errors.New("duration out of range")
)

var spamMessages = []string{
	"GIVEAWAY ACTIVE! Join with $giveaway",
	"Free prizes! Type $giveaway to enter",
	"Don't miss out! $giveaway to participate",
	"Active giveaway! Use $giveaway info for details",
}

// Submitter is the slice of the outbound queue the manager needs.
type Submitter interface {
	SubmitWait(text string, priority, bypassLoginGate bool) bool
}

// Info is a read-only snapshot of a giveaway.
type Info struct {
	ID           string
	Title        string
	Prize        string
	Duration     time.Duration
	StartTime    time.Time
	EndTime      time.Time
	CreatedBy    string
	Participants []string
	Remaining    time.Duration
}

// FormatRemaining renders the time left as "Xm Ys", floor-divided.
func (i Info) FormatRemaining() string {
	mins := int(i.Remaining.Minutes())
	secs := int(i.Remaining.Seconds()) % 60
	return fmt.Sprintf("%dm %ds", mins, secs)
}

// Result is the outcome of an ended giveaway. Winner is empty when no one
// participated.
type Result struct {
	Info             Info
	Winner           string
	ParticipantCount int
	AutoEnd          bool
}

// Observer receives giveaway lifecycle notifications.
type Observer interface {
	GiveawayCreated(Info)
	GiveawayEnded(Result)
	GiveawayCancelled(Info)
}

type active struct {
	id           string
	title        string
	prize        string
	duration     time.Duration
	startTime    time.Time
	endTime      time.Time
	createdBy    string
	participants map[string]bool
	autoEnd      *time.Timer
	spamStop     chan struct{}
}

type Manager struct {
	cfg       config.GiveawayConfig
	state     *session.State
	chat      Submitter
	announcer *announce.Announcer

	mu        sync.Mutex
	current   *active
	observers []Observer
}

func NewManager(cfg config.GiveawayConfig, state *session.State, chat Submitter, announcer *announce.Announcer) *Manager {
	return &Manager{cfg: cfg, state: state, chat: chat, announcer: announcer}
}

// Subscribe registers an observer. Wire observers during startup.
func (m *Manager) Subscribe(o Observer) {
	m.observers = append(m.observers, o)
}

// Create starts a new giveaway and suspends the background announcer.
func (m *Manager) Create(title, prize string, duration time.Duration, createdBy string) (Info, error) {
	if duration < time.Minute || duration > m.cfg.MaxDuration {
		return Info{}, ErrBadDuration
	}

	m.mu.Lock()
	if m.current != nil {
		m.mu.Unlock()
		return Info{}, ErrAlreadyActive
	}
	now := time.Now()
	g := &active{
		id:           fmt.Sprintf("gw-%d", now.UnixNano()),
		title:        title,
		prize:        prize,
		duration:     duration,
		startTime:    now,
		endTime:      now.Add(duration),
		createdBy:    createdBy,
		participants: make(map[string]bool),
		spamStop:     make(chan struct{}),
	}
	g.autoEnd = time.AfterFunc(duration, func() {
		if _, err := m.End(true); err != nil {
			log.Printf("giveaway: auto-end: %v", err)
		}
	})
	m.current = g
	info := m.infoLocked(g)
	m.mu.Unlock()

	m.announcer.Stop()
	go m.spamLoop(g)
	log.Printf("giveaway: created %q (%s) for %s", title, prize, duration)

	for _, o := range m.observers {
		o.GiveawayCreated(info)
	}
	return info, nil
}

// Join enters identity into the active giveaway. Case-insensitive; the
// second join by the same identity fails.
func (m *Manager) Join(identity string) (count int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.current
	if g == nil {
		return 0, ErrNoneActive
	}
	if time.Now().After(g.endTime) {
		return 0, ErrEnded
	}
	key := strings.ToLower(identity)
	if g.participants[key] {
		return len(g.participants), ErrAlreadyJoined
	}
	g.participants[key] = true
	log.Printf("giveaway: %s joined (%d participants)", identity, len(g.participants))
	return len(g.participants), nil
}

// Info snapshots the active giveaway.
func (m *Manager) Info() (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Info{}, ErrNoneActive
	}
	return m.infoLocked(m.current), nil
}

// Active reports whether a giveaway is running.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// End tears down the active giveaway and draws a uniformly random winner
// from the participant set (empty winner when nobody joined).
func (m *Manager) End(autoEnd bool) (Result, error) {
	info, err := m.teardown()
	if err != nil {
		return Result{}, err
	}

	result := Result{Info: info, ParticipantCount: len(info.Participants), AutoEnd: autoEnd}
	if len(info.Participants) > 0 {
		result.Winner = info.Participants[rand.Intn(len(info.Participants))]
	}

	log.Printf("giveaway: ended, winner=%q participants=%d auto=%v",
		result.Winner, result.ParticipantCount, autoEnd)
	for _, o := range m.observers {
		o.GiveawayEnded(result)
	}
	return result, nil
}

// Cancel tears down the active giveaway without drawing a winner.
func (m *Manager) Cancel() (Info, error) {
	info, err := m.teardown()
	if err != nil {
		return Info{}, err
	}
	log.Printf("giveaway: cancelled %q", info.Title)
	for _, o := range m.observers {
		o.GiveawayCancelled(info)
	}
	return info, nil
}

// teardown performs the shared end/cancel path. The auto-end timer is
// always cancelled before anything else so no second teardown can fire.
func (m *Manager) teardown() (Info, error) {
	m.mu.Lock()
	g := m.current
	if g == nil {
		m.mu.Unlock()
		return Info{}, ErrNoneActive
	}
	g.autoEnd.Stop()
	close(g.spamStop)
	m.current = nil
	info := m.infoLocked(g)
	m.mu.Unlock()

	// Resume the background announcer after a short breather, unless a new
	// giveaway started or the session dropped in the meantime.
	time.AfterFunc(m.cfg.ResumeDelay, func() {
		if !m.Active() && m.state.Connected() && m.state.LoggedIn() {
			m.announcer.Start()
		}
	})

	return info, nil
}

// spamLoop announces the giveaway at a higher frequency than the normal
// announcer, rotating a fixed message set.
func (m *Manager) spamLoop(g *active) {
	select {
	case <-g.spamStop:
		return
	case <-time.After(m.cfg.InitialDelay):
	}

	idx := 0
	for {
		if m.chat.SubmitWait(spamMessages[idx], false, false) {
			idx = (idx + 1) % len(spamMessages)
		}
		wait := m.cfg.AnnounceInterval
		if m.cfg.AnnounceJitter > 0 {
			wait += time.Duration(rand.Int63n(int64(m.cfg.AnnounceJitter)))
		}
		select {
		case <-g.spamStop:
			return
		case <-time.After(wait):
		}
	}
}

// infoLocked snapshots g. Caller holds m.mu.
func (m *Manager) infoLocked(g *active) Info {
	participants := make([]string, 0, len(g.participants))
	for p := range g.participants {
		participants = append(participants, p)
	}
	sort.Strings(participants)

	remaining := time.Until(g.endTime)
	if remaining < 0 {
		remaining = 0
	}
	return Info{
		ID:           g.id,
		Title:        g.title,
		Prize:        g.prize,
		Duration:     g.duration,
		StartTime:    g.startTime,
		EndTime:      g.endTime,
		CreatedBy:    g.createdBy,
		Participants: participants,
		Remaining:    remaining,
	}
}
