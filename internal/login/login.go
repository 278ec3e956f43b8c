// Package login drives the fixed multi-step authentication handshake
// against the game server, retrying with backoff when a step fails.
package login

import (
	"log"
	"strings"
	"time"

	"github.com/kit-courier/bot/internal/config"
	"github.com/kit-courier/bot/internal/session"
)

// retryTimer names the state-registered backoff timer so Reset cancels it.
const retryTimer = "login-retry"

// Submitter is the slice of the outbound queue the driver needs.
type Submitter interface {
	SubmitWait(text string, priority, bypassLoginGate bool) bool
}

type Driver struct {
	cfg     config.LoginConfig
	state   *session.State
	chat    Submitter
	onReady func() // invoked once the bot is authenticated and announced
}

func New(cfg config.LoginConfig, state *session.State, chat Submitter, onReady func()) *Driver {
	return &Driver{cfg: cfg, state: state, chat: chat, onReady: onReady}
}

// Start launches the handshake asynchronously. A sequence already in
// progress makes this a no-op.
func (d *Driver) Start() {
	attempt, ok := d.state.BeginLogin()
	if !ok {
		log.Printf("login: already in progress")
		return
	}
	log.Printf("login: starting sequence (attempt %d)", attempt)
	go d.run()
}

// run executes the steps. Each submit must succeed or the whole sequence
// aborts and reschedules.
func (d *Driver) run() {
	time.Sleep(d.cfg.StartDelay)

	log.Printf("login: sending primary command")
	if !d.chat.SubmitWait(d.cfg.PrimaryCommand, true, true) {
		d.fail("primary command")
		return
	}
	time.Sleep(d.cfg.PrimaryDelay)

	log.Printf("login: sending setup command")
	if !d.chat.SubmitWait(d.cfg.SetupCommand, true, true) {
		d.fail("setup command")
		return
	}
	time.Sleep(d.cfg.SetupDelay)

	d.state.FinishLogin(true)
	log.Printf("login: sequence completed")

	d.chat.SubmitWait("Bot online - kit delivery ready! Type $kit for free items.", false, false)
	if d.onReady != nil {
		d.onReady()
	}
}

func (d *Driver) fail(step string) {
	log.Printf("login: %s failed", step)
	d.state.FinishLogin(false)

	if d.state.LoginAttempts() < d.cfg.MaxRetries {
		log.Printf("login: retrying in %s", d.cfg.RetryBackoff)
		t := time.AfterFunc(d.cfg.RetryBackoff, d.Start)
		d.state.RegisterTimer(retryTimer, t)
		return
	}

	// Out of retries. The counter resets so an external retry command can
	// start over; nothing retries automatically past this point.
	log.Printf("login: max attempts reached, giving up")
	d.state.ResetLoginAttempts()
}

var successPhrases = []string{
	"you have successfully logged in",
	"successfully logged in",
	"login successful",
}

// DetectSuccess reports whether a server chat line announces that the bot
// authenticated out-of-band.
func DetectSuccess(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range successPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// NoteServerLogin short-circuits to the logged-in state when the server
// confirms authentication before the scripted sequence finishes. Idempotent.
func (d *Driver) NoteServerLogin() {
	if d.state.MarkLoggedIn() {
		log.Printf("login: server confirmed login out-of-band")
	}
}
