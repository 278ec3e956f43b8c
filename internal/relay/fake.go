package relay

import "sync"

// SentMessage records one outbound relay call made against a Recorder.
type SentMessage struct {
	Channel string
	Text    string
	Embed   *Embed
	ReplyTo string
}

// Recorder is an in-memory Messenger for tests. Outbound traffic is
// recorded; inbound commands are injected with Inject.
type Recorder struct {
	mu        sync.Mutex
	messages  []SentMessage
	reactions []bool
	commands  chan Command
}

func NewRecorder() *Recorder {
	return &Recorder{commands: make(chan Command, 16)}
}

func (r *Recorder) Send(channel, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, SentMessage{Channel: channel, Text: text})
	return nil
}

func (r *Recorder) SendEmbed(channel string, e Embed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, SentMessage{Channel: channel, Embed: &e})
	return nil
}

func (r *Recorder) Reply(cmd Command, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, SentMessage{Channel: cmd.Channel, Text: text, ReplyTo: cmd.ID})
	return nil
}

func (r *Recorder) ReplyEmbed(cmd Command, e Embed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, SentMessage{Channel: cmd.Channel, Embed: &e, ReplyTo: cmd.ID})
	return nil
}

func (r *Recorder) React(cmd Command, ok bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactions = append(r.reactions, ok)
	return nil
}

func (r *Recorder) Commands() <-chan Command { return r.commands }

func (r *Recorder) Close() error { return nil }

// Inject delivers an inbound command as if it arrived from the gateway.
func (r *Recorder) Inject(cmd Command) {
	r.commands <- cmd
}

// Messages returns a copy of everything sent so far.
func (r *Recorder) Messages() []SentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SentMessage, len(r.messages))
	copy(out, r.messages)
	return out
}

// Reactions returns the recorded reaction outcomes in order.
func (r *Recorder) Reactions() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.reactions))
	copy(out, r.reactions)
	return out
}
