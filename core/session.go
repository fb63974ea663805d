package core

import (
	"context"
	"sync"
	"time"

	. "github.com/stevegt/goadapt"
	"github.com/stevegt/sonarchat/client"
	"github.com/stevegt/sonarchat/config"
)

// DefaultTimeout bounds a single turn.
const DefaultTimeout = 120 * time.Second

// State is the dispatch state of a Session.
type State int

const (
	Idle State = iota
	Pending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	}
	return "unknown"
}

// EventType names a Session event.
type EventType string

const (
	EventPending  EventType = "pending"
	EventAppended EventType = "appended"
	EventIdle     EventType = "idle"
)

// Event reports a Session change to subscribers.  Messages holds
// the messages appended by the change, if any.
type Event struct {
	Type     EventType        `json:"type"`
	TurnID   string           `json:"turn_id,omitempty"`
	Messages []client.ChatMsg `json:"messages,omitempty"`
}

// Session owns the configuration, the transcript, and the credential
// for one user, and runs at most one turn at a time.  The credential
// lives only in memory.
type Session struct {
	// Timeout bounds each turn; zero disables it.
	Timeout time.Duration

	mu         sync.Mutex
	cc         client.ChatClient
	cfg        *config.Config
	transcript Transcript
	credential string
	state      State
	subs       map[chan Event]bool
}

// NewSession returns an idle session that sends through cc.
func NewSession(cc client.ChatClient) *Session {
	Assert(cc != nil, "NewSession needs a chat client")
	return &Session{
		Timeout: DefaultTimeout,
		cc:      cc,
		subs:    make(map[chan Event]bool),
	}
}

// Configure installs cfg as the configuration for future turns.  An
// empty transcript is seeded with the system message of cfg; an
// existing transcript is never rewritten.
func (s *Session) Configure(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if cfg != nil && s.transcript.Len() == 0 {
		s.transcript = NewTranscript(cfg.SystemMessage)
		s.publish(Event{Type: EventAppended, Messages: s.transcript.Messages()})
	}
}

// StaleSystemMessage explains a true SystemMessageStale.
const StaleSystemMessage = "the transcript keeps its original system message; the new one is not sent"

// SystemMessageStale returns true if the configured system message
// differs from the one the transcript was seeded with.  The
// transcript is never rewritten, so such a message has no effect
// until a new session.
func (s *Session) SystemMessageStale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return false
	}
	first, ok := s.transcript.First()
	return ok && first.Role == client.RoleSystem && first.Content != s.cfg.SystemMessage
}

// SetCredential sets the API key used for future turns.
func (s *Session) SetCredential(credential string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credential = credential
}

// HasCredential returns true if a credential has been set.
func (s *Session) HasCredential() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential != ""
}

// Ready returns true if both a configuration and a credential are
// present.
func (s *Session) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg != nil && s.credential != ""
}

// State returns the current dispatch state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns the current transcript.  While a turn is
// pending it already includes the user message.
func (s *Session) Transcript() Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

// Config returns the current configuration, or nil.
func (s *Session) Config() *config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Send runs one turn with content.  It returns ErrPending if another
// turn is outstanding.  Without a configuration, a credential, or
// non-blank content it does nothing and returns changed == false.
// Request failures are recorded in the transcript, not returned.
func (s *Session) Send(ctx context.Context, content string) (changed bool, err error) {
	s.mu.Lock()
	if s.state == Pending {
		s.mu.Unlock()
		return false, ErrPending
	}
	turn := BeginTurn(s.cfg, s.transcript, content, s.credential)
	if turn == nil {
		s.mu.Unlock()
		return false, nil
	}
	before := s.transcript.Len()
	s.state = Pending
	s.transcript = turn.Working()
	s.publish(Event{
		Type:     EventPending,
		TurnID:   turn.ID.String(),
		Messages: turn.Working().Messages()[before:],
	})
	timeout := s.Timeout
	s.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	raw, callErr := turn.Run(ctx, s.cc)
	result := FinishTurn(turn, raw, callErr)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = result
	s.state = Idle
	last, _ := result.Last()
	s.publish(Event{Type: EventAppended, TurnID: turn.ID.String(), Messages: []client.ChatMsg{last}})
	s.publish(Event{Type: EventIdle, TurnID: turn.ID.String()})
	return true, nil
}

// Subscribe returns a channel of session events and a function that
// ends the subscription.  Events are dropped for a subscriber that
// falls behind.
func (s *Session) Subscribe() (events <-chan Event, cancel func()) {
	ch := make(chan Event, 64)
	s.mu.Lock()
	s.subs[ch] = true
	s.mu.Unlock()
	cancel = func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.subs[ch] {
			delete(s.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// publish must be called with s.mu held.
func (s *Session) publish(ev Event) {
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			Debug("dropping %s event for slow subscriber", ev.Type)
		}
	}
}
