package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	. "github.com/stevegt/goadapt"
	"github.com/stevegt/sonarchat/client"
	"github.com/stevegt/sonarchat/mock"
)

func TestSessionSend(t *testing.T) {
	cc := mock.NewClient(okResponse)
	s := NewSession(cc)
	Tassert(t, !s.Ready(), "ready without config")

	changed, err := s.Send(context.Background(), "hello")
	Tassert(t, err == nil && !changed, "send without config: %v %v", changed, err)

	s.Configure(testConfig(t))
	Tassert(t, s.Transcript().Len() == 1, "configure did not seed: %d", s.Transcript().Len())
	changed, err = s.Send(context.Background(), "hello")
	Tassert(t, err == nil && !changed, "send without credential: %v %v", changed, err)
	Tassert(t, len(cc.Calls()) == 0, "calls: %d", len(cc.Calls()))

	s.SetCredential("abc")
	Tassert(t, s.Ready(), "not ready")
	changed, err = s.Send(context.Background(), "hello")
	Tassert(t, err == nil && changed, "send: %v %v", changed, err)
	Tassert(t, s.Transcript().Len() == 3, "len: %d", s.Transcript().Len())
	Tassert(t, s.State() == Idle, "state: %s", s.State())
}

func TestSessionPending(t *testing.T) {
	cc := mock.NewClient(okResponse)
	cc.Gate = make(chan struct{})
	s := NewSession(cc)
	s.Configure(testConfig(t))
	s.SetCredential("abc")

	done := make(chan error)
	go func() {
		_, err := s.Send(context.Background(), "first")
		done <- err
	}()
	<-cc.Started()

	Tassert(t, s.State() == Pending, "state: %s", s.State())
	last, _ := s.Transcript().Last()
	Tassert(t, last.Role == client.RoleUser && last.Content == "first", "pending transcript: %v", last)

	changed, err := s.Send(context.Background(), "second")
	Tassert(t, errors.Is(err, ErrPending), "expected ErrPending, got %v", err)
	Tassert(t, !changed, "changed while pending")

	close(cc.Gate)
	err = <-done
	Tassert(t, err == nil, "send: %v", err)
	Tassert(t, s.State() == Idle, "state: %s", s.State())
	Tassert(t, s.Transcript().Len() == 3, "len: %d", s.Transcript().Len())
	Tassert(t, len(cc.Calls()) == 1, "calls: %d", len(cc.Calls()))
}

func TestSessionTimeout(t *testing.T) {
	cc := mock.NewClient(okResponse)
	cc.Gate = make(chan struct{})
	s := NewSession(cc)
	s.Timeout = 20 * time.Millisecond
	s.Configure(testConfig(t))
	s.SetCredential("abc")

	changed, err := s.Send(context.Background(), "hello")
	Tassert(t, err == nil && changed, "send: %v %v", changed, err)
	last, _ := s.Transcript().Last()
	Tassert(t, last.Role == client.RoleAssistant, "role: %s", last.Role)
	Tassert(t, strings.Contains(last.Content, "timed out"), "content: %s", last.Content)
	Tassert(t, s.State() == Idle, "state: %s", s.State())
}

func TestSessionConfigureKeepsTranscript(t *testing.T) {
	s := NewSession(mock.NewClient(`{}`))
	s.Configure(testConfig(t))
	s.SetCredential("abc")
	_, err := s.Send(context.Background(), "hello")
	Tassert(t, err == nil, "send: %v", err)

	cfg := testConfig(t)
	cfg.SystemMessage = "new system message"
	s.Configure(cfg)
	msgs := s.Transcript().Messages()
	Tassert(t, len(msgs) == 3, "len: %d", len(msgs))
	Tassert(t, msgs[0].Content == "", "system message rewritten: %q", msgs[0].Content)
	Tassert(t, s.Config().SystemMessage == "new system message", "config not replaced")
}

func TestSessionEvents(t *testing.T) {
	s := NewSession(mock.NewClient(`{}`))
	events, cancel := s.Subscribe()
	defer cancel()
	s.Configure(testConfig(t))
	s.SetCredential("abc")
	_, err := s.Send(context.Background(), "hello")
	Tassert(t, err == nil, "send: %v", err)

	var types []EventType
	for len(types) < 4 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("events: %v", types)
		}
	}
	want := []EventType{EventAppended, EventPending, EventAppended, EventIdle}
	for i := range want {
		Tassert(t, types[i] == want[i], "events: %v", types)
	}
}

func TestSessionSystemMessageStale(t *testing.T) {
	s := NewSession(mock.NewClient(`{}`))
	Tassert(t, !s.SystemMessageStale(), "stale without config")

	cfg := testConfig(t)
	cfg.SystemMessage = "be brief"
	s.Configure(cfg)
	Tassert(t, !s.SystemMessageStale(), "stale right after seeding")

	same := testConfig(t)
	same.SystemMessage = "be brief"
	same.Temperature = 1
	s.Configure(same)
	Tassert(t, !s.SystemMessageStale(), "stale with unchanged system message")

	changed := testConfig(t)
	changed.SystemMessage = "be verbose"
	s.Configure(changed)
	Tassert(t, s.SystemMessageStale(), "changed system message not reported")
	first, _ := s.Transcript().First()
	Tassert(t, first.Content == "be brief", "transcript rewritten: %q", first.Content)
}
