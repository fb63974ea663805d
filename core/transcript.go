package core

import (
	. "github.com/stevegt/goadapt"
	"github.com/stevegt/sonarchat/client"
)

// Transcript is the ordered list of messages exchanged in a session.
// It only grows: Append returns a new Transcript and never modifies
// the receiver, and there is no way to edit, remove, or reorder a
// message.  The zero value is an empty transcript.
type Transcript struct {
	msgs []client.ChatMsg
}

// NewTranscript returns a transcript seeded with a system message.
// An empty sysmsg still produces a system entry.
func NewTranscript(sysmsg string) Transcript {
	return Transcript{msgs: []client.ChatMsg{{Role: client.RoleSystem, Content: sysmsg}}}
}

// Append returns a copy of t with msgs added to the end.  Every
// message must carry a valid role.
func (t Transcript) Append(msgs ...client.ChatMsg) Transcript {
	for _, msg := range msgs {
		Assert(client.ValidRole(msg.Role), "invalid role %q", msg.Role)
	}
	out := make([]client.ChatMsg, 0, len(t.msgs)+len(msgs))
	out = append(out, t.msgs...)
	out = append(out, msgs...)
	return Transcript{msgs: out}
}

// Messages returns a copy of the messages in order.  It never
// returns nil.
func (t Transcript) Messages() []client.ChatMsg {
	return append([]client.ChatMsg{}, t.msgs...)
}

// Len returns the number of messages.
func (t Transcript) Len() int {
	return len(t.msgs)
}

// Last returns the most recent message, or false if t is empty.
func (t Transcript) Last() (msg client.ChatMsg, ok bool) {
	if len(t.msgs) == 0 {
		return
	}
	return t.msgs[len(t.msgs)-1], true
}

// First returns the oldest message, or false if t is empty.
func (t Transcript) First() (msg client.ChatMsg, ok bool) {
	if len(t.msgs) == 0 {
		return
	}
	return t.msgs[0], true
}
