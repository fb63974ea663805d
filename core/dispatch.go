package core

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/google/uuid"
	. "github.com/stevegt/goadapt"
	"github.com/stevegt/sonarchat/client"
	"github.com/stevegt/sonarchat/config"
	"github.com/stevegt/sonarchat/util"
)

// Turn is one user message on its way to the API.
type Turn struct {
	ID         uuid.UUID
	Credential string
	// Body is the encoded request, nil if encoding failed.
	Body []byte

	working Transcript
	mode    config.ResponseMode
	err     error
}

// Working returns the transcript including the new user message.
func (turn *Turn) Working() Transcript {
	return turn.working
}

// BeginTurn prepares a turn.  It returns nil, meaning there is
// nothing to send, when cfg is nil, credential is empty, or content
// is blank.  An empty transcript is first seeded with the system
// message from cfg.
func BeginTurn(cfg *config.Config, t Transcript, content, credential string) (turn *Turn) {
	if cfg == nil || credential == "" || util.Blank(content) {
		Debug("turn skipped: config %v, credential %v, content %q", cfg != nil, credential != "", util.Truncate(content, 40))
		return nil
	}
	if t.Len() == 0 {
		t = NewTranscript(cfg.SystemMessage)
	}
	working := t.Append(client.ChatMsg{Role: client.RoleUser, Content: content})
	turn = &Turn{
		ID:         uuid.New(),
		Credential: credential,
		working:    working,
		mode:       cfg.ResponseMode,
	}
	turn.Body, turn.err = cfg.RequestBody(working.msgs)
	return
}

// FinishTurn appends exactly one assistant message to the working
// transcript: the response on success, or an error description if
// callErr is non-nil or the response cannot be used.
func FinishTurn(turn *Turn, raw []byte, callErr error) Transcript {
	Assert(turn != nil, "FinishTurn needs a turn")
	content, err := assistantContent(turn.mode, raw, callErr)
	if err != nil {
		Debug("turn %s failed: %v", turn.ID, err)
		content = errorContent(err)
	}
	return turn.working.Append(client.ChatMsg{Role: client.RoleAssistant, Content: content})
}

func assistantContent(mode config.ResponseMode, raw []byte, callErr error) (content string, err error) {
	if callErr != nil {
		return "", callErr
	}
	if mode == config.ResponseMessage {
		return ExtractMessage(raw)
	}
	var buf bytes.Buffer
	err = json.Compact(&buf, raw)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Run issues the single request for the turn.  There is no retry.
func (turn *Turn) Run(ctx context.Context, cc client.ChatClient) (raw []byte, err error) {
	if turn.err != nil {
		return nil, turn.err
	}
	return cc.CompleteChat(ctx, turn.Credential, turn.Body)
}

// SendTurn runs one complete turn and returns the resulting
// transcript.  If there is nothing to send the input transcript is
// returned unchanged and no request is made.  Otherwise the result
// is the input plus the user message plus exactly one assistant
// message, whatever the outcome of the request.
func SendTurn(ctx context.Context, cc client.ChatClient, cfg *config.Config, t Transcript, content, credential string) Transcript {
	turn := BeginTurn(cfg, t, content, credential)
	if turn == nil {
		return t
	}
	raw, err := turn.Run(ctx, cc)
	return FinishTurn(turn, raw, err)
}
