package client

import (
	"context"

	oai "github.com/sashabaranov/go-openai"
)

// Roles accepted by the completion API.  The API uses the same
// lowercase role names as OpenAI.
const (
	RoleSystem    = oai.ChatMessageRoleSystem
	RoleUser      = oai.ChatMessageRoleUser
	RoleAssistant = oai.ChatMessageRoleAssistant
)

// ChatClient defines the interface for sending one completion
// request.  Implementations (such as perplexity.Client and
// mock.Client) POST the already-encoded request body using the given
// bearer credential and return the raw response body.
type ChatClient interface {
	CompleteChat(ctx context.Context, credential string, body []byte) (raw []byte, err error)
}

// ChatMsg represents a single chat message.
type ChatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ValidRole returns true if role is one of the roles a transcript
// may hold.
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}
