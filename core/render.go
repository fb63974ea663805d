package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	oai "github.com/sashabaranov/go-openai"
	"github.com/stevegt/sonarchat/client"
)

// Kinds of rendered message bodies.
const (
	KindJSON = "json"
	KindText = "text"
)

// Rendered is a message prepared for display.
type Rendered struct {
	Role string `json:"role"`
	Kind string `json:"kind"`
	Body string `json:"body"`
}

// Render prepares msg for display.  Assistant content that parses as
// JSON is pretty-printed; everything else is shown as literal text.
func Render(msg client.ChatMsg) Rendered {
	r := Rendered{Role: msg.Role, Kind: KindText, Body: msg.Content}
	if msg.Role != client.RoleAssistant {
		return r
	}
	trimmed := strings.TrimSpace(msg.Content)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return r
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(trimmed), "", "  "); err != nil {
		return r
	}
	r.Kind = KindJSON
	r.Body = buf.String()
	return r
}

// RenderTranscript renders every message of t in order.
func RenderTranscript(t Transcript) (out []Rendered) {
	out = []Rendered{}
	for _, msg := range t.msgs {
		out = append(out, Render(msg))
	}
	return
}

// ExtractMessage returns choices[0].message.content from a raw
// completion response.
func ExtractMessage(raw []byte) (content string, err error) {
	var resp oai.ChatCompletionResponse
	err = json.Unmarshal(raw, &resp)
	if err != nil {
		return "", fmt.Errorf("cannot decode completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
