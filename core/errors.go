package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stevegt/sonarchat/perplexity"
)

// ErrPending is returned by Session.Send while a turn is outstanding.
var ErrPending = errors.New("a request is already pending")

type errorDetail struct {
	Message string      `json:"message"`
	Status  int         `json:"status,omitempty"`
	Body    interface{} `json:"body,omitempty"`
}

type errorEntry struct {
	Error errorDetail `json:"error"`
}

// errorContent renders a failed turn as the JSON text stored in the
// assistant message, e.g.
//
//	{"error":{"message":"...","status":401,"body":{...}}}
//
// status and body are present only for HTTP status failures.  A JSON
// error body is embedded as-is, anything else as a string.
func errorContent(err error) string {
	detail := errorDetail{Message: err.Error()}
	var se *perplexity.StatusError
	switch {
	case errors.As(err, &se):
		detail.Message = fmt.Sprintf("HTTP status %d", se.Status)
		detail.Status = se.Status
		if json.Valid(se.Body) {
			detail.Body = json.RawMessage(se.Body)
		} else if len(se.Body) > 0 {
			detail.Body = string(se.Body)
		}
	case errors.Is(err, context.DeadlineExceeded):
		detail.Message = "request timed out"
	}
	buf, merr := json.Marshal(errorEntry{Error: detail})
	if merr != nil {
		// only reachable with an unmarshalable body; drop it
		detail.Body = nil
		buf, _ = json.Marshal(errorEntry{Error: detail})
	}
	return string(buf)
}
