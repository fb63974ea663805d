package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	. "github.com/stevegt/goadapt"
	"github.com/stevegt/envi"
	"github.com/stevegt/sonarchat/util"
)

// DefaultEndpoint is the chat completions URL of Perplexity.ai.
const DefaultEndpoint = "https://api.perplexity.ai/chat/completions"

// ErrNotJSON is returned when a successful response body is not JSON.
var ErrNotJSON = errors.New("response body is not JSON")

// StatusError is returned for any non-2xx response.  Body holds the
// response body as received.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Perplexity API returned status %d: %s", e.Status, string(e.Body))
}

// Client encapsulates the API client for Perplexity.ai.
// This client implements the ChatClient interface (as defined in the
// client package).
type Client struct {
	Endpoint   string
	HTTPClient *http.Client
}

// NewClient creates a new instance of the Perplexity chat client.
// The endpoint can be overridden with PERPLEXITY_ENDPOINT.
func NewClient() *Client {
	return &Client{
		Endpoint:   envi.String("PERPLEXITY_ENDPOINT", DefaultEndpoint),
		HTTPClient: &http.Client{},
	}
}

// CompleteChat POSTs body to the endpoint and returns the raw
// response body.  It makes exactly one attempt.  Cancel ctx to bound
// the time it may take.
func (c *Client) CompleteChat(ctx context.Context, credential string, body []byte) (raw []byte, err error) {
	defer Return(&err)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	Ck(err)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", credential))
	req.Header.Set("Content-Type", "application/json")

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	Debug("POST %s (%d bytes)", c.Endpoint, len(body))
	resp, err := hc.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	raw, err = io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	Debug("response status %d (%d bytes)", resp.StatusCode, len(raw))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err = &StatusError{Status: resp.StatusCode, Body: raw}
		raw = nil
		return
	}
	if !json.Valid(raw) {
		err = fmt.Errorf("%w: %q", ErrNotJSON, util.Truncate(string(raw), 200))
		raw = nil
		return
	}
	return
}
