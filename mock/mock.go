package mock

import (
	"context"
	"sync"
)

// Call is one recorded CompleteChat invocation.
type Call struct {
	Credential string
	Body       []byte
}

// Client is a mock ChatClient for testing.  It records every request
// and replies with Response, or with Err if set.  If Gate is non-nil,
// each call blocks until Gate yields a value or ctx is done, which
// lets tests hold a request in flight.
type Client struct {
	Response []byte
	Err      error
	Gate     chan struct{}

	mu    sync.Mutex
	calls []Call
	// started receives one value per call that has been recorded.
	started chan struct{}
}

// NewClient creates a new mock client that answers with response.
func NewClient(response string) *Client {
	return &Client{
		Response: []byte(response),
		started:  make(chan struct{}, 100),
	}
}

// CompleteChat records the call and returns the configured reply.
// This method implements the ChatClient interface.
func (c *Client) CompleteChat(ctx context.Context, credential string, body []byte) ([]byte, error) {
	c.mu.Lock()
	c.calls = append(c.calls, Call{Credential: credential, Body: append([]byte{}, body...)})
	c.mu.Unlock()
	if c.started != nil {
		select {
		case c.started <- struct{}{}:
		default:
		}
	}
	if c.Gate != nil {
		select {
		case <-c.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.Err != nil {
		return nil, c.Err
	}
	return append([]byte{}, c.Response...), nil
}

// Calls returns a copy of the recorded calls.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call{}, c.calls...)
}

// Started returns a channel that receives a value each time a call
// begins.
func (c *Client) Started() <-chan struct{} {
	return c.started
}
