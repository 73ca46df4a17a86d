// Package client is a Go client for the NeuroWeave Core HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nextlevelbuilder/neuroweave/pkg/protocol"
)

// Envelope is a memory envelope as exchanged on the wire.
type Envelope = map[string]any

// Receipt is a deletion receipt.
type Receipt struct {
	MemID     string `json:"mem_id"`
	Action    string `json:"action"`
	DeletedAt string `json:"deleted_at"`
	Proof     string `json:"proof"`
}

// CreateResult acknowledges a create.
type CreateResult struct {
	OK          bool   `json:"ok"`
	ID          string `json:"id"`
	Sig         string `json:"sig"`
	Resurrected bool   `json:"resurrected,omitempty"`
}

// DeleteResult carries the receipt of a delete.
type DeleteResult struct {
	OK      bool    `json:"ok"`
	Receipt Receipt `json:"receipt"`
}

// Subscriber is a registry entry.
type Subscriber struct {
	AgentID  string  `json:"agentId"`
	Callback *string `json:"callback"`
}

// Error is a non-2xx response from the Core.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("neuroweave: %s (%d %s)", e.Message, e.Status, e.Code)
	}
	return fmt.Sprintf("neuroweave: %s (%d)", e.Message, e.Status)
}

// IsNotFound reports whether err is a 404 from the Core.
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Status == http.StatusNotFound
}

// Client talks to one Core.
type Client struct {
	baseURL string
	agentID string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAgentID sends X-Agent-Id on every request.
func WithAgentID(id string) Option { return func(c *Client) { c.agentID = id } }

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// New creates a client for the Core at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CreateMemory posts env.
func (c *Client) CreateMemory(ctx context.Context, env Envelope) (*CreateResult, error) {
	var out CreateResult
	if err := c.do(ctx, http.MethodPost, "/memories", env, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMemories lists envelopes visible to agent ("" lists everything).
func (c *Client) ListMemories(ctx context.Context, agent string) ([]Envelope, error) {
	path := "/memories"
	if agent != "" {
		path += "?agent=" + url.QueryEscape(agent)
	}
	out := []Envelope{}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMemory fetches one envelope on behalf of agent.
func (c *Client) GetMemory(ctx context.Context, id, agent string) (Envelope, error) {
	path := "/memories/" + url.PathEscape(id)
	if agent != "" {
		path += "?agent=" + url.QueryEscape(agent)
	}
	var out Envelope
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteMemory deletes id and returns the receipt.
func (c *Client) DeleteMemory(ctx context.Context, id string) (*DeleteResult, error) {
	var out DeleteResult
	if err := c.do(ctx, http.MethodPost, "/memories/"+url.PathEscape(id)+"/delete", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Receipt fetches the deletion receipt for id.
func (c *Client) Receipt(ctx context.Context, id string) (*Receipt, error) {
	var out Receipt
	if err := c.do(ctx, http.MethodGet, "/deletions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyReceipt asks the Core to check the proof of the receipt for id.
func (c *Client) VerifyReceipt(ctx context.Context, id string) (bool, error) {
	var out struct {
		ProofOK bool `json:"proof_ok"`
	}
	if err := c.do(ctx, http.MethodGet, "/deletions/"+url.PathEscape(id)+"/verify", nil, &out); err != nil {
		return false, err
	}
	return out.ProofOK, nil
}

// Subscribe registers agentID with an optional callback URL.
func (c *Client) Subscribe(ctx context.Context, agentID, callback string) error {
	body := map[string]any{"agentId": agentID}
	if callback != "" {
		body["callback"] = callback
	}
	return c.do(ctx, http.MethodPost, "/subscribe", body, nil)
}

// Subscribers lists the registry.
func (c *Client) Subscribers(ctx context.Context) ([]Subscriber, error) {
	var out []Subscriber
	if err := c.do(ctx, http.MethodGet, "/subscribers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.agentID != "" {
		req.Header.Set("X-Agent-Id", c.agentID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var eb protocol.ErrorBody
		if json.Unmarshal(data, &eb) != nil || eb.Error == "" {
			eb.Error = strings.TrimSpace(string(data))
		}
		return &Error{Status: resp.StatusCode, Code: eb.Code, Message: eb.Error}
	}
	if out == nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
