package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"offrecord/internal/domain"
)

// Client talks to a relay over HTTP.
type Client struct {
	Base string
	HTTP *http.Client
}

// NewClient returns a client for the relay at base. A nil hc uses
// http.DefaultClient.
func NewClient(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{Base: strings.TrimRight(base, "/"), HTTP: hc}
}

var _ domain.RelayClient = (*Client)(nil)

// Send queues env for env.To.
func (c *Client) Send(ctx context.Context, env domain.Envelope) error {
	return c.post(ctx, "/msg/"+url.PathEscape(env.To), env)
}

// Fetch returns up to limit queued envelopes for username; limit <= 0
// returns all of them. Fetched envelopes stay queued until acknowledged.
func (c *Client) Fetch(ctx context.Context, username string, limit int) ([]domain.Envelope, error) {
	path := "/msg/" + url.PathEscape(username)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, statusError(http.MethodGet, path, resp)
	}
	var envs []domain.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&envs); err != nil {
		return nil, fmt.Errorf("relay get %s: decode: %w", path, err)
	}
	return envs, nil
}

// Ack drops the first count envelopes queued for username.
func (c *Client) Ack(ctx context.Context, username string, count int) error {
	return c.post(ctx, "/msg/"+url.PathEscape(username)+"/ack", ackRequest{Count: count})
}

type ackRequest struct {
	Count int `json:"count"`
}

func (c *Client) post(ctx context.Context, path string, in any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return statusError(http.MethodPost, path, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func statusError(method, path string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if s := strings.TrimSpace(string(msg)); s != "" {
		return fmt.Errorf("relay %s %s: %s: %s", strings.ToLower(method), path, resp.Status, s)
	}
	return fmt.Errorf("relay %s %s: %s", strings.ToLower(method), path, resp.Status)
}
