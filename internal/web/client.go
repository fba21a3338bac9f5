package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/tokikanri/tokikanri/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Client talks to a running daemon's HTTP API
type Client struct {
	base string
	http *http.Client
}

func NewClient(addr string) *Client {
	return &Client{
		base: "http://" + addr,
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

// Reachable reports whether the daemon answers its health endpoint
func (c *Client) Reachable(ctx context.Context) bool {
	var out map[string]string
	return c.do(ctx, http.MethodGet, "/health", nil, &out) == nil
}

func (c *Client) Status(ctx context.Context) (*StatusJSON, error) {
	var out StatusJSON
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Processes(ctx context.Context) ([]ProcessJSON, error) {
	var out []ProcessJSON
	err := c.do(ctx, http.MethodGet, "/api/processes", nil, &out)
	return out, err
}

func (c *Client) Add(ctx context.Context, identity, displayName string) (string, error) {
	var out map[string]string
	err := c.do(ctx, http.MethodPost, "/api/processes", addRequest{Identity: identity, DisplayName: displayName}, &out)
	return out["identity"], err
}

func (c *Client) Rename(ctx context.Context, identity, displayName string) error {
	return c.do(ctx, http.MethodPut, "/api/processes/"+url.PathEscape(identity), renameRequest{DisplayName: displayName}, nil)
}

func (c *Client) Reset(ctx context.Context, identity string) error {
	return c.do(ctx, http.MethodPost, "/api/processes/"+url.PathEscape(identity)+"/reset", nil, nil)
}

func (c *Client) ResetAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/reset", nil, nil)
}

func (c *Client) Remove(ctx context.Context, identity string) error {
	return c.do(ctx, http.MethodDelete, "/api/processes/"+url.PathEscape(identity), nil, nil)
}

func (c *Client) RemoveAll(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/processes", nil, nil)
}

func (c *Client) Report(ctx context.Context, period string) (*models.Report, error) {
	var out models.Report
	if err := c.do(ctx, http.MethodGet, "/api/report?period="+url.QueryEscape(period), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		msg := apiErr["error"]
		if msg == "" {
			msg = resp.Status
		}
		switch resp.StatusCode {
		case http.StatusNotFound:
			return errors.Wrap(ErrNotFound, msg)
		case http.StatusConflict:
			return errors.Wrap(ErrConflict, msg)
		}
		return fmt.Errorf("%s %s: %s", method, path, msg)
	}

	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}
