package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	mw "github.com/kiranshivaraju/ocrflow/internal/api/middleware"
	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

type client struct {
	base     string
	clientID string
	http     *http.Client
}

func newClient(base, clientID string) *client {
	return &client{
		base:     strings.TrimRight(base, "/"),
		clientID: clientID,
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

// apiError is the server's error envelope.
type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// do sends a request and decodes the envelope's data into out. The raw data
// is returned for -json output.
func (c *client) do(ctx context.Context, method, path string, out any) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	if c.clientID != "" {
		req.Header.Set(mw.ClientIDHeader, c.clientID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var env struct {
			Error apiError `json:"error"`
		}
		if err := json.Unmarshal(body, &env); err != nil || env.Error.Code == "" {
			return nil, &apiError{Status: resp.StatusCode, Code: "HTTP_ERROR", Message: strings.TrimSpace(string(body))}
		}
		env.Error.Status = resp.StatusCode
		return nil, &env.Error
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return nil, nil
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return nil, fmt.Errorf("decode response data: %w", err)
	}
	return env.Data, nil
}

// watch follows the task's progress stream until the server closes it.
func (c *client) watch(ctx context.Context, id string, fn func(raw []byte, s models.TaskSnapshot) error) error {
	u, err := url.Parse(c.base + "/api/v1/tasks/" + url.PathEscape(id) + "/stream")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	if c.clientID != "" {
		header.Set(mw.ClientIDHeader, c.clientID)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return &apiError{Status: resp.StatusCode, Code: "STREAM_REJECTED", Message: resp.Status}
		}
		return fmt.Errorf("open stream: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read stream: %w", err)
		}
		var s models.TaskSnapshot
		if err := json.Unmarshal(msg.Data, &s); err != nil {
			return fmt.Errorf("decode progress: %w", err)
		}
		if err := fn(msg.Data, s); err != nil {
			return err
		}
	}
}
