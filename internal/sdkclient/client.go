// Package sdkclient is a thin client for the remote agent-session daemon:
// create/terminate sessions, post messages, stream events over SSE, and
// reply to permission/question prompts. Grounded on
// original_source/src/helm/sdk.py, with SSE parsing in the idiom of
// _examples/vanducng-goclaw's provider clients (bufio.Scanner over
// "data: " prefixed lines).
package sdkclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/k3nnethfrancis/helm/internal/herr"
)

// APIPrefix is the daemon's versioned route prefix.
const APIPrefix = "/v1"

// Config configures the SDK daemon subprocess and HTTP client.
type Config struct {
	BinaryPath string
	Host       string
	Port       int
	TimeoutMs  int
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8765
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 30000
	}
	return c
}

// SessionConfig configures a new agent session.
type SessionConfig struct {
	Agent           string
	PermissionMode  string
	AllowedCommands []string
	Cwd             string
}

// Event is a single frame from an agent's SSE event stream.
type Event struct {
	Type string
	Data map[string]interface{}
}

// Client manages the daemon subprocess lifecycle and talks to its REST+SSE
// API.
type Client struct {
	cfg     Config
	process *exec.Cmd
	http    *http.Client
}

// New constructs a client. Start must be called before any other method.
func New(cfg Config) *Client {
	return &Client{cfg: cfg.withDefaults()}
}

func (c *Client) baseURL() string { return fmt.Sprintf("http://%s:%d", c.cfg.Host, c.cfg.Port) }
func (c *Client) apiURL() string  { return c.baseURL() + APIPrefix }

// Start spawns the daemon subprocess (inheriting the parent environment for
// credentials, as the original does) and waits for its health endpoint.
func (c *Client) Start(ctx context.Context) error {
	if c.process != nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, c.cfg.BinaryPath, "server", "--host", c.cfg.Host, "--port", fmt.Sprintf("%d", c.cfg.Port), "--no-token")
	cmd.Env = os.Environ()
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return herr.Wrap(herr.SessionDaemonUnavailable, "spawn session daemon", err)
	}
	c.process = cmd

	c.http = &http.Client{Timeout: 30 * time.Second}

	return c.waitForHealth(ctx, 30)
}

func (c *Client) waitForHealth(ctx context.Context, maxAttempts int) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL()+"/health", nil)
		if err == nil {
			resp, err := c.http.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return herr.Wrap(herr.SessionDaemonUnavailable, "health wait canceled", ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
	return herr.New(herr.SessionDaemonUnavailable, fmt.Sprintf("session daemon did not start within %.1fs", float64(maxAttempts)*0.5))
}

// CreateSession creates a new agent session.
func (c *Client) CreateSession(ctx context.Context, sessionID string, cfg SessionConfig) error {
	payload := map[string]interface{}{
		"agent":          orDefault(cfg.Agent, "claude"),
		"permissionMode": orDefault(cfg.PermissionMode, "default"),
	}
	if len(cfg.AllowedCommands) > 0 {
		payload["allowedCommands"] = cfg.AllowedCommands
	}
	if cfg.Cwd != "" {
		payload["cwd"] = cfg.Cwd
	}
	_, err := c.post(ctx, fmt.Sprintf("/sessions/%s", sessionID), payload)
	return err
}

// TerminateSession terminates a session, swallowing "already terminated"
// errors exactly as the original does.
func (c *Client) TerminateSession(ctx context.Context, sessionID string) error {
	_, _ = c.post(ctx, fmt.Sprintf("/sessions/%s/terminate", sessionID), nil)
	return nil
}

// PostMessage sends a conversational turn to a session.
func (c *Client) PostMessage(ctx context.Context, sessionID string, message string) error {
	_, err := c.post(ctx, fmt.Sprintf("/sessions/%s/messages", sessionID), map[string]interface{}{"message": message})
	return err
}

// ReplyPermission replies to a permission request: reply is one of "once",
// "always", "deny".
func (c *Client) ReplyPermission(ctx context.Context, sessionID, permissionID, reply string) error {
	_, err := c.post(ctx, fmt.Sprintf("/sessions/%s/permissions/%s/reply", sessionID, permissionID), map[string]interface{}{"reply": reply})
	return err
}

// ReplyQuestion answers a question the agent raised.
func (c *Client) ReplyQuestion(ctx context.Context, sessionID, questionID, answer string) error {
	_, err := c.post(ctx, fmt.Sprintf("/sessions/%s/questions/%s/reply", sessionID, questionID), map[string]interface{}{"answer": answer})
	return err
}

// RejectQuestion rejects a question the agent raised.
func (c *Client) RejectQuestion(ctx context.Context, sessionID, questionID string) error {
	_, err := c.post(ctx, fmt.Sprintf("/sessions/%s/questions/%s/reject", sessionID, questionID), nil)
	return err
}

// StreamEvents streams SSE frames from a session until session.ended is
// received, ctx is canceled, or the read timeout elapses (treated as a
// normal end of stream, matching the original's httpx.ReadTimeout handling
// — see SPEC_FULL.md §6 open-question decision).
func (c *Client) StreamEvents(ctx context.Context, sessionID string, readTimeout time.Duration) (<-chan Event, <-chan error) {
	events := make(chan Event)
	errs := make(chan error, 1)

	if readTimeout == 0 {
		readTimeout = 300 * time.Second
	}

	go func() {
		defer close(events)

		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		idle := time.AfterFunc(readTimeout, cancel)
		defer idle.Stop()

		url := fmt.Sprintf("%s/sessions/%s/events/sse", c.apiURL(), sessionID)
		req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
		if err != nil {
			errs <- err
			return
		}
		req.Header.Set("Accept", "text/event-stream")

		client := &http.Client{Timeout: 0}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			errs <- err
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			idle.Reset(readTimeout)
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "" {
				continue
			}

			var frame struct {
				Type string                 `json:"type"`
				Data map[string]interface{} `json:"data"`
			}
			if err := json.Unmarshal([]byte(data), &frame); err != nil {
				continue
			}
			evt := Event{Type: orDefault(frame.Type, "unknown"), Data: frame.Data}

			select {
			case events <- evt:
			case <-ctx.Done():
				return
			}

			if evt.Type == "session.ended" {
				return
			}
		}
		if err := scanner.Err(); err != nil && streamCtx.Err() == nil {
			errs <- err
		}
	}()

	return events, errs
}

// Dispose stops the daemon subprocess, waiting up to 5s before killing it.
func (c *Client) Dispose() error {
	if c.process == nil {
		return nil
	}
	proc := c.process
	c.process = nil

	if proc.Process == nil {
		return nil
	}
	_ = proc.Process.Signal(os.Interrupt)

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		return proc.Process.Kill()
	}
}

func (c *Client) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL()+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return respBody, fmt.Errorf("%s %s: status %d: %s", req.Method, path, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
