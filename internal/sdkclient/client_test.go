package sdkclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	c := New(Config{Host: host, Port: port})
	c.http = server.Client()
	return c
}

func TestClient_CreateSessionAndPostMessage(t *testing.T) {
	var gotCreate, gotMessage map[string]interface{}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sessions/exp-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotCreate)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/sessions/exp-1/messages", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotMessage)
		w.WriteHeader(http.StatusOK)
	})

	c := newTestClient(t, mux)
	ctx := context.Background()

	if err := c.CreateSession(ctx, "exp-1", SessionConfig{Agent: "claude", PermissionMode: "bypass", Cwd: "/work"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if gotCreate["agent"] != "claude" || gotCreate["permissionMode"] != "bypass" || gotCreate["cwd"] != "/work" {
		t.Fatalf("unexpected create payload: %+v", gotCreate)
	}

	if err := c.PostMessage(ctx, "exp-1", "hello"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if gotMessage["message"] != "hello" {
		t.Fatalf("unexpected message payload: %+v", gotMessage)
	}
}

func TestClient_ReplyPermission(t *testing.T) {
	var got map[string]interface{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sessions/exp-1/permissions/perm-1/reply", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	})
	c := newTestClient(t, mux)

	if err := c.ReplyPermission(context.Background(), "exp-1", "perm-1", "once"); err != nil {
		t.Fatalf("ReplyPermission: %v", err)
	}
	if got["reply"] != "once" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestClient_TerminateSession_SwallowsErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sessions/exp-1/terminate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	c := newTestClient(t, mux)

	if err := c.TerminateSession(context.Background(), "exp-1"); err != nil {
		t.Fatalf("TerminateSession should swallow errors, got %v", err)
	}
}

func TestClient_StreamEvents_ParsesSSEUntilSessionEnded(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sessions/exp-1/events/sse", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("expected flusher")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`data: {"type":"session.started","data":{}}` + "\n\n",
			`data: {"type":"item.completed","data":{"item":{"role":"assistant"}}}` + "\n\n",
			`data: {"type":"session.ended","data":{}}` + "\n\n",
		}
		for _, f := range frames {
			fmt.Fprint(w, f)
			flusher.Flush()
		}
	})
	c := newTestClient(t, mux)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, errs := c.StreamEvents(ctx, "exp-1", 2*time.Second)
	var got []Event
	for {
		select {
		case e, ok := <-events:
			if !ok {
				goto done
			}
			got = append(got, e)
		case err := <-errs:
			t.Fatalf("stream error: %v", err)
		case <-ctx.Done():
			t.Fatal("timed out waiting for stream")
		}
	}
done:
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(got), got)
	}
	if got[len(got)-1].Type != "session.ended" {
		t.Fatalf("expected stream to end on session.ended, last event was %q", got[len(got)-1].Type)
	}
}
