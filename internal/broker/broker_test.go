package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gale-rmm/reaper/internal/session"
)

func TestFetchDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/brokers/ddc-01/sessions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("state"); got != "disconnected" {
			t.Errorf("state = %q, want disconnected", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"sessions": []session.Disconnected{
				{ID: "s1", UserName: "Alice", AppPaths: []string{`\Apps\Notepad.exe`}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", 5*time.Second)
	sessions, err := c.FetchDisconnected(context.Background(), "ddc-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].UserName != "Alice" {
		t.Fatalf("sessions = %v", sessions)
	}
}

func TestFetchDisconnectedEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"sessions": []session.Disconnected{}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	sessions, err := c.FetchDisconnected(context.Background(), "quiet-broker")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 0 {
		t.Fatalf("sessions = %v, want none", sessions)
	}
}

func TestFetchDisconnectedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	_, err := c.FetchDisconnected(context.Background(), "ddc-01")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestLogoff(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	err := c.Logoff(context.Background(), "ddc-01", session.Disconnected{ID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/api/v1/brokers/ddc-01/sessions/s1/logoff" {
		t.Fatalf("path = %s", gotPath)
	}
}

func TestLogoffFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	err := c.Logoff(context.Background(), "ddc-01", session.Disconnected{ID: "s1"})
	if !errors.Is(err, ErrLogoffFailed) {
		t.Fatalf("err = %v, want ErrLogoffFailed", err)
	}
}
