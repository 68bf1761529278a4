package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/matterclaw/matterclaw/pkg/config"
)

// newFakeEventStream runs a websocket endpoint that checks the bearer
// header and the authentication challenge, replays frames, then holds the
// connection open until the test ends.
func newFakeEventStream(t *testing.T, frames [][]byte) *Client {
	t.Helper()

	upgrader := websocket.Upgrader{}
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/websocket", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer session-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var challenge authChallenge
		if err := conn.ReadJSON(&challenge); err != nil {
			t.Errorf("read challenge: %v", err)
			return
		}
		if challenge.Action != "authentication_challenge" || challenge.Data["token"] != "session-token" {
			t.Errorf("challenge = %+v", challenge)
			return
		}

		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
		<-hold
	})
	mux.HandleFunc("/api/v4/users/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Token", "session-token")
		w.Write([]byte("{}"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())

	client := NewClient(config.MattermostConfig{
		ServerURL: u.Hostname(),
		Scheme:    "http",
		Port:      port,
		Username:  "chatgpt",
		LoginID:   "bot@example.com",
		Password:  "secret",
	}, srv.Client())

	if err := client.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	return client
}

func TestListen_DeliversPostedEvents(t *testing.T) {
	garbage, _ := json.Marshal(map[string]string{"event": "hello"})
	frames := [][]byte{
		garbage,
		marshalEvent(t, "typing", innerPost{ID: "p0"}, "alice"),
		marshalEvent(t, "posted", innerPost{
			ID:        "post-1",
			UserID:    "user-1",
			ChannelID: "chan-1",
			Message:   "!gpt hello",
		}, "alice"),
	}
	client := newFakeEventStream(t, frames)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan PostEvent, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Listen(ctx, func(ev PostEvent) {
			events <- ev
		})
	}()

	select {
	case ev := <-events:
		if ev.Message != "!gpt hello" || ev.UserID != "user-1" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no posted event delivered")
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Listen returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Listen did not return after cancellation")
	}
}

func TestListen_RequiresAuthentication(t *testing.T) {
	client := NewClient(config.MattermostConfig{
		ServerURL: "chat.example.com",
		Scheme:    "https",
		Port:      443,
		Username:  "chatgpt",
	}, &http.Client{})

	err := client.Listen(context.Background(), func(PostEvent) {})
	if err == nil {
		t.Fatal("Listen without a session should fail")
	}
}
