package backends

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/matterclaw/matterclaw/pkg/config"
	"github.com/matterclaw/matterclaw/pkg/state"
)

type talkServer struct {
	mu       sync.Mutex
	requests []string // paths in arrival order
	lastBody talkRequest
}

func newTalkServer(t *testing.T) (*talkServer, *httptest.Server) {
	t.Helper()
	ts := &talkServer{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.requests = append(ts.requests, r.URL.Path)
		var body talkRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if r.URL.Path != "/api/conversation/gen_title/conv-1" {
			ts.lastBody = body
		}
		ts.mu.Unlock()

		resp := map[string]interface{}{
			"conversation_id": "conv-1",
			"message": map[string]interface{}{
				"id": "msg-2",
				"content": map[string]interface{}{
					"parts": []string{"hello back"},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return ts, srv
}

func TestTalkTurn_FirstTurnGeneratesTitle(t *testing.T) {
	ts, srv := newTalkServer(t)
	b := NewTalkBackend(config.TalkConfig{Endpoint: srv.URL, Model: "m1"}, srv.Client())

	st := state.ConversationState{LastTurnToken: "parent-0", FirstTurn: true}
	reply, newState, err := b.Turn(context.Background(), "hi", st)
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if reply != "hello back" {
		t.Errorf("reply = %q", reply)
	}
	if newState.ConversationID != "conv-1" || newState.LastTurnToken != "msg-2" {
		t.Errorf("state = %+v", newState)
	}
	if newState.FirstTurn {
		t.Error("FirstTurn should drop after a successful turn")
	}

	wantPaths := []string{"/api/conversation/talk", "/api/conversation/gen_title/conv-1"}
	if len(ts.requests) != 2 || ts.requests[0] != wantPaths[0] || ts.requests[1] != wantPaths[1] {
		t.Errorf("requests = %v, want %v", ts.requests, wantPaths)
	}
	// A first turn must not claim an existing conversation.
	if ts.lastBody.ConversationID != "" {
		t.Errorf("first turn sent conversation_id %q", ts.lastBody.ConversationID)
	}
}

func TestTalkTurn_LaterTurnsSkipTitleAndCarryConversation(t *testing.T) {
	ts, srv := newTalkServer(t)
	b := NewTalkBackend(config.TalkConfig{Endpoint: srv.URL, Model: "m1"}, srv.Client())

	st := state.ConversationState{ConversationID: "conv-1", LastTurnToken: "msg-2", FirstTurn: false}
	if _, _, err := b.Turn(context.Background(), "more", st); err != nil {
		t.Fatalf("turn: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("requests = %v, want exactly one talk call", ts.requests)
	}
	if ts.lastBody.ConversationID != "conv-1" || ts.lastBody.ParentMessageID != "msg-2" {
		t.Errorf("body = %+v", ts.lastBody)
	}
}

func TestTalkContinue(t *testing.T) {
	ts, srv := newTalkServer(t)
	b := NewTalkBackend(config.TalkConfig{Endpoint: srv.URL, Model: "m1"}, srv.Client())

	st := state.ConversationState{ConversationID: "conv-1", LastTurnToken: "msg-1", FirstTurn: false}
	reply, newState, err := b.Continue(context.Background(), st)
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if reply != "hello back" {
		t.Errorf("reply = %q", reply)
	}
	if newState.LastTurnToken != "msg-2" {
		t.Errorf("token = %q, want msg-2", newState.LastTurnToken)
	}
	if ts.requests[0] != "/api/conversation/goon" {
		t.Errorf("path = %q", ts.requests[0])
	}
	if ts.lastBody.Prompt != "" {
		t.Errorf("continue should not carry a prompt, got %q", ts.lastBody.Prompt)
	}
}

func TestTalkTurn_ServerErrorKeepsState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	b := NewTalkBackend(config.TalkConfig{Endpoint: srv.URL, Model: "m1"}, srv.Client())
	st := state.ConversationState{ConversationID: "conv-1", LastTurnToken: "msg-1"}

	_, gotState, err := b.Turn(context.Background(), "hi", st)
	if err == nil {
		t.Fatal("expected error on 502")
	}
	if gotState != st {
		t.Errorf("state changed on failure: %+v", gotState)
	}
}
