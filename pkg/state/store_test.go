package state

import (
	"fmt"
	"sync"
	"testing"
)

func TestGet_CreatesFreshStateOnMiss(t *testing.T) {
	s := NewStore()

	st := s.Get("user1", "talk")
	if !st.FirstTurn {
		t.Error("fresh state should have FirstTurn = true")
	}
	if st.ConversationID != "" {
		t.Errorf("fresh state conversation id = %q, want empty", st.ConversationID)
	}
	if st.LastTurnToken == "" {
		t.Error("fresh state should carry a generated token")
	}
}

func TestGet_ReturnsSameEntry(t *testing.T) {
	s := NewStore()

	first := s.Get("user1", "talk")
	second := s.Get("user1", "talk")
	if first.LastTurnToken != second.LastTurnToken {
		t.Error("repeated Get on the same key should not recreate the entry")
	}
}

func TestGet_KeysAreIndependent(t *testing.T) {
	s := NewStore()

	a := s.Get("user1", "talk")
	b := s.Get("user2", "talk")
	c := s.Get("user1", "chat")

	if a.LastTurnToken == b.LastTurnToken || a.LastTurnToken == c.LastTurnToken {
		t.Error("distinct keys should have distinct fresh tokens")
	}
}

func TestUpdateAndReset(t *testing.T) {
	s := NewStore()

	st := s.Get("user1", "talk")
	st.ConversationID = "conv-1"
	st.LastTurnToken = "msg-9"
	st.FirstTurn = false
	s.Update("user1", "talk", st)

	got := s.Get("user1", "talk")
	if got.ConversationID != "conv-1" || got.LastTurnToken != "msg-9" || got.FirstTurn {
		t.Fatalf("after update: %+v", got)
	}

	s.Reset("user1", "talk")
	got = s.Get("user1", "talk")
	if got.ConversationID != "" || !got.FirstTurn {
		t.Fatalf("after reset: %+v", got)
	}
	if got.LastTurnToken == "msg-9" {
		t.Error("reset should generate a new token")
	}
}

// Serialized read-modify-write on one key: each goroutine must observe the
// previous goroutine's update, so lost updates cannot occur.
func TestLock_SerializesSameKey(t *testing.T) {
	s := NewStore()
	const workers = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock("user1", "talk")
			defer unlock()

			st := s.Get("user1", "talk")
			st.ConversationID = fmt.Sprintf("turn-%s", st.LastTurnToken)
			st.LastTurnToken = st.LastTurnToken + "x"
			st.FirstTurn = false
			s.Update("user1", "talk", st)
		}()
	}
	wg.Wait()

	base := len(s.Get("user2", "talk").LastTurnToken) // length of a fresh uuid token
	got := s.Get("user1", "talk")
	if len(got.LastTurnToken) != base+workers {
		t.Fatalf("token grew by %d, want %d: lost updates", len(got.LastTurnToken)-base, workers)
	}
}

func TestLock_DifferentKeysDoNotBlock(t *testing.T) {
	s := NewStore()

	unlock1 := s.Lock("user1", "talk")
	defer unlock1()

	done := make(chan struct{})
	go func() {
		unlock2 := s.Lock("user2", "talk")
		unlock2()
		close(done)
	}()

	<-done // hangs (and the test times out) if keys contend
}
