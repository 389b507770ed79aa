package event

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mikrodb/mikrodb/internal/mlog"
)

func TestEmitDispatchesToLocalListeners(t *testing.T) {
	h := New(mlog.Default(), nil)

	var mu sync.Mutex
	var got []Event
	h.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	h.Emit(Event{Operation: ItemWritten, Table: "users", Key: "alice"})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Key != "alice" {
		t.Fatalf("Emit: got %v, want one item.written event for alice", got)
	}
}

func TestEmitRecoversFromListenerPanic(t *testing.T) {
	h := New(mlog.Default(), nil)

	var called bool
	h.Subscribe(func(e Event) { panic("boom") })
	h.Subscribe(func(e Event) { called = true })

	h.Emit(Event{Operation: ItemDeleted, Table: "t", Key: "k"})

	if !called {
		t.Fatal("Emit: a panicking listener should not prevent subsequent listeners from running")
	}
}

func TestEmitPostsToHTTPTargets(t *testing.T) {
	received := make(chan map[string]interface{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		received <- nil
	}))
	defer srv.Close()

	h := New(mlog.Default(), []string{srv.URL})
	h.Emit(Event{Operation: ItemWritten, Table: "t", Key: "k"})

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not POSTed to the HTTP target within the timeout")
	}
}

func TestEmitSurvivesUnreachableHTTPTarget(t *testing.T) {
	h := New(mlog.Default(), []string{"http://127.0.0.1:0/unreachable"})
	// Emit must not block or panic even though the target cannot be reached.
	h.Emit(Event{Operation: ItemWritten, Table: "t", Key: "k"})
}
