package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int
	err   error
	feeds map[string]chan []byte
	ctxs  map[string]context.Context
}

func newFakeSource() *fakeSource {
	return &fakeSource{feeds: map[string]chan []byte{}, ctxs: map[string]context.Context{}}
}

func (s *fakeSource) Subscribe(ctx context.Context, boardID string) (<-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan []byte, 4)
	s.feeds[boardID] = ch
	s.ctxs[boardID] = ctx
	return ch, nil
}

func (s *fakeSource) send(boardID, payload string) {
	s.mu.Lock()
	ch := s.feeds[boardID]
	s.mu.Unlock()
	ch <- []byte(payload)
}

func (s *fakeSource) ctx(boardID string) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctxs[boardID]
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetLevel(log.PanicLevel)
	return l
}

func recv(t *testing.T, ch <-chan []byte) string {
	t.Helper()
	select {
	case b := <-ch:
		return string(b)
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
		return ""
	}
}

func TestHubSharesOneSubscriptionPerBoard(t *testing.T) {
	src := newFakeSource()
	hub := NewHub(context.Background(), src, quietLogger())

	a, leaveA, err := hub.Join("B1")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	b, leaveB, err := hub.Join("B1")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("expected one upstream subscription, got %d", src.calls)
	}

	src.send("B1", `{"type":"column-moved"}`)
	if got := recv(t, a); got != `{"type":"column-moved"}` {
		t.Fatalf("client a got %q", got)
	}
	if got := recv(t, b); got != `{"type":"column-moved"}` {
		t.Fatalf("client b got %q", got)
	}

	leaveA()
	leaveA()
	if hub.Watching() != 1 {
		t.Fatalf("feed must stay open while a client remains")
	}
	leaveB()
	if hub.Watching() != 0 {
		t.Fatalf("expected feed to close")
	}
	select {
	case <-src.ctx("B1").Done():
	case <-time.After(time.Second):
		t.Fatalf("upstream subscription was not cancelled")
	}

	if _, leave, err := hub.Join("B1"); err != nil {
		t.Fatalf("rejoin: %v", err)
	} else {
		defer leave()
	}
	if src.calls != 2 {
		t.Fatalf("expected a fresh subscription, got %d calls", src.calls)
	}
}

func TestHubKeepsBoardsApart(t *testing.T) {
	src := newFakeSource()
	hub := NewHub(context.Background(), src, quietLogger())
	one, leave1, _ := hub.Join("B1")
	defer leave1()
	two, leave2, _ := hub.Join("B2")
	defer leave2()

	src.send("B2", "for-b2")
	if got := recv(t, two); got != "for-b2" {
		t.Fatalf("unexpected payload %q", got)
	}
	select {
	case b := <-one:
		t.Fatalf("B1 client received %q", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubJoinFails(t *testing.T) {
	src := newFakeSource()
	src.err = errors.New("redis down")
	hub := NewHub(context.Background(), src, quietLogger())
	if _, _, err := hub.Join("B1"); err == nil {
		t.Fatalf("expected error")
	}
	if hub.Watching() != 0 {
		t.Fatalf("failed feed must not linger")
	}
	src.err = nil
	if _, leave, err := hub.Join("B1"); err != nil {
		t.Fatalf("retry join: %v", err)
	} else {
		leave()
	}
}
