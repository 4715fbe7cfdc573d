package boardsync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func quietLogger() *log.Logger {
	l := log.New()
	l.SetLevel(log.PanicLevel)
	return l
}

func TestDispatcherRunsJobsInOrder(t *testing.T) {
	d := newDispatcher(1, 8, 0, quietLogger())
	var mu sync.Mutex
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		if !d.submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}) {
			t.Fatalf("submit %d rejected", i)
		}
	}
	d.close()
	for i, v := range got {
		if v != i {
			t.Fatalf("jobs ran out of order: %v", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 jobs, got %d", len(got))
	}
}

func TestDispatcherDetachesWhenSaturated(t *testing.T) {
	d := newDispatcher(1, 1, 10*time.Millisecond, quietLogger())
	block := make(chan struct{})
	var ran atomic.Int32
	d.submit(func() { <-block; ran.Add(1) })
	// wait for the worker to pick up the blocking job
	time.Sleep(20 * time.Millisecond)
	d.submit(func() { ran.Add(1) })

	start := time.Now()
	d.submit(func() { ran.Add(1) })
	if time.Since(start) > time.Second {
		t.Fatal("submit blocked on a saturated queue")
	}
	close(block)
	d.close()
	if ran.Load() != 3 {
		t.Fatalf("expected 3 jobs to run, got %d", ran.Load())
	}
}

func TestDispatcherRejectsAfterClose(t *testing.T) {
	d := newDispatcher(0, 0, 0, quietLogger())
	d.close()
	d.close()
	if d.submit(func() {}) {
		t.Fatal("expected submit to fail after close")
	}
}
