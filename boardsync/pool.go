package boardsync

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// dispatcher runs persistence jobs off the caller's goroutine. With a single
// worker jobs run in submission order.
type dispatcher struct {
	jobs    chan func()
	handoff time.Duration
	log     *log.Logger

	mu       sync.RWMutex
	closed   bool
	workerWG sync.WaitGroup
	detached sync.WaitGroup
}

func newDispatcher(workers, buffer int, handoff time.Duration, logger *log.Logger) *dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 64
	}
	d := &dispatcher{
		jobs:    make(chan func(), buffer),
		handoff: handoff,
		log:     logger,
	}
	for i := 0; i < workers; i++ {
		d.workerWG.Add(1)
		go d.worker()
	}
	logger.Debugf("persist dispatcher started, workers: %d, buffer: %d, handoff: %v", workers, buffer, handoff)
	return d
}

func (d *dispatcher) worker() {
	defer d.workerWG.Done()
	for job := range d.jobs {
		job()
	}
}

// submit queues job without blocking the caller for longer than the handoff
// timeout. A saturated queue runs the job on its own goroutine.
func (d *dispatcher) submit(job func()) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.jobs <- job:
		return true
	default:
	}

	if d.handoff > 0 {
		timer := time.NewTimer(d.handoff)
		defer timer.Stop()
		select {
		case d.jobs <- job:
			return true
		case <-timer.C:
		}
	}

	d.log.Warn("persist queue saturated; dispatching detached")
	d.detached.Add(1)
	go func() {
		defer d.detached.Done()
		job()
	}()
	return true
}

// close stops accepting jobs and waits for queued and detached ones.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.workerWG.Wait()
	d.detached.Wait()
}
