package gcodefeeder

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ErrWorkerStopped is returned for operations submitted after Stop.
var ErrWorkerStopped = errors.New("worker is stopped")

// Operation is a unit of work run against the session owned by a Worker.
type Operation func(s *Session) error

type task struct {
	name   string
	op     Operation
	result chan error
}

// Worker owns a session and runs operations on it one at a time in the order
// they were submitted, so two operations never share the port.
type Worker struct {
	session *Session
	tasks   chan task
	done    chan struct{}

	mu      sync.Mutex
	stopped bool
}

func NewWorker(s *Session) *Worker {
	w := &Worker{
		session: s,
		tasks:   make(chan task, 16),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	defer close(w.done)
	for t := range w.tasks {
		log.Debugf("Feeder: worker starting %s", t.name)
		err := t.op(w.session)
		if err != nil {
			log.Debugf("Feeder: worker finished %s: %v", t.name, err)
		}
		t.result <- err
		close(t.result)
	}
}

// Submit queues op and returns a channel which receives its result once it ran.
func (w *Worker) Submit(name string, op Operation) <-chan error {
	result := make(chan error, 1)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		result <- ErrWorkerStopped
		close(result)
		return result
	}
	w.tasks <- task{name: name, op: op, result: result}
	return result
}

// Stop waits for every queued operation to finish. The session stays open.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.tasks)
	}
	w.mu.Unlock()
	<-w.done
}
