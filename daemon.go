package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/leoleovich/3dprintlog/gcodefeeder"
	"github.com/leoleovich/3dprintlog/printjob"
	"github.com/leoleovich/3dprintlog/printlog"
)

// Daemon runs print jobs on one printer session and reports on them.
type Daemon struct {
	worker  *gcodefeeder.Worker
	tracker *printjob.Tracker
	hub     *Hub
	sink    printlog.Sink
	journal printlog.Recorder

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewDaemon(session *gcodefeeder.Session, journal printlog.Recorder) *Daemon {
	hub := NewHub()
	return &Daemon{
		worker:  gcodefeeder.NewWorker(session),
		tracker: printjob.NewTracker(),
		hub:     hub,
		sink:    printlog.Multi{printlog.Console{}, hub},
		journal: journal,
	}
}

// Stop waits for queued operations. The session is left open.
func (daemon *Daemon) Stop() {
	daemon.worker.Stop()
}

// trackingRecorder keeps the job progress current and passes records on to the journal.
type trackingRecorder struct {
	tracker *printjob.Tracker
	next    printlog.Recorder
}

func (r trackingRecorder) Record(rec printlog.ExchangeRecord) error {
	r.tracker.SetProgress(rec.Line, rec.Total, rec.Progress)
	if r.next == nil {
		return nil
	}
	return r.next.Record(rec)
}

// Print streams the file at path and then homes and cools the printer down,
// whatever the outcome of the stream. It blocks until both are done.
func (daemon *Daemon) Print(ctx context.Context, path string) (*gcodefeeder.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	daemon.mu.Lock()
	daemon.cancel = cancel
	daemon.mu.Unlock()

	id := daemon.tracker.Start(filepath.Base(path))
	log.Infof("Job %s: printing %s", id, path)

	var summary *gcodefeeder.Summary
	rec := trackingRecorder{
		tracker: daemon.tracker,
		next:    daemon.journal,
	}
	streamDone := daemon.worker.Submit("stream", func(s *gcodefeeder.Session) error {
		var err error
		summary, err = s.StreamFile(ctx, path, daemon.sink, rec)
		return err
	})
	cooldownDone := daemon.worker.Submit("cooldown", func(s *gcodefeeder.Session) error {
		daemon.tracker.SetStatus(printjob.StatusCoolingDown)
		return s.HomeAndCooldown()
	})

	streamErr := <-streamDone
	if summary == nil {
		summary = &gcodefeeder.Summary{}
	}
	if cooldownErr := <-cooldownDone; cooldownErr != nil {
		daemon.sink.Append(fmt.Sprintf("Cooldown failed: %v", cooldownErr))
	}

	switch {
	case streamErr == nil:
		daemon.tracker.SetStatus(printjob.StatusFinished)
	case errors.Is(streamErr, context.Canceled):
		daemon.tracker.SetStatus(printjob.StatusCancelled)
	default:
		daemon.tracker.Fail(streamErr)
	}
	log.Infof("Job %s: %s", id, daemon.tracker.Job().Status)
	return summary, streamErr
}

// Cancel stops the running job after the command in flight. It returns false
// when nothing is printing, including while the printer cools down.
func (daemon *Daemon) Cancel() bool {
	daemon.mu.Lock()
	defer daemon.mu.Unlock()
	status := daemon.tracker.Job().Status
	if daemon.cancel == nil || status.Done() || status == printjob.StatusCoolingDown {
		return false
	}
	daemon.cancel()
	return true
}

// InfoHandler responds with json describing the current job
func (daemon *Daemon) InfoHandler(w http.ResponseWriter, r *http.Request) {
	// Add headers to allow AJAX
	printjob.SetHeaders(w)

	b, err := json.Marshal(daemon.tracker.Job())
	if err != nil {
		log.Errorf("Failed to respond on /info request: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(b)
}

// CancelHandler cancels job execution
func (daemon *Daemon) CancelHandler(w http.ResponseWriter, r *http.Request) {
	// Add headers to allow AJAX
	printjob.SetHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !daemon.Cancel() {
		errS := fmt.Sprintf("Ignore cancel in '%v' status", daemon.tracker.Job().Status)
		log.Info(errS)
		http.Error(w, errS, http.StatusBadRequest)
		return
	}
	log.Info("Cancelling the job")
}

func (daemon *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", daemon.InfoHandler)
	mux.HandleFunc("/cancel", daemon.CancelHandler)
	mux.HandleFunc("/ws", daemon.hub.ServeWS)
	return mux
}

// Serve runs the status server on addr until ctx is done.
func (daemon *Daemon) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: daemon.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Infof("Status server listening on %s", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
