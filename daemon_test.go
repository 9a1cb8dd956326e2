package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"

	"github.com/leoleovich/3dprintlog/fakeprinter"
	"github.com/leoleovich/3dprintlog/gcodefeeder"
	"github.com/leoleovich/3dprintlog/printjob"
	"github.com/leoleovich/3dprintlog/printlog"
)

func newTestDaemon(t *testing.T, p *fakeprinter.Printer) (*Daemon, string) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Timing = TimingConfig{}
	session, err := gcodefeeder.Connect(cfg.SessionConfig(func(string, *serial.Mode) (gcodefeeder.Port, error) {
		return p, nil
	}))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	journalPath := filepath.Join(t.TempDir(), "print_log.csv")
	journal, err := printlog.OpenJournal(journalPath)
	if err != nil {
		t.Fatal(err)
	}
	daemon := NewDaemon(session, journal)
	t.Cleanup(func() {
		daemon.Stop()
		journal.Close()
		session.Close()
	})
	return daemon, journalPath
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "part.gcode")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDaemonPrint(t *testing.T) {
	p := fakeprinter.New()
	daemon, journalPath := newTestDaemon(t, p)
	path := writeFile(t, "G28\n\nM104 S200\nG1 X10\n")

	summary, err := daemon.Print(context.Background(), path)
	if err != nil {
		t.Fatalf("Print failed: %v", err)
	}
	if !summary.Completed || summary.Sent != 3 {
		t.Errorf("summary = %+v", summary)
	}

	job := daemon.tracker.Job()
	if job.Status != printjob.StatusFinished || job.Filename != "part.gcode" || job.Progress != 100 || job.Line != 4 || job.Total != 4 {
		t.Errorf("job = %+v", job)
	}

	records, err := printlog.ReadJournal(journalPath)
	if err != nil {
		t.Fatalf("ReadJournal failed: %v", err)
	}
	if len(records) != 3 || records[0].Line != 1 || records[1].Line != 3 || records[2].Line != 4 {
		t.Errorf("records = %+v", records)
	}

	written := p.Written()
	tail := strings.Join(written[len(written)-3:], ",")
	if tail != "G28,M104 S0,M140 S0" {
		t.Errorf("print did not end with home and cooldown: %q", written)
	}
}

func TestDaemonPrintCancelledStillCoolsDown(t *testing.T) {
	p := fakeprinter.New()
	daemon, _ := newTestDaemon(t, p)
	path := writeFile(t, "G1 X1\nG1 X2\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := daemon.Print(ctx, path)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := daemon.tracker.Job().Status; got != printjob.StatusCancelled {
		t.Errorf("status = %q, want %q", got, printjob.StatusCancelled)
	}
	written := strings.Join(p.Written(), ",")
	if strings.Contains(written, "G1 X1") {
		t.Errorf("commands sent after cancel: %s", written)
	}
	if !strings.HasSuffix(written, "G28,M104 S0,M140 S0") {
		t.Errorf("no cooldown after cancel: %s", written)
	}
}

func TestDaemonPrintMissingFile(t *testing.T) {
	daemon, _ := newTestDaemon(t, fakeprinter.New())

	_, err := daemon.Print(context.Background(), filepath.Join(t.TempDir(), "missing.gcode"))
	if gcodefeeder.KindOf(err) != gcodefeeder.FileError {
		t.Fatalf("err = %v, want a FileError", err)
	}
	job := daemon.tracker.Job()
	if job.Status != printjob.StatusFailed || job.Error == "" {
		t.Errorf("job = %+v", job)
	}
}

func TestInfoHandler(t *testing.T) {
	daemon, _ := newTestDaemon(t, fakeprinter.New())
	if _, err := daemon.Print(context.Background(), writeFile(t, "G28\n")); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	daemon.InfoHandler(w, httptest.NewRequest(http.MethodGet, "/info", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d", w.Code)
	}
	var job printjob.Job
	if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
		t.Fatalf("bad json %q: %v", w.Body.String(), err)
	}
	if job.Status != printjob.StatusFinished || job.ID == "" {
		t.Errorf("job = %+v", job)
	}
}

func TestCancelHandler(t *testing.T) {
	daemon, _ := newTestDaemon(t, fakeprinter.New())

	w := httptest.NewRecorder()
	daemon.CancelHandler(w, httptest.NewRequest(http.MethodGet, "/cancel", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /cancel = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}

	w = httptest.NewRecorder()
	daemon.CancelHandler(w, httptest.NewRequest(http.MethodPost, "/cancel", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("POST /cancel while idle = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestCancelWhileCoolingDown(t *testing.T) {
	daemon, _ := newTestDaemon(t, fakeprinter.New())
	cancelled := false
	daemon.cancel = func() { cancelled = true }
	daemon.tracker.Start("part.gcode")

	daemon.tracker.SetStatus(printjob.StatusCoolingDown)
	if daemon.Cancel() {
		t.Error("Cancel returned true while cooling down")
	}
	if cancelled {
		t.Error("context cancelled while cooling down")
	}

	daemon.tracker.SetStatus(printjob.StatusPrinting)
	if !daemon.Cancel() || !cancelled {
		t.Error("Cancel did not stop a printing job")
	}
}

func TestHubSendsBacklogToNewClients(t *testing.T) {
	hub := NewHub()
	hub.Append("Total lines in G-code file: 4")
	hub.Append("Progress: 25.00% complete")

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	for _, want := range []string{"Total lines in G-code file: 4", "Progress: 25.00% complete"} {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage failed: %v", err)
		}
		if string(msg) != want {
			t.Errorf("message = %q, want %q", msg, want)
		}
	}
}

func TestHubBacklogIsBounded(t *testing.T) {
	hub := NewHub()
	for i := 0; i < hubBacklog+10; i++ {
		hub.Append("line")
	}
	if len(hub.backlog) != hubBacklog {
		t.Errorf("backlog = %d lines, want %d", len(hub.backlog), hubBacklog)
	}
}
