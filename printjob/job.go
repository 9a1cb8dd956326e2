package printjob

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusIdle        = JobStatus("Idle")
	StatusHeating     = JobStatus("Heating")
	StatusPrinting    = JobStatus("Printing")
	StatusCoolingDown = JobStatus("Cooling down")
	StatusFinished    = JobStatus("Finished")
	StatusCancelled   = JobStatus("Cancelled")
	StatusFailed      = JobStatus("Failed")
)

// Done reports whether a job in this status will not change any more.
func (s JobStatus) Done() bool {
	switch s {
	case StatusFinished, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

type Job struct {
	ID       string    `json:"id"`
	Filename string    `json:"file_name"`
	Status   JobStatus `json:"status"`
	Progress float64   `json:"progress"`
	Line     int       `json:"line"`
	Total    int       `json:"total_lines"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Tracker holds the state of the current job and is safe for concurrent use.
type Tracker struct {
	mu  sync.RWMutex
	job Job
}

func NewTracker() *Tracker {
	return &Tracker{job: Job{Status: StatusIdle}}
}

// Start begins a new job for filename and returns its id.
func (t *Tracker) Start(filename string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.job = Job{
		ID:       uuid.New().String(),
		Filename: filename,
		Status:   StatusHeating,
		Started:  time.Now(),
	}
	return t.job.ID
}

func (t *Tracker) SetStatus(status JobStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.job.Status = status
	if status.Done() {
		t.job.Finished = time.Now()
	}
}

func (t *Tracker) SetProgress(line, total int, progress float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job.Status == StatusHeating {
		t.job.Status = StatusPrinting
	}
	t.job.Line = line
	t.job.Total = total
	t.job.Progress = progress
}

// Fail marks the job failed with err unless it already finished.
func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job.Status.Done() {
		return
	}
	t.job.Status = StatusFailed
	t.job.Finished = time.Now()
	if err != nil {
		t.job.Error = err.Error()
	}
}

// Job returns a copy of the current job.
func (t *Tracker) Job() Job {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.job
}
