package printlog

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Sink receives ordered lines of text meant for the operator.
type Sink interface {
	Append(line string)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(line string)

func (f SinkFunc) Append(line string) {
	f(line)
}

// Console writes every line to the logrus logger at info level.
type Console struct {
	Logger *log.Logger
}

func (c Console) Append(line string) {
	if c.Logger == nil {
		log.Info(line)
		return
	}
	c.Logger.Info(line)
}

// Multi fans every line out to all of its sinks in order.
type Multi []Sink

func (m Multi) Append(line string) {
	for _, s := range m {
		if s != nil {
			s.Append(line)
		}
	}
}

// Lines keeps everything appended to it in memory.
type Lines struct {
	mu    sync.Mutex
	lines []string
}

func (l *Lines) Append(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line)
}

// All returns a copy of the lines appended so far.
func (l *Lines) All() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}
