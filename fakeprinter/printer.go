// Package fakeprinter simulates a Marlin-like printer on the other end of a
// serial port. It answers every command synchronously, so a read that follows
// a write always sees the reply without waiting.
package fakeprinter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var ErrClosed = errors.New("fakeprinter: port closed")

// Printer is an in-memory serial port with a printer behind it.
type Printer struct {
	mu sync.Mutex

	extruder, extruderTarget float64
	bed, bedTarget           float64

	// RejectExtruderTargets is how many M109 commands are answered with a zero target
	RejectExtruderTargets int
	// FailAfter makes every write after that many commands fail, 0 disables it
	FailAfter int
	// Silent lists commands which get no reply at all
	Silent map[string]bool

	written  []string
	partial  []byte
	output   []byte
	closed   bool
	timeout  time.Duration
	override map[string]string
}

// New returns a printer at room temperature.
func New() *Printer {
	return &Printer{
		extruder: 25,
		bed:      25,
		Silent: map[string]bool{
			"M104": true,
			"M140": true,
		},
		override: map[string]string{},
	}
}

// Respond makes the printer answer commands starting with code with reply
// instead of its usual answer.
func (p *Printer) Respond(code, reply string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.override[code] = reply
}

func (p *Printer) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	if p.FailAfter > 0 && len(p.written) >= p.FailAfter {
		return 0, errors.New("fakeprinter: write failed")
	}
	p.partial = append(p.partial, b...)
	for {
		i := strings.IndexByte(string(p.partial), '\n')
		if i < 0 {
			break
		}
		command := strings.TrimSpace(string(p.partial[:i]))
		p.partial = p.partial[i+1:]
		if command == "" {
			continue
		}
		p.written = append(p.written, command)
		if reply, ok := p.handle(command); ok {
			p.output = append(p.output, reply+"\n"...)
		}
	}
	return len(b), nil
}

// Read returns pending replies. With nothing pending it returns no data and no
// error, which is how a serial port reports an expired read timeout.
func (p *Printer) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	n := copy(b, p.output)
	p.output = p.output[n:]
	return n, nil
}

func (p *Printer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.closed = true
	return nil
}

func (p *Printer) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = t
	return nil
}

// ReadTimeout returns the timeout last set on the port.
func (p *Printer) ReadTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeout
}

// Written returns every command received so far, in order.
func (p *Printer) Written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.written))
	copy(out, p.written)
	return out
}

func (p *Printer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Targets returns the current extruder and bed targets.
func (p *Printer) Targets() (extruder, bed float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.extruderTarget, p.bedTarget
}

func (p *Printer) handle(command string) (string, bool) {
	fields := strings.Fields(command)
	code := strings.ToUpper(fields[0])
	target, hasTarget := sParam(fields[1:])

	if reply, ok := p.overrideFor(command); ok {
		return reply, true
	}

	switch code {
	case "M104", "M109":
		if hasTarget {
			p.extruderTarget = target
		}
	case "M140", "M190":
		if hasTarget {
			p.bedTarget = target
		}
	}

	var reply string
	switch code {
	case "M109":
		if p.RejectExtruderTargets > 0 {
			p.RejectExtruderTargets--
			log.Debug("fakeprinter: rejecting extruder target")
			return fmt.Sprintf("T:%.2f /0.00 B:%.2f /%.2f", p.extruder, p.bed, p.bedTarget), true
		}
		p.extruder = p.extruderTarget
		reply = "ok " + p.report()
	case "M190":
		p.bed = p.bedTarget
		reply = "ok " + p.report()
	case "M105":
		reply = "ok " + p.report()
	case "G28":
		reply = "ok X:0.00 Y:0.00 Z:0.00 E:0.00"
	default:
		reply = "ok"
	}
	if p.Silent[code] {
		return "", false
	}
	return reply, true
}

// overrideFor returns the reply of the longest Respond prefix matching command.
func (p *Printer) overrideFor(command string) (string, bool) {
	best, found := "", false
	for prefix := range p.override {
		if strings.HasPrefix(command, prefix) && (!found || len(prefix) > len(best)) {
			best, found = prefix, true
		}
	}
	if !found {
		return "", false
	}
	return p.override[best], true
}

func (p *Printer) report() string {
	return fmt.Sprintf("T:%.2f /%.2f B:%.2f /%.2f", p.extruder, p.extruderTarget, p.bed, p.bedTarget)
}

func sParam(args []string) (float64, bool) {
	for _, a := range args {
		if len(a) > 1 && (a[0] == 'S' || a[0] == 's') {
			v, err := strconv.ParseFloat(a[1:], 64)
			if err == nil {
				return v, true
			}
		}
	}
	return 0, false
}
