package gcodefeeder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 5 * time.Second
)

type State int

const (
	Disconnected State = iota
	Connected
)

var strState = []string{
	"Disconnected",
	"Connected",
}

func (s State) String() string {
	if int(s) >= len(strState) {
		return strconv.Itoa(int(s))
	}
	return strState[s]
}

// Port is the part of serial.Port a session needs.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// OpenFunc opens the named port with the given mode.
type OpenFunc func(name string, mode *serial.Mode) (Port, error)

// OpenSerial opens a real serial device.
func OpenSerial(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// Timing holds the fixed grace periods of the printer protocol.
type Timing struct {
	// Settle is how long the printer needs after the port is opened
	Settle time.Duration
	// Command is the pause between writing a command and reading its response
	Command time.Duration
	// Extruder is the pause between setting and waiting for extruder temperature
	Extruder time.Duration
	// Cooldown is the pause between homing and turning heaters off
	Cooldown time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		Settle:   2 * time.Second,
		Command:  100 * time.Millisecond,
		Extruder: time.Second,
		Cooldown: 2 * time.Second,
	}
}

// Config describes how to reach the printer.
type Config struct {
	PortPath    string
	BaudRate    int
	ReadTimeout time.Duration

	// Heating targets used before streaming a file
	ExtruderTemp float64
	BedTemp      float64

	// Timing defaults to DefaultTiming() when nil
	Timing *Timing
	// Open defaults to OpenSerial when nil
	Open OpenFunc
}

// Session is one open connection to a printer. It owns the port exclusively
// and every exported method holds the session lock until it is done with it.
type Session struct {
	portPath    string
	baudRate    int
	readTimeout time.Duration
	extruder    float64
	bed         float64
	timing      Timing
	state       State

	port    Port
	buf     []byte
	pending []byte

	sleep func(time.Duration)
	now   func() time.Time

	sync.Mutex
}

// Connect opens the port described by cfg and waits for the printer to settle.
// No retries are made; on failure the returned error is of kind ConnectionError.
func Connect(cfg Config) (*Session, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.ExtruderTemp == 0 {
		cfg.ExtruderTemp = DefaultExtruderTemp
	}
	if cfg.BedTemp == 0 {
		cfg.BedTemp = DefaultBedTemp
	}
	timing := DefaultTiming()
	if cfg.Timing != nil {
		timing = *cfg.Timing
	}
	open := cfg.Open
	if open == nil {
		open = OpenSerial
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := open(cfg.PortPath, mode)
	if err != nil {
		return nil, newError(ConnectionError, "connect", fmt.Errorf("failed to open %s: %w", cfg.PortPath, err))
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, newError(ConnectionError, "connect", fmt.Errorf("failed to set read timeout on %s: %w", cfg.PortPath, err))
	}

	s := &Session{
		portPath:    cfg.PortPath,
		baudRate:    cfg.BaudRate,
		readTimeout: cfg.ReadTimeout,
		extruder:    cfg.ExtruderTemp,
		bed:         cfg.BedTemp,
		timing:      timing,
		state:       Connected,
		port:        port,
		buf:         make([]byte, 256),
		sleep:       time.Sleep,
		now:         time.Now,
	}
	log.Infof("Feeder: connected to printer on %s at %d baud", cfg.PortPath, cfg.BaudRate)
	s.sleep(timing.Settle)
	return s, nil
}

func (s *Session) State() State {
	s.Lock()
	defer s.Unlock()
	return s.state
}

func (s *Session) PortPath() string {
	return s.portPath
}

func (s *Session) BaudRate() int {
	return s.baudRate
}

func (s *Session) ReadTimeout() time.Duration {
	return s.readTimeout
}

// Close closes the port. Closing a closed session does nothing.
func (s *Session) Close() error {
	s.Lock()
	defer s.Unlock()
	if s.state == Disconnected {
		return nil
	}
	s.state = Disconnected
	s.pending = nil
	log.Infof("Feeder: closed connection to %s", s.portPath)
	if err := s.port.Close(); err != nil {
		return newError(IOError, "close", err)
	}
	return nil
}

func (s *Session) checkConnected() error {
	if s.state != Connected {
		return ErrNotConnected
	}
	return nil
}

// send writes a single command terminated by a newline.
func (s *Session) send(command string) error {
	command = strings.TrimSpace(command)
	log.Debug("Feeder: WRITING: ", command)
	if _, err := s.port.Write([]byte(command + "\n")); err != nil {
		return newError(IOError, "write", fmt.Errorf("failed to send %q: %w", command, err))
	}
	return nil
}

// readLine returns the next response line with surrounding whitespace removed.
// When the read timeout expires before a newline arrives, whatever was read so
// far is returned, which is usually an empty string.
func (s *Session) readLine() (string, error) {
	for {
		if i := bytes.IndexByte(s.pending, '\n'); i >= 0 {
			line := s.pending[:i]
			s.pending = s.pending[i+1:]
			return decodeResponse(line)
		}
		n, err := s.port.Read(s.buf)
		if n > 0 {
			s.pending = append(s.pending, s.buf[:n]...)
			continue
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", newError(IOError, "read", err)
		}
		// Timed out
		line := s.pending
		s.pending = nil
		resp, derr := decodeResponse(line)
		if resp == "" {
			log.Debug("Feeder: no response received from printer")
		}
		return resp, derr
	}
}

func decodeResponse(line []byte) (string, error) {
	if !utf8.Valid(line) {
		return "", newError(IOError, "read", fmt.Errorf("response %q is not valid UTF-8", line))
	}
	resp := strings.TrimSpace(string(line))
	log.Debug("Feeder: READING: ", resp)
	return resp, nil
}

// exchange sends a command, waits the command grace period and reads one line.
func (s *Session) exchange(command string) (string, error) {
	if err := s.send(command); err != nil {
		return "", err
	}
	s.sleep(s.timing.Command)
	return s.readLine()
}

// Send writes one command and returns the single response line that follows it.
func (s *Session) Send(command string) (string, error) {
	s.Lock()
	defer s.Unlock()
	if err := s.checkConnected(); err != nil {
		return "", err
	}
	return s.exchange(command)
}
