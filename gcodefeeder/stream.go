package gcodefeeder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/leoleovich/3dprintlog/printlog"
)

// Summary describes how far a stream got.
type Summary struct {
	TotalLines   int
	Sent         int
	LastLine     int
	LastResponse string
	Elapsed      time.Duration
	Completed    bool
}

// maxLineLength bounds a single G-code line.
const maxLineLength = 1024 * 1024

// scanLines splits on "\n", "\r\n" and a lone "\r". A last line without a
// terminator is returned as well.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		// A "\r" at the end of the buffer may be followed by "\n"
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)
	scanner.Split(scanLines)
	return scanner
}

// CountLines returns the number of lines in the file at path, blank ones
// included. A last line without a line terminator counts as well.
func CountLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, newError(FileError, "count lines", err)
	}
	defer f.Close()

	count := 0
	scanner := newLineScanner(f)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, newError(FileError, "count lines", err)
	}
	return count, nil
}

// StreamFile heats the printer and sends the G-code file at path one line at a
// time, reading a single response after each command. Progress goes to sink
// every 5% of the file, and every command sent is given to rec (which may be
// nil). On failure the stream stops where it is and the partial summary is
// returned together with the error.
func (s *Session) StreamFile(ctx context.Context, path string, sink printlog.Sink, rec printlog.Recorder) (*Summary, error) {
	s.Lock()
	defer s.Unlock()

	if sink == nil {
		sink = printlog.Console{}
	}
	summary := &Summary{}
	fail := func(err error) (*Summary, error) {
		sink.Append(fmt.Sprintf("Failed to send G-code: %v", err))
		return summary, err
	}

	if err := s.checkConnected(); err != nil {
		return fail(err)
	}

	total, err := CountLines(path)
	if err != nil {
		return fail(err)
	}
	summary.TotalLines = total
	sink.Append(fmt.Sprintf("Total lines in G-code file: %d", total))

	if err := s.setTemperatures(s.extruder, s.bed); err != nil {
		return fail(fmt.Errorf("heating: %w", err))
	}

	file, err := os.Open(path)
	if err != nil {
		return fail(newError(FileError, "open", err))
	}
	defer file.Close()

	start := s.now()
	interval := tickInterval(total)
	scanner := newLineScanner(file)
	for index := 1; scanner.Scan(); index++ {
		command := strings.TrimSpace(scanner.Text())
		if command != "" {
			if err := ctx.Err(); err != nil {
				return fail(err)
			}
			resp, err := s.exchange(command)
			if err != nil {
				return fail(err)
			}
			summary.Sent++
			summary.LastLine = index
			summary.LastResponse = resp

			est := EstimateProgress(index, total, s.now().Sub(start))
			if index%interval == 0 {
				sink.Append(fmt.Sprintf("Progress: %.2f%% complete", est.Percent))
				sink.Append(fmt.Sprintf("Elapsed Time: %.2f minutes", est.Elapsed.Minutes()))
				sink.Append(fmt.Sprintf("Estimated Remaining Time: %.2f minutes", est.Remaining.Minutes()))
				sink.Append(fmt.Sprintf("Printer Response: %s", resp))
			}
			if rec != nil {
				err := rec.Record(printlog.ExchangeRecord{
					Line:      index,
					Total:     total,
					Command:   command,
					Response:  resp,
					Progress:  est.Percent,
					Elapsed:   est.Elapsed,
					Remaining: est.Remaining,
				})
				if err != nil {
					log.Errorf("Feeder: failed to record line %d: %v", index, err)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fail(newError(FileError, "read", err))
	}

	summary.Elapsed = s.now().Sub(start)
	summary.Completed = true
	sink.Append(fmt.Sprintf("Printing complete. Total time: %.2f minutes", summary.Elapsed.Minutes()))
	return summary, nil
}
