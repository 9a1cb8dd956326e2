package printlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const DefaultJournalPath = "print_log.csv"

var journalHeader = []string{
	"Line", "Command", "Response", "Progress", "Elapsed_Seconds", "Remaining_Seconds",
}

// ExchangeRecord is the outcome of sending one G-code line to the printer.
// Total is the line count of the file and is not written to the journal.
type ExchangeRecord struct {
	Line      int           `json:"line"`
	Total     int           `json:"total"`
	Command   string        `json:"command"`
	Response  string        `json:"response"`
	Progress  float64       `json:"progress"`
	Elapsed   time.Duration `json:"elapsed"`
	Remaining time.Duration `json:"remaining"`
}

// Recorder stores exchange records in the order they are given.
type Recorder interface {
	Record(rec ExchangeRecord) error
}

// Journal appends exchange records to a CSV file.
type Journal struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	writer *csv.Writer
}

// OpenJournal opens path for appending and writes the header row if the file
// is new or empty.
func OpenJournal(path string) (*Journal, error) {
	if path == "" {
		path = DefaultJournalPath
	}
	f, writer, err := openAppend(path, journalHeader)
	if err != nil {
		return nil, err
	}
	log.Debugf("Journal: appending to %s", path)
	return &Journal{path: path, file: f, writer: writer}, nil
}

func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) Record(rec ExchangeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.writer == nil {
		return fmt.Errorf("journal %s is closed", j.path)
	}
	row := []string{
		strconv.Itoa(rec.Line),
		rec.Command,
		rec.Response,
		formatFloat(rec.Progress),
		formatFloat(rec.Elapsed.Seconds()),
		formatFloat(rec.Remaining.Seconds()),
	}
	if err := j.writer.Write(row); err != nil {
		return fmt.Errorf("write %s: %w", j.path, err)
	}
	j.writer.Flush()
	return j.writer.Error()
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.writer == nil {
		return nil
	}
	j.writer.Flush()
	err := j.writer.Error()
	j.writer = nil
	if cerr := j.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadJournal returns every record stored in the journal at path, oldest first.
func ReadJournal(path string) ([]ExchangeRecord, error) {
	rows, err := readRows(path, journalHeader)
	if err != nil {
		return nil, err
	}
	records := make([]ExchangeRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := parseRecord(row)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRecord(row []string) (ExchangeRecord, error) {
	line, err := strconv.Atoi(row[0])
	if err != nil {
		return ExchangeRecord{}, fmt.Errorf("line: %w", err)
	}
	progress, err := strconv.ParseFloat(row[3], 64)
	if err != nil {
		return ExchangeRecord{}, fmt.Errorf("progress: %w", err)
	}
	elapsed, err := parseSeconds(row[4])
	if err != nil {
		return ExchangeRecord{}, fmt.Errorf("elapsed: %w", err)
	}
	remaining, err := parseSeconds(row[5])
	if err != nil {
		return ExchangeRecord{}, fmt.Errorf("remaining: %w", err)
	}
	return ExchangeRecord{
		Line:      line,
		Command:   row[1],
		Response:  row[2],
		Progress:  progress,
		Elapsed:   elapsed,
		Remaining: remaining,
	}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseSeconds(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(math.Round(f * float64(time.Second))), nil
}

// openAppend opens path for appending and writes header only when the file
// does not exist yet or is empty.
func openAppend(path string, header []string) (*os.File, *csv.Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat %s: %w", path, err)
	}
	writer := csv.NewWriter(f)
	if st.Size() == 0 {
		if err := writer.Write(header); err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("write header to %s: %w", path, err)
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("write header to %s: %w", path, err)
		}
	}
	return f, writer, nil
}

// readRows returns the data rows of a CSV file whose first row is header.
func readRows(path string, header []string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)
	first, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	for i := range header {
		if first[i] != header[i] {
			return nil, fmt.Errorf("%s: unexpected header %v", path, first)
		}
	}
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}
