package printlog

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestJournalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "print_log.csv")
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal failed: %v", err)
	}

	want := []ExchangeRecord{
		{Line: 1, Command: "G28", Response: "ok X:0.00 Y:0.00 Z:0.00", Progress: 25, Elapsed: 100 * time.Millisecond, Remaining: 300 * time.Millisecond},
		{Line: 3, Command: "M104 S200", Response: "", Progress: 75, Elapsed: 1234567 * time.Microsecond, Remaining: 411522333 * time.Nanosecond},
		{Line: 4, Command: `M117 "quoted, text"`, Response: "ok T:200.00 /200.00", Progress: 100.0 / 3, Elapsed: 2 * time.Hour, Remaining: 0},
	}
	for _, rec := range want {
		if err := j.Record(rec); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got, err := ReadJournal(path)
	if err != nil {
		t.Fatalf("ReadJournal failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ReadJournal = %+v\nwant %+v", got, want)
	}
}

func TestJournalHeaderWrittenOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "print_log.csv")
	for i := 1; i <= 2; i++ {
		j, err := OpenJournal(path)
		if err != nil {
			t.Fatalf("OpenJournal failed: %v", err)
		}
		if err := j.Record(ExchangeRecord{Line: i, Command: "G28", Response: "ok"}); err != nil {
			t.Fatal(err)
		}
		j.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "Line,Command,Response"); n != 1 {
		t.Errorf("header appears %d times:\n%s", n, data)
	}
	got, err := ReadJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Line != 1 || got[1].Line != 2 {
		t.Errorf("records = %+v", got)
	}
}

func TestJournalHeaderOnEmptyExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "print_log.csv")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	j.Close()

	data, _ := os.ReadFile(path)
	if string(data) != "Line,Command,Response,Progress,Elapsed_Seconds,Remaining_Seconds\n" {
		t.Errorf("file = %q", data)
	}
}

func TestJournalRecordAfterClose(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "print_log.csv"))
	if err != nil {
		t.Fatal(err)
	}
	j.Close()
	if err := j.Record(ExchangeRecord{Line: 1}); err == nil {
		t.Error("Record on a closed journal succeeded")
	}
	if err := j.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestReadJournalBadHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.csv")
	if err := os.WriteFile(path, []byte("a,b,c,d,e,f\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadJournal(path); err == nil {
		t.Error("ReadJournal accepted a foreign header")
	}
}

func TestPrintDataRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "print_data.csv")
	ext, bed := 205.5, 60.0
	rows := []PrintData{
		{Temperature: &ext, BedTemperature: &bed, Speed: 50, LayerHeight: 0.2, InfillPercentage: 20, PrintDuration: 3600, QualityScore: 8.5},
		{Speed: 80, LayerHeight: 0.28, InfillPercentage: 15, PrintDuration: 1800, QualityScore: 0.6},
	}
	for _, r := range rows {
		if err := AppendPrintData(path, r); err != nil {
			t.Fatalf("AppendPrintData failed: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	wantLines := []string{
		"Temperature,Bed_Temperature,Speed,Layer_Height,Infill_Percentage,Print_Duration,Quality_Score",
		"205.5,60,50,0.2,20,3600,8.5",
		",,80,0.28,15,1800,0.6",
	}
	if !reflect.DeepEqual(lines, wantLines) {
		t.Errorf("file lines = %q, want %q", lines, wantLines)
	}

	got, err := ReadPrintData(path)
	if err != nil {
		t.Fatalf("ReadPrintData failed: %v", err)
	}
	if !reflect.DeepEqual(got, rows) {
		t.Errorf("ReadPrintData = %+v, want %+v", got, rows)
	}
}

func TestPrintDataString(t *testing.T) {
	ext := 200.0
	d := PrintData{Temperature: &ext, Speed: 60, LayerHeight: 0.2, InfillPercentage: 20, PrintDuration: 10, QualityScore: 9}
	want := "200°C (Extruder), n/a°C (Bed), 60mm/s, 0.2mm, 20%, 10s, Quality: 9"
	if got := d.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestSinks(t *testing.T) {
	var a, b Lines
	var seen []string
	m := Multi{&a, nil, &b, SinkFunc(func(l string) { seen = append(seen, l) })}
	m.Append("one")
	m.Append("two")

	for _, got := range [][]string{a.All(), b.All(), seen} {
		if !reflect.DeepEqual(got, []string{"one", "two"}) {
			t.Errorf("sink got %q", got)
		}
	}
}
