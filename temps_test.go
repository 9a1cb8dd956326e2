package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"go.bug.st/serial"

	"github.com/leoleovich/3dprintlog/fakeprinter"
	"github.com/leoleovich/3dprintlog/gcodefeeder"
	"github.com/leoleovich/3dprintlog/printlog"
)

func connectTestPrinter(t *testing.T, p *fakeprinter.Printer) *gcodefeeder.Session {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Timing = TimingConfig{}
	session, err := gcodefeeder.Connect(cfg.SessionConfig(func(string, *serial.Mode) (gcodefeeder.Port, error) {
		return p, nil
	}))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func TestLogTemperatures(t *testing.T) {
	p := fakeprinter.New()
	session := connectTestPrinter(t, p)
	if err := session.SetTemperatures(210, 65); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "print_data.csv")
	in := strings.NewReader("45\n0.2\n20\n3600\n8.5")
	var out bytes.Buffer

	if err := logTemperatures(session, path, in, &out); err != nil {
		t.Fatalf("logTemperatures failed: %v", err)
	}
	if !strings.Contains(out.String(), "Rate the print quality") {
		t.Errorf("prompts = %q", out.String())
	}

	rows, err := printlog.ReadPrintData(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	d := rows[0]
	if d.Temperature == nil || *d.Temperature != 210 || d.BedTemperature == nil || *d.BedTemperature != 65 {
		t.Errorf("temperatures = %v %v", d.Temperature, d.BedTemperature)
	}
	if d.Speed != 45 || d.LayerHeight != 0.2 || d.InfillPercentage != 20 || d.PrintDuration != 3600 || d.QualityScore != 8.5 {
		t.Errorf("row = %+v", d)
	}
}

func TestLogTemperaturesWithoutReport(t *testing.T) {
	p := fakeprinter.New()
	p.Respond("M105", "ok")
	session := connectTestPrinter(t, p)
	path := filepath.Join(t.TempDir(), "print_data.csv")

	err := logTemperatures(session, path, strings.NewReader("45\n0.2\n20\n3600\n8\n"), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("logTemperatures failed: %v", err)
	}
	rows, err := printlog.ReadPrintData(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Temperature != nil || rows[0].BedTemperature != nil {
		t.Errorf("rows = %+v", rows)
	}
}

func TestLogTemperaturesBadAnswer(t *testing.T) {
	session := connectTestPrinter(t, fakeprinter.New())
	path := filepath.Join(t.TempDir(), "print_data.csv")

	err := logTemperatures(session, path, strings.NewReader("fast\n"), &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "Print Speed") {
		t.Errorf("err = %v, want a print speed error", err)
	}
	if _, err := printlog.ReadPrintData(path); err == nil {
		t.Error("print data file was written after a bad answer")
	}
}
