package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/leoleovich/3dprintlog/fakeprinter"
	"github.com/leoleovich/3dprintlog/gcodefeeder"
	"github.com/leoleovich/3dprintlog/printlog"
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: %s [flags] <command>

Commands:
  print <file.gcode>  heat up, stream the file, then home and cool down
  temps               read temperatures and log print parameters

Flags:
`, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	var configFile, logFile, port, journalPath, listenAddr string
	var baudRate int
	var verbose, dryRun bool

	flag.StringVar(&configFile, "config", "3dprintlog.yaml", "Main config")
	flag.StringVar(&logFile, "log", "", "Where to log, stdout when empty")
	flag.BoolVar(&verbose, "verbose", false, "Use verbose log output")
	flag.StringVar(&port, "port", "", "Serial port of the printer, overrides config")
	flag.IntVar(&baudRate, "baud", 0, "Baud rate, overrides config")
	flag.StringVar(&journalPath, "journal", "", "CSV file for exchange records, overrides config")
	flag.StringVar(&listenAddr, "listen", "", "Serve job status on this address (e.g. :8080)")
	flag.BoolVar(&dryRun, "dry-run", false, "Talk to a simulated printer instead of a serial port")
	flag.Usage = usage
	flag.Parse()

	if verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
	log.SetOutput(os.Stdout)
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			log.Fatalf("Failed to log to file: %v", err)
		}
		defer file.Close()
		log.SetOutput(file)
	}

	cfg, err := LoadConfig(configFile)
	if err != nil {
		log.Fatal(err)
	}
	if port != "" {
		cfg.Printer.Port = port
	}
	if baudRate != 0 {
		cfg.Printer.BaudRate = baudRate
	}
	if journalPath != "" {
		cfg.Logging.Journal = journalPath
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warningf("Received %v, stopping after the current command", sig)
		cancel()
	}()

	var open gcodefeeder.OpenFunc
	if dryRun {
		log.Info("Dry run: using a simulated printer")
		printer := fakeprinter.New()
		open = func(string, *serial.Mode) (gcodefeeder.Port, error) {
			return printer, nil
		}
	}

	switch flag.Arg(0) {
	case "print":
		if flag.NArg() != 2 {
			flag.Usage()
			os.Exit(2)
		}
		os.Exit(runPrint(ctx, cfg, open, flag.Arg(1)))
	case "temps":
		os.Exit(runTemps(cfg, open))
	default:
		flag.Usage()
		os.Exit(2)
	}
}

// runPrint returns the process exit code: 0 only when the whole file was sent.
func runPrint(ctx context.Context, cfg *Config, open gcodefeeder.OpenFunc, path string) int {
	session, err := gcodefeeder.Connect(cfg.SessionConfig(open))
	if err != nil {
		log.Errorf("Error connecting to printer: %v", err)
		return 1
	}
	defer session.Close()

	journal, err := printlog.OpenJournal(cfg.Logging.Journal)
	if err != nil {
		log.Errorf("Failed to open journal: %v", err)
		return 1
	}
	defer journal.Close()

	daemon := NewDaemon(session, journal)
	defer daemon.Stop()

	if cfg.Server.ListenAddr != "" {
		go func() {
			if err := daemon.Serve(ctx, cfg.Server.ListenAddr); err != nil {
				log.Errorf("Status server failed: %v", err)
			}
		}()
	}

	summary, err := daemon.Print(ctx, path)
	if err != nil {
		log.Errorf("Print of %s aborted after %d of %d lines: %v (%s)",
			path, summary.LastLine, summary.TotalLines, err, gcodefeeder.KindOf(err))
		return 1
	}
	log.Infof("Print of %s complete: %d commands sent", path, summary.Sent)
	return 0
}

func runTemps(cfg *Config, open gcodefeeder.OpenFunc) int {
	session, err := gcodefeeder.Connect(cfg.SessionConfig(open))
	if err != nil {
		log.Errorf("Error connecting to printer: %v", err)
		return 1
	}
	defer session.Close()

	if err := logTemperatures(session, cfg.Logging.PrintData, os.Stdin, os.Stdout); err != nil {
		log.Errorf("Failed to log print data: %v", err)
		return 1
	}
	return 0
}
