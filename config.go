package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/leoleovich/3dprintlog/gcodefeeder"
	"github.com/leoleovich/3dprintlog/printlog"
)

type Config struct {
	Printer PrinterConfig `yaml:"printer"`
	Heating HeatingConfig `yaml:"heating"`
	Timing  TimingConfig  `yaml:"timing"`
	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`
}

type PrinterConfig struct {
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// HeatingConfig holds the targets used before a file is streamed.
type HeatingConfig struct {
	Extruder float64 `yaml:"extruder"`
	Bed      float64 `yaml:"bed"`
}

type TimingConfig struct {
	Settle   time.Duration `yaml:"settle"`
	Command  time.Duration `yaml:"command"`
	Extruder time.Duration `yaml:"extruder"`
	Cooldown time.Duration `yaml:"cooldown"`
}

type LoggingConfig struct {
	Journal   string `yaml:"journal"`
	PrintData string `yaml:"print_data"`
}

type ServerConfig struct {
	// ListenAddr enables the status server when not empty
	ListenAddr string `yaml:"listen_addr"`
}

func DefaultConfig() *Config {
	timing := gcodefeeder.DefaultTiming()
	return &Config{
		Printer: PrinterConfig{
			Port:        "/dev/ttyACM0",
			BaudRate:    gcodefeeder.DefaultBaudRate,
			ReadTimeout: gcodefeeder.DefaultReadTimeout,
		},
		Heating: HeatingConfig{
			Extruder: gcodefeeder.DefaultExtruderTemp,
			Bed:      gcodefeeder.DefaultBedTemp,
		},
		Timing: TimingConfig{
			Settle:   timing.Settle,
			Command:  timing.Command,
			Extruder: timing.Extruder,
			Cooldown: timing.Cooldown,
		},
		Logging: LoggingConfig{
			Journal:   printlog.DefaultJournalPath,
			PrintData: printlog.DefaultPrintDataPath,
		},
	}
}

// LoadConfig reads the YAML file at path on top of the defaults and then applies
// environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Infof("No config at %s, using defaults", path)
	case err != nil:
		return nil, fmt.Errorf("can't open main config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("can't decode main config: %w", err)
		}
		log.Infof("Loaded config from %s", path)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides reads PRINTER_PORT, PRINTER_BAUD, PRINTER_TIMEOUT,
// EXTRUDER_TEMP, BED_TEMP, JOURNAL_PATH, PRINT_DATA_PATH and LISTEN_ADDR.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("PRINTER_PORT"); v != "" {
		c.Printer.Port = v
	}
	if v := os.Getenv("PRINTER_BAUD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PRINTER_BAUD: %w", err)
		}
		c.Printer.BaudRate = n
	}
	if v := os.Getenv("PRINTER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PRINTER_TIMEOUT: %w", err)
		}
		c.Printer.ReadTimeout = d
	}
	if v := os.Getenv("EXTRUDER_TEMP"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("EXTRUDER_TEMP: %w", err)
		}
		c.Heating.Extruder = f
	}
	if v := os.Getenv("BED_TEMP"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("BED_TEMP: %w", err)
		}
		c.Heating.Bed = f
	}
	if v := os.Getenv("JOURNAL_PATH"); v != "" {
		c.Logging.Journal = v
	}
	if v := os.Getenv("PRINT_DATA_PATH"); v != "" {
		c.Logging.PrintData = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	return nil
}

// SessionConfig turns the printer part of the config into what gcodefeeder.Connect expects.
func (c *Config) SessionConfig(open gcodefeeder.OpenFunc) gcodefeeder.Config {
	return gcodefeeder.Config{
		PortPath:     c.Printer.Port,
		BaudRate:     c.Printer.BaudRate,
		ReadTimeout:  c.Printer.ReadTimeout,
		ExtruderTemp: c.Heating.Extruder,
		BedTemp:      c.Heating.Bed,
		Timing: &gcodefeeder.Timing{
			Settle:   c.Timing.Settle,
			Command:  c.Timing.Command,
			Extruder: c.Timing.Extruder,
			Cooldown: c.Timing.Cooldown,
		},
		Open: open,
	}
}
