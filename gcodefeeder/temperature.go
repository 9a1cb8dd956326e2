package gcodefeeder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultExtruderTemp = 200.0
	DefaultBedTemp      = 60.0

	// targetNotAccepted shows up in an M109 response while the firmware still
	// reports a zero extruder target.
	targetNotAccepted = "/0.00"
)

// Temperatures is a parsed M105 report. A nil field means the marker was absent.
type Temperatures struct {
	Extruder *float64
	Bed      *float64
}

func (t Temperatures) String() string {
	return fmt.Sprintf("extruder %s, bed %s", formatTemp(t.Extruder), formatTemp(t.Bed))
}

func formatTemp(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f°C", *v)
}

func temperatureCommand(code string, target float64) string {
	return code + " S" + strconv.FormatFloat(target, 'f', -1, 64)
}

// SetTemperatures heats the bed and then the extruder and waits for both.
// If the firmware answers the extruder wait with a zero target, the extruder
// commands are sent exactly once more.
func (s *Session) SetTemperatures(extruder, bed float64) error {
	s.Lock()
	defer s.Unlock()
	if err := s.checkConnected(); err != nil {
		return err
	}
	return s.setTemperatures(extruder, bed)
}

func (s *Session) setTemperatures(extruder, bed float64) error {
	log.Infof("Feeder: heating bed to %v°C and extruder to %v°C", bed, extruder)
	if err := s.send(temperatureCommand("M140", bed)); err != nil {
		return err
	}
	if err := s.send(temperatureCommand("M190", bed)); err != nil {
		return err
	}
	resp, err := s.readLine()
	if err != nil {
		return err
	}
	log.Info("Feeder: bed response: ", resp)

	resp, err = s.heatExtruder(extruder)
	if err != nil {
		return err
	}
	if strings.Contains(resp, targetNotAccepted) {
		log.Warning("Feeder: extruder target not accepted, sending it once more")
		if resp, err = s.heatExtruder(extruder); err != nil {
			return err
		}
	}
	log.Info("Feeder: extruder response: ", resp)
	return nil
}

func (s *Session) heatExtruder(target float64) (string, error) {
	if err := s.send(temperatureCommand("M104", target)); err != nil {
		return "", err
	}
	s.sleep(s.timing.Extruder)
	if err := s.send(temperatureCommand("M109", target)); err != nil {
		return "", err
	}
	return s.readLine()
}

// HomeAndCooldown homes all axes and switches both heaters off. Every step is
// attempted even if an earlier one failed; all failures are returned together.
func (s *Session) HomeAndCooldown() error {
	s.Lock()
	defer s.Unlock()
	if err := s.checkConnected(); err != nil {
		return err
	}

	var errs []error
	resp, err := s.exchange("G28")
	if err != nil {
		log.Errorf("Feeder: homing failed: %v", err)
		errs = append(errs, err)
	} else {
		log.Info("Feeder: homing response: ", resp)
	}

	s.sleep(s.timing.Cooldown)

	for _, instruction := range []string{
		// turn off temperature
		"M104 S0",
		// turn off heatbed
		"M140 S0",
	} {
		if err := s.send(instruction); err != nil {
			log.Errorf("Feeder: error writing cooldown instructions: %v", err)
			errs = append(errs, err)
		}
	}
	if resp, err := s.readLine(); err != nil {
		log.Errorf("Feeder: error reading cooldown response: %v", err)
		errs = append(errs, err)
	} else {
		log.Info("Feeder: cooldown response: ", resp)
	}
	return errors.Join(errs...)
}

// ReadTemperatures asks the printer for its current temperatures with M105.
func (s *Session) ReadTemperatures() (Temperatures, error) {
	resp, err := s.Send("M105")
	if err != nil {
		return Temperatures{}, err
	}
	return ParseTemperatures(resp)
}

// ParseTemperatures extracts extruder (T:) and bed (B:) temperatures from a
// printer report such as "ok T:200.00 /200.00 B:60.00 /60.00". Both markers
// have to be present; otherwise both fields stay nil and no error is returned.
func ParseTemperatures(response string) (Temperatures, error) {
	var t Temperatures
	if !strings.Contains(response, "T:") || !strings.Contains(response, "B:") {
		return t, nil
	}
	for _, token := range strings.Fields(response) {
		var dst **float64
		switch {
		case strings.HasPrefix(token, "T:"):
			dst = &t.Extruder
		case strings.HasPrefix(token, "B:"):
			dst = &t.Bed
		default:
			continue
		}
		value := token[2:]
		if i := strings.IndexByte(value, '/'); i >= 0 {
			value = value[:i]
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return Temperatures{}, newError(ParseError, "parse temperatures", fmt.Errorf("bad value in %q: %w", token, err))
		}
		*dst = &f
	}
	return t, nil
}
