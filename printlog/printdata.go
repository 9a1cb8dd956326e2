package printlog

import (
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const DefaultPrintDataPath = "print_data.csv"

var printDataHeader = []string{
	"Temperature", "Bed_Temperature", "Speed", "Layer_Height",
	"Infill_Percentage", "Print_Duration", "Quality_Score",
}

// PrintData is one row of print parameters together with how well the print came out.
type PrintData struct {
	// Temperatures are nil when the printer did not report them
	Temperature    *float64
	BedTemperature *float64

	Speed            float64 // mm/s
	LayerHeight      float64 // mm
	InfillPercentage float64
	PrintDuration    int // seconds
	QualityScore     float64
}

func (d PrintData) String() string {
	return fmt.Sprintf("%s°C (Extruder), %s°C (Bed), %smm/s, %smm, %s%%, %ds, Quality: %s",
		displayFloat(d.Temperature), displayFloat(d.BedTemperature), formatFloat(d.Speed),
		formatFloat(d.LayerHeight), formatFloat(d.InfillPercentage), d.PrintDuration,
		formatFloat(d.QualityScore))
}

// AppendPrintData appends d to the CSV file at path, creating it with a header row if needed.
func AppendPrintData(path string, d PrintData) error {
	if path == "" {
		path = DefaultPrintDataPath
	}
	f, writer, err := openAppend(path, printDataHeader)
	if err != nil {
		return err
	}
	defer f.Close()

	row := []string{
		optFloat(d.Temperature),
		optFloat(d.BedTemperature),
		formatFloat(d.Speed),
		formatFloat(d.LayerHeight),
		formatFloat(d.InfillPercentage),
		strconv.Itoa(d.PrintDuration),
		formatFloat(d.QualityScore),
	}
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	log.Info("Print data logged: ", d)
	return nil
}

// ReadPrintData returns all rows of the print data file at path.
func ReadPrintData(path string) ([]PrintData, error) {
	rows, err := readRows(path, printDataHeader)
	if err != nil {
		return nil, err
	}
	out := make([]PrintData, 0, len(rows))
	for i, row := range rows {
		d, err := parsePrintData(row)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func parsePrintData(row []string) (PrintData, error) {
	var (
		d   PrintData
		err error
	)
	if d.Temperature, err = parseOptFloat(row[0]); err != nil {
		return d, fmt.Errorf("temperature: %w", err)
	}
	if d.BedTemperature, err = parseOptFloat(row[1]); err != nil {
		return d, fmt.Errorf("bed temperature: %w", err)
	}
	fields := []struct {
		name string
		dst  *float64
		src  string
	}{
		{"speed", &d.Speed, row[2]},
		{"layer height", &d.LayerHeight, row[3]},
		{"infill percentage", &d.InfillPercentage, row[4]},
		{"quality score", &d.QualityScore, row[6]},
	}
	for _, f := range fields {
		if *f.dst, err = strconv.ParseFloat(f.src, 64); err != nil {
			return d, fmt.Errorf("%s: %w", f.name, err)
		}
	}
	if d.PrintDuration, err = strconv.Atoi(row[5]); err != nil {
		return d, fmt.Errorf("print duration: %w", err)
	}
	return d, nil
}

func optFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func displayFloat(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return formatFloat(*v)
}

func parseOptFloat(s string) (*float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
