package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/leoleovich/3dprintlog/gcodefeeder"
	"github.com/leoleovich/3dprintlog/printlog"
)

// logTemperatures reads the printer temperatures, asks the operator how the
// print went and appends everything to the print data file.
func logTemperatures(session *gcodefeeder.Session, path string, in io.Reader, out io.Writer) error {
	temps, err := session.ReadTemperatures()
	if err != nil {
		return fmt.Errorf("read temperatures: %w", err)
	}
	log.Infof("Printer temperatures: %s", temps)

	p := prompter{in: bufio.NewReader(in), out: out}
	d := printlog.PrintData{
		Temperature:      temps.Extruder,
		BedTemperature:   temps.Bed,
		Speed:            p.askFloat("Print Speed (mm/s): "),
		LayerHeight:      p.askFloat("Layer Height (mm): "),
		InfillPercentage: p.askFloat("Infill Percentage (%): "),
		PrintDuration:    p.askInt("Enter print duration in seconds: "),
		QualityScore:     p.askFloat("Rate the print quality (1-10 or 0-1 scale): "),
	}
	if p.err != nil {
		return p.err
	}
	return printlog.AppendPrintData(path, d)
}

// prompter asks questions until the first bad answer and remembers that error.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	err error
}

func (p *prompter) ask(question string) string {
	if p.err != nil {
		return ""
	}
	fmt.Fprint(p.out, question)
	answer, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || answer == "") {
		p.err = fmt.Errorf("%s%w", question, err)
		return ""
	}
	return strings.TrimSpace(answer)
}

func (p *prompter) askFloat(question string) float64 {
	answer := p.ask(question)
	if p.err != nil {
		return 0
	}
	f, err := strconv.ParseFloat(answer, 64)
	if err != nil {
		p.err = fmt.Errorf("%s%w", question, err)
	}
	return f
}

func (p *prompter) askInt(question string) int {
	answer := p.ask(question)
	if p.err != nil {
		return 0
	}
	n, err := strconv.Atoi(answer)
	if err != nil {
		p.err = fmt.Errorf("%s%w", question, err)
	}
	return n
}
