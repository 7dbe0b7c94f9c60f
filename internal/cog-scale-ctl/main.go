package ctl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/TheCacophonyProject/cog-scale/cog"
	"github.com/TheCacophonyProject/cog-scale/scaleclient"
	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/alexflint/go-arg"
)

var version = "<not set>"
var log = logging.NewLogger("info")

type Args struct {
	Measurement *Measurement `arg:"subcommand:measurement" help:"Print the latest measurement."`
	Send        *Send        `arg:"subcommand:send"        help:"Send a console command, e.g. 't' or 'cc,2,1001.5'."`
	Factors     *subcommand  `arg:"subcommand:factors"     help:"Print the scale factors."`
	Tare        *subcommand  `arg:"subcommand:tare"        help:"Tare all load cells."`
	Calibrate   *Calibrate   `arg:"subcommand:calibrate"   help:"Walk through a calibration."`
	logging.LogArgs
}

type subcommand struct {
}

type Measurement struct {
	Watch    bool          `arg:"-w, --watch" help:"Keep printing measurements."`
	Interval time.Duration `arg:"--interval" default:"1s" help:"Time between measurements when watching."`
	JSON     bool          `arg:"--json" help:"Print the raw JSON."`
}

type Send struct {
	Line string `arg:"positional,required" help:"The command line to send."`
}

type Calibrate struct {
	Weight float64 `arg:"positional,required" help:"The known weight in kg."`
}

var defaultArgs = Args{}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	log = logging.NewLogger(args.LogLevel)

	switch {
	case args.Measurement != nil:
		return measurement(args.Measurement)
	case args.Send != nil:
		return send(args.Send.Line)
	case args.Factors != nil:
		factors, err := scaleclient.ScaleFactors()
		if err != nil {
			return err
		}
		for i, f := range factors {
			fmt.Printf("cell %d: %.4f\n", i+1, f)
		}
		return nil
	case args.Tare != nil:
		return send("t")
	case args.Calibrate != nil:
		return calibrate(args.Calibrate.Weight, os.Stdin, os.Stdout)
	}
	return errors.New("no subcommand given")
}

func send(line string) error {
	reply, err := scaleclient.Command(line)
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

func measurement(args *Measurement) error {
	var last uint64
	for {
		m, err := scaleclient.Measurement()
		if err != nil {
			return err
		}
		if !args.Watch || m.Cycle != last {
			printMeasurement(m, args.JSON)
			last = m.Cycle
		}
		if !args.Watch {
			return nil
		}
		time.Sleep(args.Interval)
	}
}

func printMeasurement(m cog.Measurement, asJSON bool) {
	if asJSON {
		b, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			log.Error(err)
			return
		}
		fmt.Println(string(b))
		return
	}
	fmt.Println(m.String())
}

// calibrate runs the operator side of a calibration, pausing for enter between steps.
func calibrate(weightKg float64, in io.Reader, out io.Writer) error {
	if weightKg <= 0 {
		return fmt.Errorf("known weight must be positive, got %v", weightKg)
	}
	reader := bufio.NewReader(in)
	steps := []struct {
		prompt string
		line   string
	}{
		{"", "c"},
		{"Clear the scale and press enter.", "y"},
		{fmt.Sprintf("Place %.3f kg in the centre of the scale and press enter.", weightKg), fmt.Sprintf("w,%g", weightKg)},
		// Served once the calibration steps have finished.
		{"", "s"},
	}
	for _, step := range steps {
		if step.prompt != "" {
			fmt.Fprintln(out, step.prompt)
			if _, err := reader.ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
				return err
			}
		}
		reply, err := scaleclient.Command(step.line)
		if err != nil {
			if step.line != "c" {
				// Leave the scale measuring again.
				_, _ = scaleclient.Command("b")
			}
			return err
		}
		fmt.Fprintln(out, strings.TrimSpace(reply))
	}
	return nil
}
