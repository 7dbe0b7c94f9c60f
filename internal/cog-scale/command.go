package scale

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/TheCacophonyProject/cog-scale/calibration"
	"github.com/TheCacophonyProject/cog-scale/loadcell"
)

type CommandKind int

const (
	CmdTare CommandKind = iota + 1
	CmdToggleContinuous
	CmdShowCalibration
	CmdStartCalibration
	CmdDebugRaw
	CmdSetCorrection
	CmdSetChannelCalibration
	CmdConfirmTare
	CmdKnownWeight
	CmdBack
	CmdButton
	cmdReloadCorrection
)

var commandNames = map[CommandKind]string{
	CmdTare:                  "tare-now",
	CmdToggleContinuous:      "toggle-continuous",
	CmdShowCalibration:       "show-calibration",
	CmdStartCalibration:      "start-calibration",
	CmdDebugRaw:              "debug-raw",
	CmdSetCorrection:         "set-correction",
	CmdSetChannelCalibration: "set-channel-calibration",
	CmdConfirmTare:           "confirm-tare",
	CmdKnownWeight:           "known-weight",
	CmdBack:                  "back",
	CmdButton:                "button",
	cmdReloadCorrection:      "reload-correction",
}

func (k CommandKind) String() string {
	if name, ok := commandNames[k]; ok {
		return name
	}
	return fmt.Sprintf("CommandKind(%d)", int(k))
}

// Command is a single operator request for the controller.
type Command struct {
	Kind    CommandKind
	Channel loadcell.ID
	Value   float64
	Button  Action
}

var (
	ErrUnrecognizedCommand = errors.New("unrecognized command")
	ErrInvalidCellNumber   = errors.New("invalid cell number")
	ErrInvalidFactor       = errors.New("invalid factor")
	ErrInvalidWeight       = calibration.ErrInvalidWeight
)

// Single field commands, short serial form and long form.
var simpleCommands = map[string]CommandKind{
	"t":                 CmdTare,
	"tare":              CmdTare,
	"tare-now":          CmdTare,
	"m":                 CmdToggleContinuous,
	"measure":           CmdToggleContinuous,
	"toggle-continuous": CmdToggleContinuous,
	"s":                 CmdShowCalibration,
	"show":              CmdShowCalibration,
	"show-calibration":  CmdShowCalibration,
	"c":                 CmdStartCalibration,
	"calibrate":         CmdStartCalibration,
	"start-calibration": CmdStartCalibration,
	"r":                 CmdDebugRaw,
	"raw":               CmdDebugRaw,
	"debug-raw":         CmdDebugRaw,
	"y":                 CmdConfirmTare,
	"ok":                CmdConfirmTare,
	"confirm-tare":      CmdConfirmTare,
	"b":                 CmdBack,
	"back":              CmdBack,
}

// ParseCommand turns a console line into a Command. Multi field commands are comma
// separated: "cf,<multiplier>", "cc,<cell 1-4>,<factor>" and "w,<kg>".
func ParseCommand(line string) (Command, error) {
	line = strings.ToLower(strings.TrimSpace(line))
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	if len(fields) == 1 {
		if kind, ok := simpleCommands[fields[0]]; ok {
			return Command{Kind: kind}, nil
		}
		return Command{}, fmt.Errorf("%w: '%s'", ErrUnrecognizedCommand, line)
	}

	switch fields[0] {
	case "cf", "set-correction":
		if len(fields) != 2 {
			return Command{}, ErrInvalidFactor
		}
		v, err := parseFloat(fields[1])
		if err != nil || v <= 0 {
			return Command{}, ErrInvalidFactor
		}
		return Command{Kind: CmdSetCorrection, Value: v}, nil

	case "cc", "set-channel-calibration":
		if len(fields) != 3 {
			return Command{}, ErrInvalidFactor
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return Command{}, ErrInvalidCellNumber
		}
		id, ok := loadcell.IDFromNumber(n)
		if !ok {
			return Command{}, ErrInvalidCellNumber
		}
		v, err := parseFloat(fields[2])
		if err != nil || v == 0 {
			return Command{}, ErrInvalidFactor
		}
		return Command{Kind: CmdSetChannelCalibration, Channel: id, Value: v}, nil

	case "w", "known-weight":
		if len(fields) != 2 {
			return Command{}, ErrInvalidWeight
		}
		v, err := parseFloat(fields[1])
		if err != nil || v <= 0 {
			return Command{}, ErrInvalidWeight
		}
		return Command{Kind: CmdKnownWeight, Value: v}, nil
	}
	return Command{}, fmt.Errorf("%w: '%s'", ErrUnrecognizedCommand, line)
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number: %s", s)
	}
	return v, nil
}
