/*
cog-scale - Four load cell centre of gravity scale
Copyright (C) 2026, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package calibration

import (
	"errors"
	"fmt"
	"math"

	"github.com/TheCacophonyProject/cog-scale/loadcell"
	"github.com/TheCacophonyProject/go-utils/logging"
)

var log = logging.NewLogger("info")

// SetLogger replaces the package logger.
func SetLogger(l *logging.Logger) {
	log = l
}

type State int

const (
	AwaitingTare State = iota
	AwaitingKnownWeight
	Sampling
	Computing
	Verifying
	Done
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case AwaitingTare:
		return "awaiting tare"
	case AwaitingKnownWeight:
		return "awaiting known weight"
	case Sampling:
		return "sampling"
	case Computing:
		return "computing"
	case Verifying:
		return "verifying"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Finished is true for the terminal states.
func (s State) Finished() bool {
	return s == Done || s == Failed || s == Cancelled
}

var (
	ErrInvalidWeight         = errors.New("invalid weight")
	ErrDegenerateCalibration = errors.New("degenerate calibration")
	ErrWrongState            = errors.New("event not valid in this calibration state")
	ErrNotCancellable        = errors.New("calibration can't be cancelled while measuring")
)

// Channel is the part of a load cell calibration needs.
type Channel interface {
	ReadAverage(n int) (float64, error)
	SetOffset(offset float64)
	ReadValue(n int) (float64, error)
	ReadAveraged(n int) (float64, error)
	SetScaleFactor(f float64) error
	ScaleFactor() float64
}

// Progress is reported to the presentation layer as the session moves along.
type Progress struct {
	State   State
	Channel loadcell.ID
	// Value is the raw sample in Sampling and the verified weight in kg in Verifying.
	Value   float64
	Message string
}

type Options struct {
	TareSamples   int
	RawSamples    int
	VerifySamples int
	UnitsPerKg    float64
	Progress      func(Progress)
}

var DefaultOptions = Options{
	TareSamples:   10,
	RawSamples:    10,
	VerifySamples: 5,
	UnitsPerKg:    1000,
}

// Result holds what a session measured and applied.
type Result struct {
	KnownWeightKg float64
	RawSamples    [loadcell.NumChannels]float64
	ScaleFactors  [loadcell.NumChannels]float64
	VerifiedKg    [loadcell.NumChannels]float64
}

// Session walks the operator through tare, known weight placement and the automatic
// sampling, computing and verifying steps. The operator states are advanced by
// ConfirmTare and SubmitKnownWeight, the automatic states by Step.
type Session struct {
	channels [loadcell.NumChannels]Channel
	opts     Options
	state    State
	next     int
	result   Result
	err      error
}

func New(channels [loadcell.NumChannels]Channel, opts Options) *Session {
	if opts.TareSamples <= 0 {
		opts.TareSamples = DefaultOptions.TareSamples
	}
	if opts.RawSamples <= 0 {
		opts.RawSamples = DefaultOptions.RawSamples
	}
	if opts.VerifySamples <= 0 {
		opts.VerifySamples = DefaultOptions.VerifySamples
	}
	if opts.UnitsPerKg <= 0 {
		opts.UnitsPerKg = DefaultOptions.UnitsPerKg
	}
	s := &Session{channels: channels, opts: opts, state: AwaitingTare}
	s.report(Progress{Message: "Clear the scale, then confirm tare"})
	return s
}

func (s *Session) State() State {
	return s.state
}

// Err is the reason a session ended in Failed.
func (s *Session) Err() error {
	return s.err
}

func (s *Session) Result() Result {
	return s.result
}

// Pending is true while there is automatic work left for Step.
func (s *Session) Pending() bool {
	return s.state == Sampling || s.state == Computing || s.state == Verifying
}

// ConfirmTare zeroes every channel with the platform empty. Offsets are only changed once
// every channel has been read. If a channel can't be read no offset changes and the session
// stays where it is so the operator can try again.
func (s *Session) ConfirmTare() error {
	if s.state != AwaitingTare {
		return fmt.Errorf("%w: %s", ErrWrongState, s.state)
	}
	var offsets [loadcell.NumChannels]float64
	for i, c := range s.channels {
		avg, err := c.ReadAverage(s.opts.TareSamples)
		if err != nil {
			log.Errorf("Calibration tare of %s failed: %v", loadcell.ID(i), err)
			return err
		}
		offsets[i] = avg
	}
	for i, c := range s.channels {
		c.SetOffset(offsets[i])
	}
	s.setState(AwaitingKnownWeight)
	s.report(Progress{Message: "Place the known weight in the centre and enter it in kg"})
	return nil
}

// SubmitKnownWeight accepts the calibration weight. Values that aren't a positive number
// are rejected and the session keeps waiting.
func (s *Session) SubmitKnownWeight(kg float64) error {
	if s.state != AwaitingKnownWeight {
		return fmt.Errorf("%w: %s", ErrWrongState, s.state)
	}
	if kg <= 0 || math.IsNaN(kg) || math.IsInf(kg, 0) {
		return ErrInvalidWeight
	}
	s.result.KnownWeightKg = kg
	s.next = 0
	s.setState(Sampling)
	return nil
}

// Cancel abandons the session. Only possible while waiting on the operator.
func (s *Session) Cancel() error {
	if s.state != AwaitingTare && s.state != AwaitingKnownWeight {
		return ErrNotCancellable
	}
	s.setState(Cancelled)
	s.report(Progress{Message: "Calibration cancelled"})
	return nil
}

// Step does one piece of automatic work: a single channel's samples while Sampling, the
// scale factor calculation while Computing, the check reads while Verifying.
func (s *Session) Step() error {
	switch s.state {
	case Sampling:
		return s.sample()
	case Computing:
		return s.compute()
	case Verifying:
		return s.verify()
	}
	return fmt.Errorf("%w: %s", ErrWrongState, s.state)
}

func (s *Session) sample() error {
	id := loadcell.ID(s.next)
	v, err := s.channels[s.next].ReadValue(s.opts.RawSamples)
	if err != nil {
		return s.fail(err)
	}
	s.result.RawSamples[s.next] = v
	s.report(Progress{Channel: id, Value: v, Message: fmt.Sprintf("Cell %d raw %.0f", id.Number(), v)})
	s.next++
	if s.next == loadcell.NumChannels {
		s.setState(Computing)
	}
	return nil
}

func (s *Session) compute() error {
	factors, err := ScaleFactors(s.result.RawSamples, s.result.KnownWeightKg, s.opts.UnitsPerKg)
	if err != nil {
		return s.fail(err)
	}
	for i, c := range s.channels {
		if err := c.SetScaleFactor(factors[i]); err != nil {
			return s.fail(err)
		}
		log.Infof("Cell %d scale factor %.4f", loadcell.ID(i).Number(), factors[i])
	}
	s.result.ScaleFactors = factors
	s.setState(Verifying)
	return nil
}

// verify reads back every channel with the new factors. A bad reading here does not undo
// the factors, the operator decides whether to run calibration again.
func (s *Session) verify() error {
	for i, c := range s.channels {
		units, err := c.ReadAveraged(s.opts.VerifySamples)
		if err != nil {
			return s.fail(err)
		}
		kg := units / s.opts.UnitsPerKg
		s.result.VerifiedKg[i] = kg
		id := loadcell.ID(i)
		s.report(Progress{Channel: id, Value: kg, Message: fmt.Sprintf("Cell %d reads %.3f kg", id.Number(), kg)})
	}
	s.setState(Done)
	s.report(Progress{Message: "Calibration complete"})
	return nil
}

func (s *Session) fail(err error) error {
	s.err = err
	s.setState(Failed)
	s.report(Progress{Message: fmt.Sprintf("Calibration failed: %v", err)})
	return err
}

func (s *Session) setState(state State) {
	log.Debugf("Calibration %s -> %s", s.state, state)
	s.state = state
}

func (s *Session) report(p Progress) {
	p.State = s.state
	if s.opts.Progress != nil {
		s.opts.Progress(p)
	}
}

// ScaleFactors derives each channel's factor assuming the known weight sits at the centre of
// the platform, so every leg should read an equal quarter of it. A zero sum, or any zero
// sample, would give an unusable factor and is rejected without producing any factors.
func ScaleFactors(raw [loadcell.NumChannels]float64, knownWeightKg, unitsPerKg float64) ([loadcell.NumChannels]float64, error) {
	var factors [loadcell.NumChannels]float64
	if knownWeightKg <= 0 {
		return factors, ErrInvalidWeight
	}
	sum := 0.0
	for _, r := range raw {
		sum += r
	}
	if sum == 0 {
		return factors, fmt.Errorf("%w: raw samples sum to zero", ErrDegenerateCalibration)
	}
	share := knownWeightKg * unitsPerKg / loadcell.NumChannels
	for i, r := range raw {
		if r == 0 {
			return [loadcell.NumChannels]float64{}, fmt.Errorf("%w: cell %d read zero", ErrDegenerateCalibration, loadcell.ID(i).Number())
		}
		factors[i] = r / share
	}
	return factors, nil
}
