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

package scale

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/TheCacophonyProject/cog-scale/calibration"
	"github.com/TheCacophonyProject/cog-scale/cog"
	"github.com/TheCacophonyProject/cog-scale/loadcell"
)

var (
	ErrCalibrationActive = errors.New("calibration in progress")
	ErrNoCalibration     = errors.New("no calibration in progress")
)

const defaultTareSamples = 10

type ControllerOptions struct {
	Interval    time.Duration
	Continuous  bool
	TareOnStart bool
	TareSamples int
	Calibration calibration.Options
	// InputLevels returns the raw level of the input pins for debug-raw, if there are any.
	InputLevels func() map[string]bool
}

type reply struct {
	text string
	err  error
}

type request struct {
	cmd   Command
	reply chan reply
}

// Controller owns the channels, the engine, the calibration session and the operating
// mode. Everything that changes them runs on the goroutine calling Run.
type Controller struct {
	channels   [loadcell.NumChannels]*loadcell.Channel
	engine     *cog.Engine
	presenters []Presenter
	opts       ControllerOptions
	requests   chan request

	continuous       bool
	resumeContinuous bool
	session          *calibration.Session
	menu             menu
	measurement      cog.Measurement
	unavailable      bool
}

// NewController takes the same channels the engine was built with.
func NewController(channels [loadcell.NumChannels]*loadcell.Channel, engine *cog.Engine, opts ControllerOptions, presenters ...Presenter) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.TareSamples <= 0 {
		opts.TareSamples = defaultTareSamples
	}
	opts.Calibration.UnitsPerKg = engine.UnitsPerKg()
	return &Controller{
		channels:   channels,
		engine:     engine,
		presenters: presenters,
		opts:       opts,
		requests:   make(chan request),
		continuous: opts.Continuous,
	}
}

// Do sends a command to the controller and waits for the result.
func (c *Controller) Do(ctx context.Context, cmd Command) (string, error) {
	req := request{cmd: cmd, reply: make(chan reply, 1)}
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case r := <-req.reply:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// TryDo hands a command to the controller only if it is free to take it right now. The
// result is shown through the presenters.
func (c *Controller) TryDo(cmd Command) bool {
	select {
	case c.requests <- request{cmd: cmd}:
		return true
	default:
		return false
	}
}

func (c *Controller) ReloadCorrection(ctx context.Context, correction float64) error {
	_, err := c.Do(ctx, Command{Kind: cmdReloadCorrection, Value: correction})
	return err
}

func (c *Controller) Run(ctx context.Context) error {
	c.showCalibration()
	if c.opts.TareOnStart {
		if _, err := c.tare(); err != nil {
			log.Errorf("Startup tare failed: %v", err)
		}
	}

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()
	for {
		if c.session != nil && c.session.Pending() {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			c.stepCalibration()
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case req := <-c.requests:
			c.serve(req)
		case <-ticker.C:
			if c.continuous && c.session == nil {
				c.acquire()
			}
		}
	}
}

func (c *Controller) serve(req request) {
	log.Debugf("Handling '%s'", req.cmd.Kind)
	text, err := c.handle(req.cmd)
	if req.reply != nil {
		req.reply <- reply{text: text, err: err}
		return
	}
	if err != nil {
		log.Errorf("'%s' failed: %v", req.cmd.Kind, err)
		c.showMessage(fmt.Sprintf("Error: %v", err))
	} else if text != "" {
		c.showMessage(text)
	}
}

func (c *Controller) handle(cmd Command) (string, error) {
	switch cmd.Kind {
	case CmdButton:
		return c.handleButton(cmd.Button)

	case CmdTare:
		if c.calibrating() {
			return "", ErrCalibrationActive
		}
		return c.tare()

	case CmdToggleContinuous:
		if c.calibrating() {
			return "", ErrCalibrationActive
		}
		c.continuous = !c.continuous
		if c.continuous {
			return "Continuous measurement on", nil
		}
		return "Continuous measurement off", nil

	case CmdShowCalibration:
		c.showCalibration()
		return calibrationText(c.scaleFactors(), c.engine.Correction()), nil

	case CmdStartCalibration:
		if c.calibrating() {
			return "", ErrCalibrationActive
		}
		c.startCalibration()
		return "Calibration started", nil

	case CmdDebugRaw:
		return c.debugRaw(), nil

	case CmdSetCorrection:
		if cmd.Value <= 0 {
			return "", ErrInvalidFactor
		}
		log.Infof("Correction multiplier %.4f requested, set correction-multiplier in the config to apply it", cmd.Value)
		return fmt.Sprintf("Correction %.4f noted, set correction-multiplier in the config to apply it", cmd.Value), nil

	case CmdSetChannelCalibration:
		if c.calibrating() {
			return "", ErrCalibrationActive
		}
		if cmd.Channel < 0 || int(cmd.Channel) >= loadcell.NumChannels {
			return "", ErrInvalidCellNumber
		}
		if err := c.channels[cmd.Channel].SetScaleFactor(cmd.Value); err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidFactor, err)
		}
		log.Infof("Cell %d scale factor set to %.4f", cmd.Channel.Number(), cmd.Value)
		c.showCalibration()
		return fmt.Sprintf("Cell %d scale factor set to %.4f", cmd.Channel.Number(), cmd.Value), nil

	case CmdConfirmTare:
		if !c.calibrating() {
			return "", ErrNoCalibration
		}
		if err := c.session.ConfirmTare(); err != nil {
			return "", err
		}
		c.engine.Reset()
		return "Tare confirmed", nil

	case CmdKnownWeight:
		if !c.calibrating() {
			return "", ErrNoCalibration
		}
		if err := c.session.SubmitKnownWeight(cmd.Value); err != nil {
			return "", err
		}
		return fmt.Sprintf("Calibrating with %.3f kg", cmd.Value), nil

	case CmdBack:
		if !c.calibrating() {
			return "", ErrNoCalibration
		}
		if err := c.session.Cancel(); err != nil {
			return "", err
		}
		c.finishCalibration()
		return "Calibration cancelled", nil

	case cmdReloadCorrection:
		if err := c.engine.SetCorrection(cmd.Value); err != nil {
			return "", err
		}
		c.showCalibration()
		return fmt.Sprintf("Correction multiplier set to %.4f", cmd.Value), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnrecognizedCommand, cmd.Kind)
}

func (c *Controller) handleButton(a Action) (string, error) {
	cmd, ok, msg := c.menu.press(a, c.calibrating())
	if msg != "" {
		c.showMessage(msg)
	}
	if !ok {
		return "", nil
	}
	return c.handle(cmd)
}

func (c *Controller) calibrating() bool {
	return c.session != nil
}

// tare reads every channel before touching any offset so a failed read can't leave the
// channels zeroed against different baselines.
func (c *Controller) tare() (string, error) {
	var offsets [loadcell.NumChannels]float64
	for i, ch := range c.channels {
		avg, err := ch.ReadAverage(c.opts.TareSamples)
		if err != nil {
			c.reportUnavailable(err)
			return "", err
		}
		offsets[i] = avg
	}
	for i, ch := range c.channels {
		ch.SetOffset(offsets[i])
	}
	c.engine.Reset()
	log.Info("Tare complete")
	return "Tare complete", nil
}

// acquire runs one measurement cycle and publishes the result.
func (c *Controller) acquire() {
	m, err := c.engine.RunCycle()
	if err != nil {
		c.reportUnavailable(err)
		return
	}
	if c.unavailable {
		log.Info("All load cells readable again")
		c.unavailable = false
	}
	c.measurement = m
	for _, p := range c.presenters {
		p.ShowMeasurement(m)
	}
}

// reportUnavailable logs every failed read but only raises an event for the first one
// after a good cycle.
func (c *Controller) reportUnavailable(err error) {
	log.Errorf("Measurement failed: %v", err)
	if c.unavailable {
		return
	}
	c.unavailable = true
	details := map[string]interface{}{"error": err.Error()}
	var unavailable *loadcell.ChannelUnavailableError
	if errors.As(err, &unavailable) {
		details["channel"] = unavailable.Channel.String()
	}
	reportEvent(channelUnavailableEvent, details)
	c.showMessage(fmt.Sprintf("Load cell unavailable: %v", err))
}

func (c *Controller) startCalibration() {
	var channels [loadcell.NumChannels]calibration.Channel
	for i, ch := range c.channels {
		channels[i] = ch
	}
	opts := c.opts.Calibration
	opts.Progress = func(p calibration.Progress) {
		if p.Message != "" {
			c.showMessage(p.Message)
		}
	}
	c.resumeContinuous = c.continuous
	c.continuous = false
	c.menu = menu{}
	log.Info("Starting calibration")
	c.session = calibration.New(channels, opts)
}

// stepCalibration does one unit of automatic calibration work.
func (c *Controller) stepCalibration() {
	if err := c.session.Step(); err != nil {
		log.Errorf("Calibration step failed: %v", err)
	}
	if c.session.State().Finished() {
		c.finishCalibration()
	}
}

func (c *Controller) finishCalibration() {
	s := c.session
	c.session = nil
	c.continuous = c.resumeContinuous
	c.engine.Reset()

	switch s.State() {
	case calibration.Done:
		res := s.Result()
		log.Infof("Calibration done with %.3f kg", res.KnownWeightKg)
		reportEvent(calibratedEvent, map[string]interface{}{
			"knownWeightKg": res.KnownWeightKg,
			"scaleFactors":  res.ScaleFactors[:],
		})
		c.showCalibration()
	case calibration.Failed:
		log.Errorf("Calibration failed: %v", s.Err())
		reportEvent(calibrationFailedEvent, map[string]interface{}{"reason": s.Err().Error()})
	case calibration.Cancelled:
		log.Info("Calibration cancelled")
	}
}

func (c *Controller) debugRaw() string {
	lines := []string{}
	for _, ch := range c.channels {
		raw, err := ch.ReadRaw()
		if err != nil {
			lines = append(lines, fmt.Sprintf("cell %d (%s): %v", ch.ID().Number(), ch.ID(), err))
			continue
		}
		lines = append(lines, fmt.Sprintf("cell %d (%s): raw %d offset %.0f", ch.ID().Number(), ch.ID(), raw, ch.Offset()))
	}
	if c.opts.InputLevels != nil {
		levels := c.opts.InputLevels()
		names := make([]string, 0, len(levels))
		for name := range levels {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			level := "low"
			if levels[name] {
				level = "high"
			}
			lines = append(lines, fmt.Sprintf("%s: %s", name, level))
		}
	}
	text := strings.Join(lines, "\n")
	log.Info("Raw readings:\n", text)
	return text
}

func (c *Controller) scaleFactors() [loadcell.NumChannels]float64 {
	var factors [loadcell.NumChannels]float64
	for i, ch := range c.channels {
		factors[i] = ch.ScaleFactor()
	}
	return factors
}

func (c *Controller) showCalibration() {
	factors := c.scaleFactors()
	correction := c.engine.Correction()
	for _, p := range c.presenters {
		p.ShowCalibration(factors, correction)
	}
}

func (c *Controller) showMessage(msg string) {
	for _, p := range c.presenters {
		p.ShowMessage(msg)
	}
}
