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

package loadcell

import (
	"errors"
	"fmt"
	"time"

	"github.com/TheCacophonyProject/go-utils/logging"
)

var log = logging.NewLogger("info")

// SetLogger replaces the package logger, used so the log level follows the command line.
func SetLogger(l *logging.Logger) {
	log = l
}

// ID identifies the corner of the platform a channel sits under.
type ID int

const (
	LF ID = iota // left front
	RF           // right front
	LR           // left rear
	RR           // right rear
)

// NumChannels is the number of load cells on the platform.
const NumChannels = 4

// IDs lists the channels in acquisition order.
var IDs = [NumChannels]ID{LF, RF, LR, RR}

func (id ID) String() string {
	switch id {
	case LF:
		return "LF"
	case RF:
		return "RF"
	case LR:
		return "LR"
	case RR:
		return "RR"
	}
	return fmt.Sprintf("ID(%d)", int(id))
}

// Number is the 1 based channel number shown to the operator.
func (id ID) Number() int {
	return int(id) + 1
}

// IDFromNumber converts a 1 based channel number to an ID.
func IDFromNumber(n int) (ID, bool) {
	if n < 1 || n > NumChannels {
		return 0, false
	}
	return ID(n - 1), true
}

// Sensor is the amplifier driver behind a channel.
type Sensor interface {
	// Ready reports whether a new conversion can be read.
	Ready() (bool, error)
	// Read returns the latest conversion in raw counts.
	Read() (int32, error)
}

var (
	ErrChannelUnavailable = errors.New("channel unavailable")
	ErrZeroScaleFactor    = errors.New("scale factor must not be zero")
	ErrNoSamples          = errors.New("sample count must be positive")
)

// ChannelUnavailableError is returned when a sensor did not produce data in time.
type ChannelUnavailableError struct {
	Channel ID
	Err     error
}

func (e *ChannelUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("channel %s unavailable: %v", e.Channel, e.Err)
	}
	return fmt.Sprintf("channel %s unavailable", e.Channel)
}

func (e *ChannelUnavailableError) Is(target error) bool {
	return target == ErrChannelUnavailable
}

func (e *ChannelUnavailableError) Unwrap() error {
	return e.Err
}

var errNotReady = errors.New("sensor not ready")

// Options control how long a channel waits on its sensor.
type Options struct {
	ReadTimeout time.Duration
	Retries     int
	Backoff     time.Duration
}

var DefaultOptions = Options{
	ReadTimeout: 500 * time.Millisecond,
	Retries:     2,
	Backoff:     20 * time.Millisecond,
}

var (
	sleepFn = time.Sleep
	nowFn   = time.Now
)

const pollInterval = time.Millisecond

// Channel is one load cell with its tare offset and scale factor.
type Channel struct {
	id          ID
	sensor      Sensor
	scaleFactor float64
	offset      float64
	opts        Options
}

// NewChannel returns a channel with a zero offset. A zero scale factor is replaced by 1.
func NewChannel(id ID, sensor Sensor, scaleFactor float64, opts Options) *Channel {
	if scaleFactor == 0 {
		scaleFactor = 1
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultOptions.ReadTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Channel{
		id:          id,
		sensor:      sensor,
		scaleFactor: scaleFactor,
		opts:        opts,
	}
}

func (c *Channel) ID() ID {
	return c.id
}

func (c *Channel) ScaleFactor() float64 {
	return c.scaleFactor
}

func (c *Channel) Offset() float64 {
	return c.offset
}

// SetScaleFactor sets the raw to unit divisor. No range check is made beyond non-zero.
func (c *Channel) SetScaleFactor(f float64) error {
	if f == 0 {
		return ErrZeroScaleFactor
	}
	c.scaleFactor = f
	return nil
}

// ReadRaw returns a single sample, waiting at most the read timeout for the sensor and
// retrying with backoff before giving up.
func (c *Channel) ReadRaw() (int32, error) {
	var err error
	backoff := c.opts.Backoff
	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		var raw int32
		raw, err = c.readOnce()
		if err == nil {
			return raw, nil
		}
		if attempt < c.opts.Retries {
			log.Debugf("Channel %s read failed, retrying %d more times: %v", c.id, c.opts.Retries-attempt, err)
			sleepFn(backoff)
			backoff *= 2
		}
	}
	return 0, &ChannelUnavailableError{Channel: c.id, Err: err}
}

func (c *Channel) readOnce() (int32, error) {
	deadline := nowFn().Add(c.opts.ReadTimeout)
	for {
		ready, err := c.sensor.Ready()
		if err != nil {
			return 0, err
		}
		if ready {
			return c.sensor.Read()
		}
		if nowFn().After(deadline) {
			return 0, errNotReady
		}
		sleepFn(pollInterval)
	}
}

// ReadAverage returns the mean of n raw samples.
func (c *Channel) ReadAverage(n int) (float64, error) {
	if n <= 0 {
		return 0, ErrNoSamples
	}
	var sum int64
	for range n {
		raw, err := c.ReadRaw()
		if err != nil {
			return 0, err
		}
		sum += int64(raw)
	}
	return float64(sum) / float64(n), nil
}

// ReadValue returns the mean of n samples relative to the tare offset.
func (c *Channel) ReadValue(n int) (float64, error) {
	avg, err := c.ReadAverage(n)
	if err != nil {
		return 0, err
	}
	return avg - c.offset, nil
}

// ReadAveraged returns the mean of n samples converted with the tare offset and scale factor.
func (c *Channel) ReadAveraged(n int) (float64, error) {
	v, err := c.ReadValue(n)
	if err != nil {
		return 0, err
	}
	return v / c.scaleFactor, nil
}

// SetOffset sets the zero offset in raw counts, normally an average taken with ReadAverage.
func (c *Channel) SetOffset(offset float64) {
	c.offset = offset
	log.Debugf("Channel %s tare offset %.1f", c.id, offset)
}
