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
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// Extra clock pulses after the 24 data bits select the gain and input of the next conversion.
const (
	HX711GainA128 = 1
	HX711GainB32  = 2
	HX711GainA64  = 3
)

const hx711ClockHalfPeriod = time.Microsecond

// HX711 drives an HX711 load cell amplifier over two GPIO pins.
type HX711 struct {
	data       gpio.PinIO
	clock      gpio.PinIO
	gainPulses int
}

// NewHX711 configures the named pins. DOUT is an input, SCK is driven low to keep the chip on.
func NewHX711(dataPin, clockPin string, gainPulses int) (*HX711, error) {
	data := gpioreg.ByName(dataPin)
	if data == nil {
		return nil, fmt.Errorf("GPIO pin %s not found", dataPin)
	}
	clock := gpioreg.ByName(clockPin)
	if clock == nil {
		return nil, fmt.Errorf("GPIO pin %s not found", clockPin)
	}
	return newHX711(data, clock, gainPulses)
}

func newHX711(data, clock gpio.PinIO, gainPulses int) (*HX711, error) {
	if err := data.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, err
	}
	if err := clock.Out(gpio.Low); err != nil {
		return nil, err
	}
	if gainPulses < HX711GainA128 || gainPulses > HX711GainA64 {
		gainPulses = HX711GainA128
	}
	return &HX711{data: data, clock: clock, gainPulses: gainPulses}, nil
}

// Ready is true when DOUT is pulled low by the chip.
func (h *HX711) Ready() (bool, error) {
	return h.data.Read() == gpio.Low, nil
}

// Read clocks out one 24 bit conversion, MSB first.
func (h *HX711) Read() (int32, error) {
	var raw uint32
	for range 24 {
		if err := h.pulse(); err != nil {
			return 0, err
		}
		raw <<= 1
		if h.data.Read() == gpio.High {
			raw |= 1
		}
	}
	for range h.gainPulses {
		if err := h.pulse(); err != nil {
			return 0, err
		}
	}
	return signExtend24(raw), nil
}

// pulse spins rather than sleeps. A timer sleep can overshoot past 60us with SCK high,
// which powers the chip down in the middle of a read.
func (h *HX711) pulse() error {
	if err := h.clock.Out(gpio.High); err != nil {
		return err
	}
	spin(hx711ClockHalfPeriod)
	if err := h.clock.Out(gpio.Low); err != nil {
		return err
	}
	spin(hx711ClockHalfPeriod)
	return nil
}

func spin(d time.Duration) {
	start := time.Now()
	for time.Since(start) < d {
	}
}

// PowerDown holds SCK high, the chip powers down after 60us.
func (h *HX711) PowerDown() error {
	return h.clock.Out(gpio.High)
}

// DataLevel returns the raw DOUT level, used for diagnostics.
func (h *HX711) DataLevel() gpio.Level {
	return h.data.Read()
}

func signExtend24(raw uint32) int32 {
	raw &= 0xFFFFFF
	if raw&0x800000 != 0 {
		return int32(raw | 0xFF000000)
	}
	return int32(raw)
}
