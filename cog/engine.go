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

package cog

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/TheCacophonyProject/cog-scale/loadcell"
	"github.com/TheCacophonyProject/cog-scale/smoothing"
)

const (
	// MinLoadKg is the total weight at or below which no centre of gravity is reported.
	MinLoadKg = 0.01
	// CycleSamples is the number of samples averaged per channel each cycle.
	CycleSamples = 2
	// DefaultUnitsPerKg is used when scale factors convert counts to grams.
	DefaultUnitsPerKg = 1000.0
)

var ErrInvalidCorrection = errors.New("correction multiplier must be positive")

var nowFn = time.Now

// Channel is the part of a load cell the engine reads from.
type Channel interface {
	ReadAveraged(n int) (float64, error)
}

// Measurement is the result of one acquisition cycle.
type Measurement struct {
	Weights         [loadcell.NumChannels]float64 `json:"weights"`
	Total           float64                       `json:"total"`
	Loaded          bool                          `json:"loaded"`
	LateralOffsetMM int                           `json:"lateralOffsetMM"`
	LongitudinalMM  int                           `json:"longitudinalMM"`
	WingCoGPercent  int                           `json:"wingCoGPercent"`
	Cycle           uint64                        `json:"cycle"`
	Time            time.Time                     `json:"time"`
}

func (m Measurement) String() string {
	if !m.Loaded {
		return fmt.Sprintf("LF %.2f RF %.2f LR %.2f RR %.2f total %.2f kg, no load",
			m.Weights[loadcell.LF], m.Weights[loadcell.RF], m.Weights[loadcell.LR], m.Weights[loadcell.RR], m.Total)
	}
	return fmt.Sprintf("LF %.2f RF %.2f LR %.2f RR %.2f total %.2f kg, CoG %d mm (%d%%), lateral %+d mm",
		m.Weights[loadcell.LF], m.Weights[loadcell.RF], m.Weights[loadcell.LR], m.Weights[loadcell.RR], m.Total,
		m.LongitudinalMM, m.WingCoGPercent, m.LateralOffsetMM)
}

// Engine turns four channel readings into a Measurement.
type Engine struct {
	channels   [loadcell.NumChannels]Channel
	filter     *smoothing.Filter
	index      int
	cycle      uint64
	geometry   Geometry
	correction float64
	unitsPerKg float64
}

// NewEngine takes the channels in LF, RF, LR, RR order.
func NewEngine(channels [loadcell.NumChannels]Channel, geometry Geometry, correction, unitsPerKg float64) (*Engine, error) {
	if correction <= 0 || math.IsNaN(correction) || math.IsInf(correction, 0) {
		return nil, ErrInvalidCorrection
	}
	if unitsPerKg <= 0 {
		unitsPerKg = DefaultUnitsPerKg
	}
	for i, c := range channels {
		if c == nil {
			return nil, fmt.Errorf("channel %s not set", loadcell.ID(i))
		}
	}
	return &Engine{
		channels:   channels,
		filter:     smoothing.NewFilter(loadcell.NumChannels, smoothing.DefaultSize),
		geometry:   geometry,
		correction: correction,
		unitsPerKg: unitsPerKg,
	}, nil
}

func (e *Engine) Geometry() Geometry {
	return e.geometry
}

func (e *Engine) Correction() float64 {
	return e.correction
}

func (e *Engine) UnitsPerKg() float64 {
	return e.unitsPerKg
}

// SetCorrection replaces the global correction multiplier applied after each channel's
// own scale factor.
func (e *Engine) SetCorrection(f float64) error {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return ErrInvalidCorrection
	}
	e.correction = f
	return nil
}

// Reset clears the smoothing history, needed after a tare.
func (e *Engine) Reset() {
	e.filter.Reset()
	e.index = 0
}

// RunCycle reads every channel once, smooths and rounds the weights and computes the centre
// of gravity. If a channel can't be read the cycle is dropped and the smoothing phase is
// left where it was.
func (e *Engine) RunCycle() (Measurement, error) {
	var corrected [loadcell.NumChannels]float64
	for i, c := range e.channels {
		units, err := c.ReadAveraged(CycleSamples)
		if err != nil {
			return Measurement{}, err
		}
		corrected[i] = units / e.unitsPerKg * e.correction
	}

	m := Measurement{Time: nowFn()}
	for i, w := range corrected {
		m.Weights[i] = RoundTo(e.filter.Update(i, e.index, w), 2)
		m.Total += m.Weights[i]
	}
	e.index = (e.index + 1) % e.filter.Size()
	e.cycle++
	m.Cycle = e.cycle
	m.Total = RoundTo(m.Total, 2)

	if m.Total <= MinLoadKg {
		log.Debugf("Cycle %d: insufficient load (%.2f kg)", m.Cycle, m.Total)
		return m, nil
	}
	m.Loaded = true
	lateral, longitudinal := Centroid(m.Weights, e.geometry)
	m.LateralOffsetMM = int(RoundTo(lateral, 0))
	m.LongitudinalMM = int(RoundTo(longitudinal, 0))
	m.WingCoGPercent = WingPercent(float64(m.LongitudinalMM), e.geometry.WingPegSpanMM)
	log.Debugf("Cycle %d: %s", m.Cycle, m)
	return m, nil
}

// Centroid returns the weighted mean position of the load on each axis in millimetres.
// It returns zeros when the total weight isn't positive.
func Centroid(weights [loadcell.NumChannels]float64, g Geometry) (lateral, longitudinal float64) {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 0, 0
	}
	for i, w := range weights {
		x, y := g.Position(loadcell.ID(i))
		lateral += w * x
		longitudinal += w * y
	}
	return lateral / total, longitudinal / total
}

// WingPercent expresses a longitudinal position as a percentage of the span, rounded.
// A span that isn't positive gives 0.
func WingPercent(longitudinalMM, spanMM float64) int {
	if spanMM <= 0 {
		return 0
	}
	return int(RoundTo(longitudinalMM/spanMM*100, 0))
}

// RoundTo rounds x to the given number of decimal places, halves away from zero.
func RoundTo(x float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(x*p) / p
}
