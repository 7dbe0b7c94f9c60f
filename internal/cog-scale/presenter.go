package scale

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/TheCacophonyProject/cog-scale/cog"
	"github.com/TheCacophonyProject/cog-scale/loadcell"
)

// Presenter receives read-only results from the controller. Calls are made from the
// controller goroutine so implementations must not block for long.
type Presenter interface {
	ShowMeasurement(m cog.Measurement)
	ShowCalibration(factors [loadcell.NumChannels]float64, correction float64)
	ShowMessage(msg string)
}

func calibrationText(factors [loadcell.NumChannels]float64, correction float64) string {
	parts := make([]string, 0, loadcell.NumChannels+1)
	for i, f := range factors {
		parts = append(parts, fmt.Sprintf("cell %d (%s): %.4f", i+1, loadcell.ID(i), f))
	}
	parts = append(parts, fmt.Sprintf("correction: %.4f", correction))
	return strings.Join(parts, ", ")
}

type logPresenter struct{}

func (logPresenter) ShowMeasurement(m cog.Measurement) {
	log.Debug(m.String())
}

func (logPresenter) ShowCalibration(factors [loadcell.NumChannels]float64, correction float64) {
	log.Info("Calibration: ", calibrationText(factors, correction))
}

func (logPresenter) ShowMessage(msg string) {
	log.Info(msg)
}

// measurementView keeps the latest values for the dbus service to read.
type measurementView struct {
	mu          sync.RWMutex
	measurement cog.Measurement
	factors     [loadcell.NumChannels]float64
	correction  float64
}

func (v *measurementView) ShowMeasurement(m cog.Measurement) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.measurement = m
}

func (v *measurementView) ShowCalibration(factors [loadcell.NumChannels]float64, correction float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.factors = factors
	v.correction = correction
}

func (v *measurementView) ShowMessage(string) {}

func (v *measurementView) Measurement() cog.Measurement {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.measurement
}

func (v *measurementView) MeasurementJSON() (string, error) {
	b, err := json.Marshal(v.Measurement())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (v *measurementView) ScaleFactors() []float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]float64{}, v.factors[:]...)
}
