package scale

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/TheCacophonyProject/cog-scale/cog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceMeasurement(t *testing.T) {
	view := &measurementView{}
	s := &service{runner: &fakeRunner{}, view: view}
	view.ShowMeasurement(cog.Measurement{Weights: [4]float64{0.1, 0.1, 0.1, 0.1}, Total: 0.4, Loaded: true, LongitudinalMM: 125, WingCoGPercent: 50})
	view.ShowCalibration([4]float64{1001, 999, -1000, 1002}, 1.01)

	text, derr := s.Measurement()
	require.Nil(t, derr)
	var m cog.Measurement
	require.NoError(t, json.Unmarshal([]byte(text), &m))
	assert.Equal(t, 0.4, m.Total)
	assert.Equal(t, 50, m.WingCoGPercent)

	factors, derr := s.ScaleFactors()
	require.Nil(t, derr)
	assert.Equal(t, []float64{1001, 999, -1000, 1002}, factors)
}

func TestServiceCommand(t *testing.T) {
	runner := &fakeRunner{}
	s := &service{runner: runner, view: &measurementView{}}

	text, derr := s.Command("w,2")
	require.Nil(t, derr)
	assert.Equal(t, "done known-weight", text)
	require.Len(t, runner.commands, 1)
	assert.Equal(t, 2.0, runner.commands[0].Value)

	_, derr = s.Command("cc,9,100")
	require.NotNil(t, derr)
	assert.True(t, strings.HasPrefix(derr.Name, dbusName+"."))
	assert.Equal(t, []interface{}{ErrInvalidCellNumber.Error()}, derr.Body)
	assert.Len(t, runner.commands, 1)
}
