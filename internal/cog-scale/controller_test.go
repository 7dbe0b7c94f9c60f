package scale

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TheCacophonyProject/cog-scale/calibration"
	"github.com/TheCacophonyProject/cog-scale/cog"
	"github.com/TheCacophonyProject/cog-scale/loadcell"
	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPresenter struct {
	measurements []cog.Measurement
	factors      [][loadcell.NumChannels]float64
	messages     []string
}

func (p *recordingPresenter) ShowMeasurement(m cog.Measurement) {
	p.measurements = append(p.measurements, m)
}

func (p *recordingPresenter) ShowCalibration(factors [loadcell.NumChannels]float64, correction float64) {
	p.factors = append(p.factors, factors)
}

func (p *recordingPresenter) ShowMessage(msg string) {
	p.messages = append(p.messages, msg)
}

type controllerRig struct {
	sensors    [loadcell.NumChannels]*loadcell.FakeSensor
	channels   [loadcell.NumChannels]*loadcell.Channel
	controller *Controller
	presenter  *recordingPresenter
	events     []eventclient.Event
}

func newControllerRig(t *testing.T, factor float64) *controllerRig {
	r := &controllerRig{presenter: &recordingPresenter{}}
	opts := loadcell.Options{ReadTimeout: 50 * time.Millisecond, Retries: 0}
	var engineChannels [loadcell.NumChannels]cog.Channel
	for i := range r.sensors {
		r.sensors[i] = &loadcell.FakeSensor{}
		r.channels[i] = loadcell.NewChannel(loadcell.ID(i), r.sensors[i], factor, opts)
		engineChannels[i] = r.channels[i]
	}
	engine, err := cog.NewEngine(engineChannels, cog.DefaultGeometry, 1.0, cog.DefaultUnitsPerKg)
	require.NoError(t, err)
	r.controller = NewController(r.channels, engine, ControllerOptions{
		Interval:    time.Millisecond,
		Continuous:  true,
		Calibration: calibration.DefaultOptions,
	}, r.presenter)

	addEvent = func(e eventclient.Event) error {
		r.events = append(r.events, e)
		return nil
	}
	t.Cleanup(func() { addEvent = eventclient.AddEvent })
	return r
}

func (r *controllerRig) set(values ...int32) {
	for i, v := range values {
		r.sensors[i].Set(v)
	}
}

func (r *controllerRig) factors() []float64 {
	out := []float64{}
	for _, c := range r.channels {
		out = append(out, c.ScaleFactor())
	}
	return out
}

func (r *controllerRig) do(t *testing.T, line string) (string, error) {
	cmd, err := ParseCommand(line)
	require.NoError(t, err, line)
	return r.controller.handle(cmd)
}

func (r *controllerRig) runPendingSteps() {
	for r.controller.session != nil && r.controller.session.Pending() {
		r.controller.stepCalibration()
	}
}

func TestTareAndMeasure(t *testing.T) {
	r := newControllerRig(t, 1000)
	r.set(8000, 8000, 8000, 8000)
	text, err := r.do(t, "t")
	require.NoError(t, err)
	assert.Equal(t, "Tare complete", text)

	r.set(108000, 108000, 108000, 108000)
	for range 5 {
		r.controller.acquire()
	}
	require.Len(t, r.presenter.measurements, 5)
	m := r.controller.measurement
	assert.InDelta(t, 0.40, m.Total, 1e-9)
	assert.Equal(t, 0, m.LateralOffsetMM)
	assert.Equal(t, 125, m.LongitudinalMM)
	assert.Equal(t, 50, m.WingCoGPercent)

	// Tare resets the smoothing windows.
	_, err = r.do(t, "t")
	require.NoError(t, err)
	r.controller.acquire()
	assert.Equal(t, 0.0, r.controller.measurement.Total)
	assert.False(t, r.controller.measurement.Loaded)
}

func TestFailedTareKeepsEveryOffset(t *testing.T) {
	r := newControllerRig(t, 1000)
	r.set(8000, 8000, 8000, 8000)
	_, err := r.do(t, "t")
	require.NoError(t, err)

	r.set(9000, 9000, 9000, 9000)
	r.sensors[loadcell.RR].Err = errors.New("no data")
	_, err = r.do(t, "t")
	require.ErrorIs(t, err, loadcell.ErrChannelUnavailable)
	for _, c := range r.channels {
		assert.Equal(t, 8000.0, c.Offset(), c.ID().String())
	}

	r.sensors[loadcell.RR].Err = nil
	_, err = r.do(t, "t")
	require.NoError(t, err)
	for _, c := range r.channels {
		assert.Equal(t, 9000.0, c.Offset(), c.ID().String())
	}
}

func TestToggleContinuous(t *testing.T) {
	r := newControllerRig(t, 1)
	text, err := r.do(t, "m")
	require.NoError(t, err)
	assert.Equal(t, "Continuous measurement off", text)
	assert.False(t, r.controller.continuous)
	_, err = r.do(t, "measure")
	require.NoError(t, err)
	assert.True(t, r.controller.continuous)
}

func TestSetCorrectionIsOnlyLogged(t *testing.T) {
	r := newControllerRig(t, 1)
	_, err := r.controller.handle(Command{Kind: CmdSetCorrection, Value: -1})
	require.ErrorIs(t, err, ErrInvalidFactor)

	text, err := r.do(t, "cf,1.05")
	require.NoError(t, err)
	assert.Contains(t, text, "1.0500")
	assert.Equal(t, 1.0, r.controller.engine.Correction())
	assert.Equal(t, []float64{1, 1, 1, 1}, r.factors())
}

func TestSetChannelCalibration(t *testing.T) {
	r := newControllerRig(t, 1)
	_, err := r.do(t, "cc,2,1001.5")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1001.5, 1, 1}, r.factors())

	_, err = r.controller.handle(Command{Kind: CmdSetChannelCalibration, Channel: loadcell.LR, Value: 0})
	require.ErrorIs(t, err, ErrInvalidFactor)
	assert.Equal(t, []float64{1, 1001.5, 1, 1}, r.factors())

	text, err := r.do(t, "s")
	require.NoError(t, err)
	assert.Contains(t, text, "cell 2 (RF): 1001.5000")
}

func TestReloadCorrection(t *testing.T) {
	r := newControllerRig(t, 1)
	_, err := r.controller.handle(Command{Kind: cmdReloadCorrection, Value: 1.1})
	require.NoError(t, err)
	assert.Equal(t, 1.1, r.controller.engine.Correction())

	_, err = r.controller.handle(Command{Kind: cmdReloadCorrection, Value: 0})
	require.ErrorIs(t, err, cog.ErrInvalidCorrection)
	assert.Equal(t, 1.1, r.controller.engine.Correction())
}

func TestCalibrationFlow(t *testing.T) {
	r := newControllerRig(t, 1)
	r.set(8000, 8000, 8000, 8000)

	_, err := r.do(t, "c")
	require.NoError(t, err)
	assert.False(t, r.controller.continuous, "no measuring while calibrating")

	_, err = r.do(t, "t")
	require.ErrorIs(t, err, ErrCalibrationActive)
	_, err = r.do(t, "c")
	require.ErrorIs(t, err, ErrCalibrationActive)
	_, err = r.do(t, "w,2")
	require.ErrorIs(t, err, calibration.ErrWrongState)

	_, err = r.do(t, "y")
	require.NoError(t, err)

	r.set(258000, 258000, 258000, 258000)
	_, err = r.do(t, "w,2")
	require.NoError(t, err)
	r.runPendingSteps()

	assert.Nil(t, r.controller.session)
	assert.True(t, r.controller.continuous, "previous mode restored")
	for _, f := range r.factors() {
		assert.InDelta(t, 500.0, f, 1e-9)
	}
	require.Len(t, r.events, 1)
	assert.Equal(t, calibratedEvent, r.events[0].Type)
	assert.Equal(t, 2.0, r.events[0].Details["knownWeightKg"])
	assert.Contains(t, r.presenter.messages, "Calibration complete")
}

func TestDegenerateCalibrationReportsFailure(t *testing.T) {
	r := newControllerRig(t, 1234)
	_, err := r.do(t, "c")
	require.NoError(t, err)
	_, err = r.do(t, "y")
	require.NoError(t, err)
	_, err = r.do(t, "w,1")
	require.NoError(t, err)
	r.runPendingSteps()

	assert.Nil(t, r.controller.session)
	assert.Equal(t, []float64{1234, 1234, 1234, 1234}, r.factors())
	require.Len(t, r.events, 1)
	assert.Equal(t, calibrationFailedEvent, r.events[0].Type)
}

func TestBackCancelsCalibration(t *testing.T) {
	r := newControllerRig(t, 1)
	_, err := r.do(t, "b")
	require.ErrorIs(t, err, ErrNoCalibration)
	_, err = r.do(t, "y")
	require.ErrorIs(t, err, ErrNoCalibration)

	_, err = r.do(t, "m")
	require.NoError(t, err)
	_, err = r.do(t, "c")
	require.NoError(t, err)
	text, err := r.do(t, "b")
	require.NoError(t, err)
	assert.Equal(t, "Calibration cancelled", text)
	assert.Nil(t, r.controller.session)
	assert.False(t, r.controller.continuous)
	assert.Empty(t, r.events)
}

func TestButtonsDriveCalibration(t *testing.T) {
	r := newControllerRig(t, 1)
	press := func(a Action) {
		_, err := r.controller.handle(Command{Kind: CmdButton, Button: a})
		require.NoError(t, err)
	}

	press(ActionMenu)
	assert.Equal(t, "> Measure", r.presenter.messages[len(r.presenter.messages)-1])
	press(ActionNext)
	press(ActionMenu)
	require.NotNil(t, r.controller.session)

	press(ActionTare)
	assert.Equal(t, calibration.AwaitingKnownWeight, r.controller.session.State())
	press(ActionBack)
	assert.Nil(t, r.controller.session)
}

func TestChannelUnavailableEventOnce(t *testing.T) {
	r := newControllerRig(t, 1)
	r.sensors[loadcell.RR].Err = errors.New("no data")

	r.controller.acquire()
	r.controller.acquire()
	assert.Empty(t, r.presenter.measurements)
	require.Len(t, r.events, 1)
	assert.Equal(t, channelUnavailableEvent, r.events[0].Type)
	assert.Equal(t, "RR", r.events[0].Details["channel"])

	r.sensors[loadcell.RR].Err = nil
	r.controller.acquire()
	assert.Len(t, r.presenter.measurements, 1)

	r.sensors[loadcell.LF].Err = errors.New("no data")
	r.controller.acquire()
	assert.Len(t, r.events, 2)
}

func TestDebugRaw(t *testing.T) {
	r := newControllerRig(t, 1)
	r.controller.opts.InputLevels = func() map[string]bool {
		return map[string]bool{"GPIO27": true, "GPIO17": false}
	}
	r.set(10, 20, 30, 40)
	r.sensors[loadcell.LR].Err = errors.New("no data")

	text, err := r.do(t, "r")
	require.NoError(t, err)
	assert.Contains(t, text, "cell 1 (LF): raw 10 offset 0")
	assert.Contains(t, text, "cell 3 (LR): ")
	assert.Contains(t, text, "channel LR unavailable")
	assert.Contains(t, text, "GPIO17: low\nGPIO27: high")
}

func TestRunServesRequests(t *testing.T) {
	r := newControllerRig(t, 1000)
	r.set(400000, 400000, 400000, 400000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.controller.Run(ctx) }()

	text, err := r.controller.Do(ctx, Command{Kind: CmdToggleContinuous})
	require.NoError(t, err)
	assert.Equal(t, "Continuous measurement off", text)

	_, err = r.controller.Do(ctx, Command{Kind: CmdBack})
	assert.ErrorIs(t, err, ErrNoCalibration)

	require.NoError(t, r.controller.ReloadCorrection(ctx, 1.2))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("controller didn't stop")
	}
	assert.Equal(t, 1.2, r.controller.engine.Correction())

	// Nothing is listening any more.
	assert.False(t, r.controller.TryDo(Command{Kind: CmdTare}))
}
