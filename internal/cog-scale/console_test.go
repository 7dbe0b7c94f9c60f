package scale

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/TheCacophonyProject/cog-scale/cog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePort struct {
	in  *strings.Reader
	out bytes.Buffer
}

func (p *fakePort) Read(b []byte) (int, error) {
	return p.in.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	return p.out.Write(b)
}

type fakeRunner struct {
	commands []Command
	err      error
}

func (r *fakeRunner) Do(_ context.Context, cmd Command) (string, error) {
	r.commands = append(r.commands, cmd)
	if r.err != nil {
		return "", r.err
	}
	return "done " + cmd.Kind.String(), nil
}

func TestConsoleRunsLines(t *testing.T) {
	port := &fakePort{in: strings.NewReader("t\r\n\r\ncc,2,1001.5\r\nbogus\r\ncf,-1\r\n")}
	runner := &fakeRunner{}

	require.NoError(t, newConsole(port).run(context.Background(), runner))

	require.Len(t, runner.commands, 2)
	assert.Equal(t, CmdTare, runner.commands[0].Kind)
	assert.Equal(t, CmdSetChannelCalibration, runner.commands[1].Kind)

	lines := strings.Split(strings.TrimSuffix(port.out.String(), "\r\n"), "\r\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "done tare-now", lines[0])
	assert.Equal(t, "done set-channel-calibration", lines[1])
	assert.Contains(t, lines[2], ErrUnrecognizedCommand.Error())
	assert.Equal(t, "Error: "+ErrInvalidFactor.Error(), lines[3])
}

func TestConsoleReportsControllerErrors(t *testing.T) {
	runner := &fakeRunner{err: errors.New("calibration in progress")}
	assert.Equal(t, "Error: calibration in progress", execute(context.Background(), runner, "t"))
}

func TestConsolePresenter(t *testing.T) {
	port := &fakePort{in: strings.NewReader("")}
	c := newConsole(port)
	c.ShowMessage("Raw readings\ncell 1")
	c.ShowMeasurement(cog.Measurement{Total: 0.4, Loaded: true})
	c.ShowCalibration([4]float64{1, 2, 3, 4}, 1.5)

	lines := strings.Split(strings.TrimSuffix(port.out.String(), "\r\n"), "\r\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Raw readings", lines[0])
	assert.True(t, strings.HasPrefix(lines[2], "$COG,"))
	_, err := checkTelemetryFrame(lines[2])
	assert.NoError(t, err)
	assert.Contains(t, lines[3], "correction: 1.5000")
}
