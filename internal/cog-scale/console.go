package scale

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/TheCacophonyProject/cog-scale/cog"
	"github.com/TheCacophonyProject/cog-scale/loadcell"
)

type commandRunner interface {
	Do(ctx context.Context, cmd Command) (string, error)
}

// console is the line based serial console. It reads commands and writes replies, messages
// and telemetry frames, all terminated with "\r\n".
type console struct {
	port io.ReadWriter
	mu   sync.Mutex
}

func newConsole(port io.ReadWriter) *console {
	return &console{port: port}
}

func (c *console) ShowMeasurement(m cog.Measurement) {
	c.writeLine(telemetryFrame(m))
}

func (c *console) ShowCalibration(factors [loadcell.NumChannels]float64, correction float64) {
	c.writeLine(calibrationText(factors, correction))
}

func (c *console) ShowMessage(msg string) {
	c.writeLine(msg)
}

func (c *console) writeLine(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range strings.Split(text, "\n") {
		if _, err := io.WriteString(c.port, line+"\r\n"); err != nil {
			log.Errorf("Failed to write to serial console: %v", err)
			return
		}
	}
}

// run handles lines until the port is closed.
func (c *console) run(ctx context.Context, runner commandRunner) error {
	scanner := bufio.NewScanner(c.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		log.Debugf("Serial command '%s'", line)
		c.writeLine(execute(ctx, runner, line))
		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

// execute parses and runs a console line, returning the text to send back.
func execute(ctx context.Context, runner commandRunner, line string) string {
	cmd, err := ParseCommand(line)
	if err != nil {
		return "Error: " + err.Error()
	}
	text, err := runner.Do(ctx, cmd)
	if err != nil {
		return "Error: " + err.Error()
	}
	if text == "" {
		return "OK"
	}
	return text
}
