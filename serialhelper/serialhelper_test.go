package serialhelper

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleOnPort(t *testing.T) {
	cmdline := "console=serial0,115200 console=tty1 root=PARTUUID=1234-02 rootwait"
	assert.True(t, consoleOnPort(cmdline, "/dev/serial0"))
	assert.True(t, consoleOnPort(cmdline, "/dev/tty1"))
	assert.False(t, consoleOnPort(cmdline, "/dev/ttyUSB0"))
	assert.False(t, consoleOnPort("root=/dev/mmcblk0p2", "/dev/serial0"))
}

func TestGetSerialLocksExclusively(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttyFAKE0")
	require.NoError(t, os.WriteFile(path, nil, 0666))

	f, err := GetSerial(path, 0, time.Millisecond)
	require.NoError(t, err)

	_, err = GetSerial(path, 1, time.Millisecond)
	var unavailable *SerialUnavailableError
	require.True(t, errors.As(err, &unavailable))

	require.NoError(t, ReleaseSerial(f))
	f, err = GetSerial(path, 0, time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, ReleaseSerial(f))
}
