package serialhelper

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/tarm/serial"
)

var log = logging.NewLogger("info")

const cmdlineFile = "/boot/firmware/cmdline.txt"

type SerialUnavailableError struct {
	msg string
}

func (e *SerialUnavailableError) Error() string {
	return e.msg
}

func NewSerialUnavailableError(msg string) error {
	return &SerialUnavailableError{msg: msg}
}

// SerialInUseFromTerminal checks if the kernel console is set to the given port.
func SerialInUseFromTerminal(portName string) bool {
	b, err := os.ReadFile(cmdlineFile)
	if err != nil {
		log.Printf("Error when reading %s: %s", cmdlineFile, err)
		return false
	}
	return consoleOnPort(string(b), portName)
}

func consoleOnPort(cmdline, portName string) bool {
	base := filepath.Base(portName)
	for _, field := range strings.Fields(cmdline) {
		if !strings.HasPrefix(field, "console=") {
			continue
		}
		dev := strings.SplitN(strings.TrimPrefix(field, "console="), ",", 2)[0]
		if dev == base {
			return true
		}
	}
	return false
}

// Port is a serial port held with an exclusive lock on its device file.
type Port struct {
	*serial.Port
	lockFile *os.File
}

func (p *Port) Close() error {
	err := p.Port.Close()
	if lockErr := ReleaseSerial(p.lockFile); err == nil {
		err = lockErr
	}
	return err
}

// Open locks the port and opens it with the given baud rate. Reads block until data arrives.
func Open(portName string, baud, retries int, wait time.Duration) (*Port, error) {
	lockFile, err := GetSerial(portName, retries, wait)
	if err != nil {
		return nil, err
	}
	port, err := serial.OpenPort(&serial.Config{Name: portName, Baud: baud})
	if err != nil {
		ReleaseSerial(lockFile)
		return nil, err
	}
	log.Infof("Opened %s at %d baud", portName, baud)
	return &Port{Port: port, lockFile: lockFile}, nil
}

// GetSerial will try to get a file lock on the serial port.
// defer ReleaseSerial(serialFile) should be called to release the lock and close the serial file.
func GetSerial(portName string, retries int, wait time.Duration) (*os.File, error) {
	if SerialInUseFromTerminal(portName) {
		return nil, NewSerialUnavailableError("serial is in use by the terminal console")
	}

	serialFile, err := os.OpenFile(portName, os.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}
	lockAcquired := false
	defer func() {
		if !lockAcquired {
			serialFile.Close()
		}
	}()

	i := retries
	for {
		err = syscall.Flock(int(serialFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			lockAcquired = true
			return serialFile, nil
		}

		errno, ok := err.(syscall.Errno)
		if !ok || errno != syscall.EWOULDBLOCK {
			return nil, err
		}

		process, err := getLockingProcess(portName)
		if err != nil {
			log.Printf("Error checking locking process: %v", err)
		} else if process != "" {
			log.Printf("Serial port is locked by process: %s", process)
		}

		if i <= 0 {
			return nil, NewSerialUnavailableError("failed to get lock on serial, might be in use by other process")
		}
		log.Printf("Serial port is locked by another process. Retrying %d more times in %s...", i, wait)
		time.Sleep(wait)
		i--
	}
}

func getLockingProcess(serialPath string) (string, error) {
	// Run `fuser` to check which process is using the file
	cmd := exec.Command("fuser", serialPath)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	err := cmd.Run()
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok && exitError.ExitCode() == 1 {
			// Exit code 1 from `fuser` means no process is using the file
			return "", nil
		}
		return "", fmt.Errorf("failed to execute fuser: %v", err)
	}
	return output.String(), nil
}

func ReleaseSerial(serialFile *os.File) error {
	defer serialFile.Close()
	return syscall.Flock(int(serialFile.Fd()), syscall.LOCK_UN)
}
