package i2crequest

import (
	"errors"
	"sync"

	"github.com/godbus/dbus"
)

const (
	dbusName = "org.cacophony.i2c"
	dbusPath = "/org/cacophony/i2c"
)

// TxResponse is a scripted reply used by MockTxResponses.
type TxResponse struct {
	Response []byte
	Err      error
}

var (
	mockMu        sync.Mutex
	mockEnabled   bool
	mockResponses []TxResponse
	mockWrites    [][]byte
)

var errNoMockResponse = errors.New("no mock i2c response left")

// MockTxResponses makes Tx return the given responses in order instead of talking to the
// i2c service. Passing nil restores normal operation.
func MockTxResponses(responses []TxResponse) {
	mockMu.Lock()
	defer mockMu.Unlock()
	mockEnabled = responses != nil
	mockResponses = responses
	mockWrites = nil
}

// MockWrites returns the write payloads seen while mocking.
func MockWrites() [][]byte {
	mockMu.Lock()
	defer mockMu.Unlock()
	return mockWrites
}

func mockTx(write []byte) (TxResponse, bool) {
	mockMu.Lock()
	defer mockMu.Unlock()
	if !mockEnabled {
		return TxResponse{}, false
	}
	mockWrites = append(mockWrites, append([]byte{}, write...))
	if len(mockResponses) == 0 {
		return TxResponse{Err: errNoMockResponse}, true
	}
	r := mockResponses[0]
	mockResponses = mockResponses[1:]
	return r, true
}

// Tx writes to and then reads readLen bytes from the device at address through the
// i2c dbus service. timeout is in milliseconds.
func Tx(address byte, write []byte, readLen, timeout int) ([]byte, error) {
	if r, ok := mockTx(write); ok {
		return r.Response, r.Err
	}

	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	obj := conn.Object(dbusName, dbusPath)

	var response []byte
	if err := obj.Call(dbusName+".Tx", 0, address, write, readLen, timeout).Store(&response); err != nil {
		return nil, err
	}

	return response, nil
}

func CheckAddress(address byte, timeout int) error {
	_, err := Tx(address, []byte{0x00}, 1, timeout)
	return err
}
