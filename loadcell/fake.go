package loadcell

import "sync"

// FakeSensor is a scripted Sensor for tests and for running without hardware.
// Reads return Value until Values is non-empty, in which case they are consumed in order.
type FakeSensor struct {
	mu       sync.Mutex
	Value    int32
	Values   []int32
	NotReady bool
	Err      error
	Reads    int
}

func (f *FakeSensor) Ready() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}
	return !f.NotReady, nil
}

func (f *FakeSensor) Read() (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	f.Reads++
	if len(f.Values) > 0 {
		v := f.Values[0]
		f.Values = f.Values[1:]
		return v, nil
	}
	return f.Value, nil
}

// Set changes the value returned by later reads.
func (f *FakeSensor) Set(v int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Value = v
	f.Values = nil
}
