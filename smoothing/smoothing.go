package smoothing

// DefaultSize is the number of cycles averaged per channel.
const DefaultSize = 5

// Filter holds one rolling window per channel. All windows are written at the same index,
// which the caller owns and advances once per acquisition cycle, so slot i of every window
// belongs to the same cycle.
type Filter struct {
	windows [][]float64
}

func NewFilter(channels, size int) *Filter {
	if size <= 0 {
		size = DefaultSize
	}
	windows := make([][]float64, channels)
	for i := range windows {
		windows[i] = make([]float64, size)
	}
	return &Filter{windows: windows}
}

func (f *Filter) Size() int {
	if len(f.windows) == 0 {
		return 0
	}
	return len(f.windows[0])
}

// Update stores value in slot index of the channel's window and returns the mean of the
// whole window. Slots not yet written count as zero.
func (f *Filter) Update(channel, index int, value float64) float64 {
	w := f.windows[channel]
	w[index%len(w)] = value
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	return sum / float64(len(w))
}

// Reset zero-fills every window.
func (f *Filter) Reset() {
	for _, w := range f.windows {
		for i := range w {
			w[i] = 0
		}
	}
}
