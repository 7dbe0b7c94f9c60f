package cog

import (
	"errors"

	"github.com/TheCacophonyProject/cog-scale/loadcell"
	"github.com/TheCacophonyProject/go-utils/logging"
)

var log = logging.NewLogger("info")

// SetLogger replaces the package logger.
func SetLogger(l *logging.Logger) {
	log = l
}

// Geometry is the fixed layout of the platform. The front pair of load cells sits on the
// leading-edge reference line, the rear pair BaseLengthMM behind it, and each pair is
// BaseWidthMM apart, centred on the platform axis.
type Geometry struct {
	BaseWidthMM   float64 `mapstructure:"base-width-mm"`
	BaseLengthMM  float64 `mapstructure:"base-length-mm"`
	WingPegSpanMM float64 `mapstructure:"wing-peg-span-mm"`
}

var DefaultGeometry = Geometry{
	BaseWidthMM:   270,
	BaseLengthMM:  250,
	WingPegSpanMM: 250,
}

var ErrInvalidGeometry = errors.New("base width and length must be positive")

func (g Geometry) Validate() error {
	if g.BaseWidthMM <= 0 || g.BaseLengthMM <= 0 {
		return ErrInvalidGeometry
	}
	return nil
}

// Position returns the lateral (positive to the right) and longitudinal (positive
// rearward) position of a channel in millimetres.
func (g Geometry) Position(id loadcell.ID) (x, y float64) {
	switch id {
	case loadcell.LF:
		return -g.BaseWidthMM / 2, 0
	case loadcell.RF:
		return g.BaseWidthMM / 2, 0
	case loadcell.LR:
		return -g.BaseWidthMM / 2, g.BaseLengthMM
	case loadcell.RR:
		return g.BaseWidthMM / 2, g.BaseLengthMM
	}
	return 0, 0
}
