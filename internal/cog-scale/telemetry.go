package scale

import (
	"fmt"

	"github.com/TheCacophonyProject/cog-scale/cog"
	"github.com/TheCacophonyProject/cog-scale/loadcell"
	"github.com/sigurn/crc8"
)

var telemetryCRCTable = crc8.MakeTable(crc8.Params{
	Poly:   0x31,
	Init:   0xFF,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
})

// telemetryFrame formats a measurement as
// $COG,<lf>,<rf>,<lr>,<rr>,<total>,<lateral>,<longitudinal>,<percent>*HH
// with HH the CRC-8 of the text between '$' and '*'.
func telemetryFrame(m cog.Measurement) string {
	body := fmt.Sprintf("COG,%.2f,%.2f,%.2f,%.2f,%.2f,%d,%d,%d",
		m.Weights[loadcell.LF], m.Weights[loadcell.RF], m.Weights[loadcell.LR], m.Weights[loadcell.RR],
		m.Total, m.LateralOffsetMM, m.LongitudinalMM, m.WingCoGPercent)
	return fmt.Sprintf("$%s*%02X", body, crc8.Checksum([]byte(body), telemetryCRCTable))
}
