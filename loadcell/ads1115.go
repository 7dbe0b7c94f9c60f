package loadcell

import (
	"fmt"

	"github.com/TheCacophonyProject/cog-scale/i2crequest"
)

const (
	ads1115ConversionReg = 0x00
	ads1115ConfigReg     = 0x01

	ads1115OS = 1 << 15
	// AIN0-AIN1 differential, PGA +-0.256V, single-shot, 128SPS, comparator disabled.
	ads1115SingleShotConfig = ads1115OS | 0<<12 | 5<<9 | 1<<8 | 4<<5 | 0x03

	ads1115TxTimeoutMs = 100
)

// ADS1115 reads a bridge amplifier through an ADS1115 ADC on the shared I2C bus.
// Each conversion is started on demand, Ready polls the OS bit of the config register.
type ADS1115 struct {
	address    byte
	converting bool
}

func NewADS1115(address byte) (*ADS1115, error) {
	if address < 0x48 || address > 0x4B {
		return nil, fmt.Errorf("invalid ADS1115 address 0x%X", address)
	}
	return &ADS1115{address: address}, nil
}

func (a *ADS1115) Ready() (bool, error) {
	if !a.converting {
		if err := a.startConversion(); err != nil {
			return false, err
		}
		return false, nil
	}
	config, err := i2crequest.Tx(a.address, []byte{ads1115ConfigReg}, 2, ads1115TxTimeoutMs)
	if err != nil {
		return false, err
	}
	if len(config) != 2 {
		return false, fmt.Errorf("config read length: %d", len(config))
	}
	return config[0]&(ads1115OS>>8) != 0, nil
}

func (a *ADS1115) Read() (int32, error) {
	a.converting = false
	data, err := i2crequest.Tx(a.address, []byte{ads1115ConversionReg}, 2, ads1115TxTimeoutMs)
	if err != nil {
		return 0, err
	}
	if len(data) != 2 {
		return 0, fmt.Errorf("conversion read length: %d", len(data))
	}
	return int32(int16(uint16(data[0])<<8 | uint16(data[1]))), nil
}

func (a *ADS1115) startConversion() error {
	write := []byte{ads1115ConfigReg, byte(ads1115SingleShotConfig >> 8), byte(ads1115SingleShotConfig & 0xFF)}
	if _, err := i2crequest.Tx(a.address, write, 0, ads1115TxTimeoutMs); err != nil {
		return err
	}
	a.converting = true
	return nil
}
