package scale

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/TheCacophonyProject/cog-scale/cog"
	"github.com/TheCacophonyProject/cog-scale/loadcell"
	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rjeczalik/notify"
)

const scaleConfigKey = "cog-scale"

const (
	DriverHX711   = "hx711"
	DriverADS1115 = "ads1115"
	DriverFake    = "fake"
)

type ButtonPins struct {
	Tare string `mapstructure:"tare"`
	Menu string `mapstructure:"menu"`
	Next string `mapstructure:"next"`
	Back string `mapstructure:"back"`
}

func (b ButtonPins) configured() bool {
	return b.Tare != "" || b.Menu != "" || b.Next != "" || b.Back != ""
}

type ScaleConfig struct {
	Driver               string        `mapstructure:"driver"`
	DataPins             []string      `mapstructure:"data-pins"`
	ClockPins            []string      `mapstructure:"clock-pins"`
	GainPulses           int           `mapstructure:"gain-pulses"`
	I2CAddresses         []int         `mapstructure:"i2c-addresses"`
	ButtonPins           ButtonPins    `mapstructure:"button-pins"`
	ScaleFactors         []float64     `mapstructure:"scale-factors"`
	CorrectionMultiplier float64       `mapstructure:"correction-multiplier"`
	UnitsPerKg           float64       `mapstructure:"units-per-kg"`
	Geometry             cog.Geometry  `mapstructure:",squash"`
	Interval             time.Duration `mapstructure:"interval"`
	ReadTimeout          time.Duration `mapstructure:"read-timeout"`
	ReadRetries          int           `mapstructure:"read-retries"`
	SerialPort           string        `mapstructure:"serial-port"`
	Baud                 int           `mapstructure:"baud"`
	Continuous           bool          `mapstructure:"continuous"`
}

func DefaultScaleConfig() ScaleConfig {
	return ScaleConfig{
		Driver:               DriverHX711,
		DataPins:             []string{"GPIO5", "GPIO6", "GPIO13", "GPIO19"},
		ClockPins:            []string{"GPIO12", "GPIO16", "GPIO20", "GPIO21"},
		GainPulses:           loadcell.HX711GainA128,
		I2CAddresses:         []int{0x48, 0x49, 0x4A, 0x4B},
		ButtonPins:           ButtonPins{Tare: "GPIO17", Menu: "GPIO27", Next: "GPIO22", Back: "GPIO23"},
		ScaleFactors:         []float64{1, 1, 1, 1},
		CorrectionMultiplier: 1.0,
		UnitsPerKg:           cog.DefaultUnitsPerKg,
		Geometry:             cog.DefaultGeometry,
		Interval:             time.Second,
		ReadTimeout:          loadcell.DefaultOptions.ReadTimeout,
		ReadRetries:          loadcell.DefaultOptions.Retries,
		SerialPort:           "/dev/serial0",
		Baud:                 115200,
		Continuous:           true,
	}
}

var ErrInvalidConfig = errors.New("invalid cog-scale config")

func (c *ScaleConfig) Validate() error {
	switch c.Driver {
	case DriverHX711:
		if len(c.DataPins) != loadcell.NumChannels || len(c.ClockPins) != loadcell.NumChannels {
			return fmt.Errorf("%w: hx711 needs %d data and clock pins", ErrInvalidConfig, loadcell.NumChannels)
		}
	case DriverADS1115:
		if len(c.I2CAddresses) != loadcell.NumChannels {
			return fmt.Errorf("%w: ads1115 needs %d i2c addresses", ErrInvalidConfig, loadcell.NumChannels)
		}
	case DriverFake:
	default:
		return fmt.Errorf("%w: unknown driver '%s'", ErrInvalidConfig, c.Driver)
	}
	if len(c.ScaleFactors) != loadcell.NumChannels {
		return fmt.Errorf("%w: need %d scale factors, got %d", ErrInvalidConfig, loadcell.NumChannels, len(c.ScaleFactors))
	}
	for i, f := range c.ScaleFactors {
		if f == 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: scale factor for cell %d must be a non-zero number", ErrInvalidConfig, i+1)
		}
	}
	if c.CorrectionMultiplier <= 0 || math.IsNaN(c.CorrectionMultiplier) || math.IsInf(c.CorrectionMultiplier, 0) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, cog.ErrInvalidCorrection)
	}
	if c.UnitsPerKg <= 0 {
		return fmt.Errorf("%w: units-per-kg must be positive", ErrInvalidConfig)
	}
	if err := c.Geometry.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if c.ReadTimeout <= 0 || c.ReadRetries < 0 {
		return fmt.Errorf("%w: read-timeout must be positive and read-retries not negative", ErrInvalidConfig)
	}
	return nil
}

func (c *ScaleConfig) channelOptions() loadcell.Options {
	opts := loadcell.DefaultOptions
	opts.ReadTimeout = c.ReadTimeout
	opts.Retries = c.ReadRetries
	return opts
}

func ParseScaleConfig(configDir string) (*ScaleConfig, error) {
	conf, err := goconfig.New(configDir)
	if err != nil {
		return nil, err
	}

	c := DefaultScaleConfig()
	if err := conf.Unmarshal(scaleConfigKey, &c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// compareConfig reports whether the correction multiplier changed and the diff of everything
// else. Only the correction can be applied while running.
func compareConfig(prev, next *ScaleConfig) (correctionChanged bool, diff string) {
	correctionChanged = prev.CorrectionMultiplier != next.CorrectionMultiplier
	diff = cmp.Diff(prev, next, cmpopts.IgnoreFields(ScaleConfig{}, "CorrectionMultiplier"))
	return correctionChanged, diff
}

// loadConfig parses the config and applies the command line overrides. The same overrides
// have to be applied on reload or every reload looks like a driver change.
func loadConfig(configDir string, fake bool) (*ScaleConfig, error) {
	c, err := ParseScaleConfig(configDir)
	if err != nil {
		return nil, err
	}
	if fake {
		c.Driver = DriverFake
	}
	return c, nil
}

// watchConfig reloads the config each time the file is written. A new correction multiplier
// is passed to onCorrection, any other change calls onRestart so the service exits and
// systemd starts it again with the new config.
func watchConfig(conf *ScaleConfig, configDir string, fake bool, onCorrection func(float64), onRestart func()) error {
	configFilePath := filepath.Join(configDir, goconfig.ConfigFileName)
	fsEvents := make(chan notify.EventInfo, 1)
	if err := notify.Watch(configFilePath, fsEvents, notify.InCloseWrite, notify.InMovedTo); err != nil {
		return err
	}
	defer notify.Stop(fsEvents)

	for {
		<-fsEvents
		newConfig, err := loadConfig(configDir, fake)
		if err != nil {
			log.Error("Error reloading config: ", err)
			continue
		}
		log.Debug("New config: ", newConfig)
		if applyConfig(conf, newConfig, onCorrection) {
			log.Info("Config changed. Exiting to allow systemctl to restart service.")
			onRestart()
			return nil
		}
	}
}

// applyConfig hands a changed correction multiplier to onCorrection and reports whether
// anything else changed, which needs a restart.
func applyConfig(conf, newConfig *ScaleConfig, onCorrection func(float64)) (restart bool) {
	correctionChanged, diff := compareConfig(conf, newConfig)
	log.Debug("Config diff: ", diff)
	if diff != "" {
		return true
	}
	if correctionChanged {
		log.Infof("Correction multiplier changed from %.4f to %.4f", conf.CorrectionMultiplier, newConfig.CorrectionMultiplier)
		conf.CorrectionMultiplier = newConfig.CorrectionMultiplier
		onCorrection(newConfig.CorrectionMultiplier)
	} else {
		log.Info("No relevant changes detected in config file.")
	}
	return false
}
