package scale

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/cog-scale/calibration"
	"github.com/TheCacophonyProject/cog-scale/cog"
	"github.com/TheCacophonyProject/cog-scale/loadcell"
	"github.com/TheCacophonyProject/cog-scale/serialhelper"
	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/alexflint/go-arg"
	"periph.io/x/host/v3"
)

var (
	version = "<not set>"
	log     = logging.NewLogger("info")
)

type Args struct {
	Fake      bool `arg:"--fake" help:"Use simulated load cells instead of the configured driver."`
	NoConsole bool `arg:"--no-console" help:"Don't run the serial console."`
	NoButtons bool `arg:"--no-buttons" help:"Don't poll the GPIO buttons."`
	goconfig.ConfigArgs
	logging.LogArgs
}

func (Args) Version() string {
	return version
}

var defaultArgs = Args{}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	log = logging.NewLogger(args.LogLevel)
	loadcell.SetLogger(log)
	cog.SetLogger(log)
	calibration.SetLogger(log)

	log.Printf("Running version: %s", version)

	config, err := loadConfig(args.ConfigDir, args.Fake)
	if err != nil {
		return err
	}

	if config.Driver != DriverFake {
		log.Debug("Initializing host")
		if _, err := host.Init(); err != nil {
			return err
		}
	}

	sensors, err := newSensors(config)
	if err != nil {
		return err
	}
	defer powerDown(sensors)
	var channels [loadcell.NumChannels]*loadcell.Channel
	var engineChannels [loadcell.NumChannels]cog.Channel
	for i, id := range loadcell.IDs {
		channels[i] = loadcell.NewChannel(id, sensors[i], config.ScaleFactors[i], config.channelOptions())
		engineChannels[i] = channels[i]
	}
	engine, err := cog.NewEngine(engineChannels, config.Geometry, config.CorrectionMultiplier, config.UnitsPerKg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	view := &measurementView{}
	presenters := []Presenter{logPresenter{}, view}

	var port *serialhelper.Port
	if !args.NoConsole && config.SerialPort != "" {
		port, err = serialhelper.Open(config.SerialPort, config.Baud, 3, time.Second)
		if err != nil {
			return err
		}
		defer port.Close()
	}
	var con *console
	if port != nil {
		con = newConsole(port)
		presenters = append(presenters, con)
	}

	var buttons *buttonPoller
	if !args.NoButtons && config.Driver != DriverFake && config.ButtonPins.configured() {
		buttons, err = newButtonPoller(config.ButtonPins)
		if err != nil {
			return err
		}
	}

	opts := ControllerOptions{
		Interval:    config.Interval,
		Continuous:  config.Continuous,
		TareOnStart: true,
		Calibration: calibration.DefaultOptions,
	}
	opts.InputLevels = func() map[string]bool {
		return inputLevels(sensors, buttons)
	}
	controller := NewController(channels, engine, opts, presenters...)

	if err := startService(controller, view); err != nil {
		return err
	}

	if buttons != nil {
		go buttons.run(ctx, func(a Action) {
			if !controller.TryDo(Command{Kind: CmdButton, Button: a}) {
				log.Debugf("Controller busy, dropping '%s' button press", a)
			}
		})
	}

	if con != nil {
		go func() {
			if err := con.run(ctx, controller); err != nil {
				log.Errorf("Serial console stopped: %v", err)
			}
		}()
	}

	go func() {
		err := watchConfig(config, args.ConfigDir, args.Fake,
			func(correction float64) {
				if err := controller.ReloadCorrection(ctx, correction); err != nil {
					log.Errorf("Failed to apply correction multiplier: %v", err)
				}
			},
			cancel)
		if err != nil {
			log.Errorf("Error watching config: %v", err)
		}
	}()

	return controller.Run(ctx)
}

func newSensors(config *ScaleConfig) ([loadcell.NumChannels]loadcell.Sensor, error) {
	var sensors [loadcell.NumChannels]loadcell.Sensor
	for i, id := range loadcell.IDs {
		switch config.Driver {
		case DriverHX711:
			hx, err := loadcell.NewHX711(config.DataPins[i], config.ClockPins[i], config.GainPulses)
			if err != nil {
				return sensors, fmt.Errorf("failed to set up %s HX711: %w", id, err)
			}
			sensors[i] = hx
		case DriverADS1115:
			ads, err := loadcell.NewADS1115(byte(config.I2CAddresses[i]))
			if err != nil {
				return sensors, fmt.Errorf("failed to set up %s ADS1115: %w", id, err)
			}
			sensors[i] = ads
		case DriverFake:
			sensors[i] = &loadcell.FakeSensor{}
		default:
			return sensors, fmt.Errorf("unknown driver '%s'", config.Driver)
		}
	}
	log.Infof("Using %s load cell driver", config.Driver)
	return sensors, nil
}

// inputLevels collects the HX711 data lines and the button pins for debug-raw.
func inputLevels(sensors [loadcell.NumChannels]loadcell.Sensor, buttons *buttonPoller) map[string]bool {
	levels := map[string]bool{}
	if buttons != nil {
		for name, level := range buttons.levels() {
			levels[name] = level
		}
	}
	for i, s := range sensors {
		if hx, ok := s.(*loadcell.HX711); ok {
			levels[loadcell.IDs[i].String()+" DOUT"] = bool(hx.DataLevel())
		}
	}
	return levels
}

func powerDown(sensors [loadcell.NumChannels]loadcell.Sensor) {
	for i, s := range sensors {
		if hx, ok := s.(*loadcell.HX711); ok {
			if err := hx.PowerDown(); err != nil {
				log.Errorf("Failed to power down %s HX711: %v", loadcell.IDs[i], err)
			}
		}
	}
}
