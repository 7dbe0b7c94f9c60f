package scale

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
)

const (
	dbusName = "org.cacophony.CogScale"
	dbusPath = "/org/cacophony/CogScale"
)

const commandTimeout = 30 * time.Second

type service struct {
	runner commandRunner
	view   *measurementView
}

func startService(runner commandRunner, view *measurementView) error {
	log.Info("Starting cog-scale dbus service")
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &service{runner: runner, view: view}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

/*
dbus-send --system --print-reply --dest=org.cacophony.CogScale /org/cacophony/CogScale \
org.cacophony.CogScale.Command string:"cc,2,1001.5"
*/

// Measurement returns the latest measurement as JSON.
func (s *service) Measurement() (string, *dbus.Error) {
	m, err := s.view.MeasurementJSON()
	if err != nil {
		return "", dbusErr(err)
	}
	return m, nil
}

// Command runs a console command line and returns the reply text.
func (s *service) Command(line string) (string, *dbus.Error) {
	log.Debugf("Got dbus command '%s'", line)
	cmd, err := ParseCommand(line)
	if err != nil {
		return "", dbusErr(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	text, err := s.runner.Do(ctx, cmd)
	if err != nil {
		return "", dbusErr(err)
	}
	return text, nil
}

// ScaleFactors returns the factors in use, cells 1 to 4.
func (s *service) ScaleFactors() ([]float64, *dbus.Error) {
	return s.view.ScaleFactors(), nil
}

func dbusErr(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	return &dbus.Error{
		Name: dbusName + "." + getCallerName(),
		Body: []interface{}{err.Error()},
	}
}

func getCallerName() string {
	fpcs := make([]uintptr, 1)
	n := runtime.Callers(3, fpcs)
	if n == 0 {
		return ""
	}
	caller := runtime.FuncForPC(fpcs[0] - 1)
	if caller == nil {
		return ""
	}
	funcNames := strings.Split(caller.Name(), ".")
	return funcNames[len(funcNames)-1]
}
