// Package scaleclient talks to the cog-scale service over dbus.
package scaleclient

import (
	"encoding/json"

	"github.com/TheCacophonyProject/cog-scale/cog"
	"github.com/godbus/dbus"
)

const (
	dbusName = "org.cacophony.CogScale"
	dbusPath = "/org/cacophony/CogScale"
)

func getObject() (dbus.BusObject, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	return conn.Object(dbusName, dbusPath), nil
}

// Measurement returns the latest measurement from the scale.
func Measurement() (cog.Measurement, error) {
	obj, err := getObject()
	if err != nil {
		return cog.Measurement{}, err
	}
	var raw string
	if err := obj.Call(dbusName+".Measurement", 0).Store(&raw); err != nil {
		return cog.Measurement{}, err
	}
	return ParseMeasurement(raw)
}

func ParseMeasurement(raw string) (cog.Measurement, error) {
	var m cog.Measurement
	err := json.Unmarshal([]byte(raw), &m)
	return m, err
}

// Command sends a console command line, such as "t" or "cc,2,1001.5", and returns the reply.
func Command(line string) (string, error) {
	obj, err := getObject()
	if err != nil {
		return "", err
	}
	var reply string
	if err := obj.Call(dbusName+".Command", 0, line).Store(&reply); err != nil {
		return "", err
	}
	return reply, nil
}

func ScaleFactors() ([]float64, error) {
	obj, err := getObject()
	if err != nil {
		return nil, err
	}
	var factors []float64
	if err := obj.Call(dbusName+".ScaleFactors", 0).Store(&factors); err != nil {
		return nil, err
	}
	return factors, nil
}
