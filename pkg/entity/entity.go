package entity

import (
	"math"

	"github.com/nergy-se/airahome/pkg/coordinator"
	"github.com/nergy-se/airahome/pkg/state"
)

// Device classes, state classes and units as understood by Home Assistant.
const (
	ClassTemperature    = "temperature"
	ClassHumidity       = "humidity"
	ClassVoltage        = "voltage"
	ClassCurrent        = "current"
	ClassPower          = "power"
	ClassEnergy         = "energy"
	ClassPressure       = "pressure"
	ClassSignalStrength = "signal_strength"
	ClassConnectivity   = "connectivity"
	ClassHeat           = "heat"
	ClassBattery        = "battery"
	ClassProblem        = "problem"

	Measurement     = "measurement"
	TotalIncreasing = "total_increasing"

	Celsius       = "°C"
	Percent       = "%"
	Volt          = "V"
	Ampere        = "A"
	Watt          = "W"
	KiloWattHour  = "kWh"
	WattHour      = "Wh"
	Bar           = "bar"
	Hertz         = "Hz"
	RPM           = "RPM"
	LitersPerMin  = "L/min"
	DecibelMilliW = "dBm"

	CategoryDiagnostic = "diagnostic"
)

// Sensor describes one numeric or text sensor.
type Sensor struct {
	Key         string
	Name        string
	Unit        string
	DeviceClass string
	StateClass  string
	Icon        string
	Category    string
	Disabled    bool

	// Value returns nil when the device did not report the value.
	Value func(snap *coordinator.Snapshot) interface{}
	// IconFor overrides Icon based on the snapshot.
	IconFor func(snap *coordinator.Snapshot) string
}

func (s Sensor) State(snap *coordinator.Snapshot) interface{} {
	if snap == nil || snap.Values == nil {
		return nil
	}
	return s.Value(snap)
}

func (s Sensor) CurrentIcon(snap *coordinator.Snapshot) string {
	if s.IconFor != nil && snap != nil {
		return s.IconFor(snap)
	}
	return s.Icon
}

// BinarySensor describes an on/off sensor. Icons holds the off and on icon.
type BinarySensor struct {
	Key         string
	Name        string
	DeviceClass string
	Icons       [2]string
	Disabled    bool

	Value      func(snap *coordinator.Snapshot) *bool
	Attributes func(snap *coordinator.Snapshot) map[string]interface{}
}

func (b BinarySensor) State(snap *coordinator.Snapshot) *bool {
	if snap == nil || snap.Values == nil {
		return nil
	}
	return b.Value(snap)
}

func (b BinarySensor) Icon(on bool) string {
	if on {
		return b.Icons[1]
	}
	return b.Icons[0]
}

func number(fn func(s *state.State) *float64) func(snap *coordinator.Snapshot) interface{} {
	return func(snap *coordinator.Snapshot) interface{} {
		v := fn(snap.Values)
		if v == nil {
			return nil
		}
		return Round(*v, 2)
	}
}

func text(fn func(s *state.State) string) func(snap *coordinator.Snapshot) interface{} {
	return func(snap *coordinator.Snapshot) interface{} {
		v := fn(snap.Values)
		if v == "" {
			return nil
		}
		return v
	}
}

func flag(fn func(s *state.State) *bool) func(snap *coordinator.Snapshot) *bool {
	return func(snap *coordinator.Snapshot) *bool {
		return fn(snap.Values)
	}
}

func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
