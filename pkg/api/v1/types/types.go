package types

type TransportType string

var TransportTypeModbus = TransportType("modbus")
var TransportTypeDummy = TransportType("dummy")

func (t TransportType) Valid() bool {
	return t == TransportTypeModbus || t == TransportTypeDummy
}

// MeterInterface is how an external energy meter is read.
type MeterInterface string

var MeterInterfaceMbus = MeterInterface("mbus")
var MeterInterfaceMQTT = MeterInterface("mqtt")
