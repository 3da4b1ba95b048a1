package state

import (
	"strings"
)

// State holds the device values normalized from the raw state and system
// check payloads. A nil field means the device did not report the value.
type State struct {
	HotWaterTemperature          *float64 `json:"hotWaterTemperature,omitempty"`
	TargetHotWaterTemperature    *float64 `json:"targetHotWaterTemperature,omitempty"`
	ScheduledHotWaterTemperature *float64 `json:"scheduledHotWaterTemperature,omitempty"`
	SchedulerActive              bool     `json:"schedulerActive,omitempty"`
	OutdoorTemperature           *float64 `json:"outdoorTemperature,omitempty"`
	IndoorSupplyTemperature      *float64 `json:"indoorSupplyTemperature,omitempty"`

	// outdoor unit
	EvaporatorCoilTemperature *float64 `json:"evaporatorCoilTemperature,omitempty"`
	GasDischargeTemperature   *float64 `json:"gasDischargeTemperature,omitempty"`
	GasReturnTemperature      *float64 `json:"gasReturnTemperature,omitempty"`
	CondensingTemperature     *float64 `json:"condensingTemperature,omitempty"`
	EvaporatingTemperature    *float64 `json:"evaporatingTemperature,omitempty"`
	InnerCoilTemperature      *float64 `json:"innerCoilTemperature,omitempty"`
	OutdoorUnitVoltage        *float64 `json:"outdoorUnitVoltage,omitempty"`
	OutdoorUnitCurrent        *float64 `json:"outdoorUnitCurrent,omitempty"`
	EvaporatorPressure        *float64 `json:"evaporatorPressure,omitempty"`
	CondenserPressure         *float64 `json:"condenserPressure,omitempty"`
	CompressorSpeed           *float64 `json:"compressorSpeed,omitempty"`
	CompressorFrequencyLimit  *float64 `json:"compressorFrequencyLimit,omitempty"`
	CompressorLimitPercent    *float64 `json:"compressorLimitPercent,omitempty"`
	Fan1Speed                 *float64 `json:"fan1Speed,omitempty"`
	Fan2Speed                 *float64 `json:"fan2Speed,omitempty"`
	EEVStep                   *float64 `json:"eevStep,omitempty"`

	ElectricalPower     *float64 `json:"electricalPower,omitempty"`
	ElectricalEnergyKWh *float64 `json:"electricalEnergyKWh,omitempty"`
	ThermalEnergyKWh    *float64 `json:"thermalEnergyKWh,omitempty"`
	ElectricalEnergyWh  *float64 `json:"electricalEnergyWh,omitempty"`
	HeatEnergyWh        *float64 `json:"heatEnergyWh,omitempty"`
	EnergyBalance       *float64 `json:"energyBalance,omitempty"`
	DeviceCOP           *float64 `json:"deviceCop,omitempty"`
	CumulativeCOP       *float64 `json:"cumulativeCop,omitempty"`
	FlowMeter1          *float64 `json:"flowMeter1,omitempty"`
	FlowMeter2          *float64 `json:"flowMeter2,omitempty"`

	OperatingStatus   string `json:"operatingStatus,omitempty"`
	PumpActiveState   string `json:"pumpActiveState,omitempty"`
	PumpModeZone1     string `json:"pumpModeZone1,omitempty"`
	LEDPattern        string `json:"ledPattern,omitempty"`
	AllowedPumpMode   string `json:"allowedPumpMode,omitempty"`
	DHWHeatPumpActive bool   `json:"dhwHeatPumpActive,omitempty"`

	Phases []Phase `json:"phases,omitempty"`
	Zones  []Zone  `json:"zones,omitempty"`

	ManualMode        *bool `json:"manualMode,omitempty"`
	NightMode         *bool `json:"nightMode,omitempty"`
	AwayMode          *bool `json:"awayMode,omitempty"`
	InlineHeater      *bool `json:"inlineHeater,omitempty"`
	HotWaterHeating   *bool `json:"hotWaterHeating,omitempty"`
	Defrosting        *bool `json:"defrosting,omitempty"`
	PrimaryCirculator *bool `json:"primaryCirculator,omitempty"`

	StoppingAlarms       bool          `json:"stoppingAlarms,omitempty"`
	AcknowledgeableAlarm bool          `json:"acknowledgeableAlarm,omitempty"`
	CompressorAlarm      bool          `json:"compressorAlarm,omitempty"`
	Errors               []DeviceError `json:"errors,omitempty"`
}

type Phase struct {
	Number  int      `json:"number"`
	Voltage *float64 `json:"voltage,omitempty"`
	Current *float64 `json:"current,omitempty"`
}

type Zone struct {
	Number            int      `json:"number"`
	Temperature       *float64 `json:"temperature,omitempty"`
	Humidity          *float64 `json:"humidity,omitempty"`
	Signal            *float64 `json:"signal,omitempty"`
	LowBattery        *bool    `json:"lowBattery,omitempty"`
	HeatingSetpoint   *float64 `json:"heatingSetpoint,omitempty"`
	CoolingSetpoint   *float64 `json:"coolingSetpoint,omitempty"`
	Circulator        *bool    `json:"circulator,omitempty"`
	ThermostatPresent bool     `json:"thermostatPresent,omitempty"`
}

type DeviceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *State) HasAlarm() bool {
	return s.StoppingAlarms || s.AcknowledgeableAlarm || s.CompressorAlarm
}

// HeatingAllowed reports if the heat pump is configured for heating.
func (s *State) HeatingAllowed() bool {
	return s.AllowedPumpMode == "" || strings.Contains(strings.ToLower(s.AllowedPumpMode), "heating")
}

// CoolingAllowed reports if the heat pump is configured for cooling.
func (s *State) CoolingAllowed() bool {
	return s.AllowedPumpMode == "" || strings.Contains(strings.ToLower(s.AllowedPumpMode), "cooling")
}

func (s *State) Zone(number int) *Zone {
	for i := range s.Zones {
		if s.Zones[i].Number == number {
			return &s.Zones[i]
		}
	}
	return nil
}
