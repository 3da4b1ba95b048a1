package entity

import (
	"fmt"

	"github.com/nergy-se/airahome/pkg/coordinator"
	"github.com/nergy-se/airahome/pkg/state"
)

func temperature(key, name, icon string, disabled bool, fn func(s *state.State) *float64) Sensor {
	return Sensor{
		Key:         key,
		Name:        name,
		Unit:        Celsius,
		DeviceClass: ClassTemperature,
		StateClass:  Measurement,
		Icon:        icon,
		Disabled:    disabled,
		Value:       number(fn),
	}
}

func measurement(key, name, unit, class, icon string, disabled bool, fn func(s *state.State) *float64) Sensor {
	return Sensor{
		Key:         key,
		Name:        name,
		Unit:        unit,
		DeviceClass: class,
		StateClass:  Measurement,
		Icon:        icon,
		Disabled:    disabled,
		Value:       number(fn),
	}
}

func energy(key, name, unit, icon string, fn func(s *state.State) *float64) Sensor {
	return Sensor{
		Key:         key,
		Name:        name,
		Unit:        unit,
		DeviceClass: ClassEnergy,
		StateClass:  TotalIncreasing,
		Icon:        icon,
		Value:       number(fn),
	}
}

func status(key, name, icon string, disabled bool, fn func(s *state.State) string) Sensor {
	return Sensor{
		Key:      key,
		Name:     name,
		Icon:     icon,
		Disabled: disabled,
		Value:    text(fn),
	}
}

// Sensors returns the sensors for a device reporting s. Zone and phase
// sensors depend on what the device reports.
func Sensors(s *state.State) []Sensor {
	list := []Sensor{
		temperature("hot_water_temp", "DHW Temperature", "mdi:water-thermometer", false,
			func(s *state.State) *float64 { return s.HotWaterTemperature }),
		temperature("target_hot_water_temp", "Target DHW Temperature", "mdi:water-thermometer-outline", false,
			func(s *state.State) *float64 { return s.TargetHotWaterTemperature }),
		temperature("scheduled_hot_water_temp", "Scheduled DHW Temperature", "mdi:calendar-clock", false,
			func(s *state.State) *float64 { return s.ScheduledHotWaterTemperature }),
		temperature("outdoor_temp", "Outdoor Temperature", "mdi:thermometer", false,
			func(s *state.State) *float64 { return s.OutdoorTemperature }),
		temperature("indoor_supply_temp", "Indoor Unit Supply Temperature", "mdi:thermometer-water", false,
			func(s *state.State) *float64 { return s.IndoorSupplyTemperature }),

		// outdoor unit
		temperature("evaporator_coil_temp", "OU Evaporator Coil Temperature", "mdi:thermometer-lines", true,
			func(s *state.State) *float64 { return s.EvaporatorCoilTemperature }),
		temperature("gas_discharge_temp", "OU Gas Discharge Temperature", "mdi:thermometer-lines", true,
			func(s *state.State) *float64 { return s.GasDischargeTemperature }),
		temperature("gas_return_temp", "OU Gas Return Temperature", "mdi:thermometer-lines", true,
			func(s *state.State) *float64 { return s.GasReturnTemperature }),
		temperature("condensing_temp", "OU Condensing Temperature", "mdi:thermometer-lines", true,
			func(s *state.State) *float64 { return s.CondensingTemperature }),
		temperature("evaporating_temp", "OU Evaporating Temperature", "mdi:thermometer-lines", true,
			func(s *state.State) *float64 { return s.EvaporatingTemperature }),
		temperature("inner_coil_temp", "OU Inner Coil Temperature", "mdi:thermometer-lines", true,
			func(s *state.State) *float64 { return s.InnerCoilTemperature }),
		measurement("ou_voltage", "OU Voltage", Volt, ClassVoltage, "mdi:flash", true,
			func(s *state.State) *float64 { return s.OutdoorUnitVoltage }),
		measurement("ou_current", "OU Current", Ampere, ClassCurrent, "mdi:current-ac", true,
			func(s *state.State) *float64 { return s.OutdoorUnitCurrent }),
		measurement("evaporator_pressure", "Evaporator Pressure", Bar, ClassPressure, "", true,
			func(s *state.State) *float64 { return s.EvaporatorPressure }),
		measurement("condenser_pressure", "Condenser Pressure", Bar, ClassPressure, "", true,
			func(s *state.State) *float64 { return s.CondenserPressure }),
		measurement("compressor_speed", "Compressor Speed", RPM, "", "mdi:engine", true,
			func(s *state.State) *float64 { return s.CompressorSpeed }),
		measurement("compressor_freq_limit", "Compressor Frequency Limit", Hertz, "", "", true,
			func(s *state.State) *float64 { return s.CompressorFrequencyLimit }),
		measurement("compressor_limit_percent", "Compressor Limit", Percent, "", "", true,
			func(s *state.State) *float64 { return s.CompressorLimitPercent }),
		measurement("dc_fan1_speed", "DC Fan 1 Speed", RPM, "", "mdi:fan", true,
			func(s *state.State) *float64 { return s.Fan1Speed }),
		measurement("dc_fan2_speed", "DC Fan 2 Speed", RPM, "", "mdi:fan", true,
			func(s *state.State) *float64 { return s.Fan2Speed }),
		measurement("eev_step", "EEV Step", "", "", "mdi:valve", true,
			func(s *state.State) *float64 { return s.EEVStep }),

		// energy
		measurement("electrical_power", "Electrical Power", Watt, ClassPower, "mdi:lightning-bolt", false,
			func(s *state.State) *float64 { return s.ElectricalPower }),
		energy("electrical_energy", "Electrical Energy", KiloWattHour, "mdi:lightning-bolt",
			func(s *state.State) *float64 { return s.ElectricalEnergyKWh }),
		energy("thermal_energy", "Thermal Energy", KiloWattHour, "mdi:fire",
			func(s *state.State) *float64 { return s.ThermalEnergyKWh }),
		energy("electrical_energy_wh", "Electrical Energy, Wh", WattHour, "mdi:lightning-bolt",
			func(s *state.State) *float64 { return s.ElectricalEnergyWh }),
		energy("heat_energy_wh", "Heat Energy, Wh", WattHour, "mdi:fire",
			func(s *state.State) *float64 { return s.HeatEnergyWh }),
		measurement("energy_balance", "Energy Balance", "", "", "mdi:scale-balance", false,
			func(s *state.State) *float64 { return s.EnergyBalance }),
		measurement("cumulative_cop", "Cumulative COP", "", "", "mdi:gauge", false,
			func(s *state.State) *float64 { return s.CumulativeCOP }),
		measurement("device_cop", "Device COP", "", "", "mdi:gauge", false,
			func(s *state.State) *float64 { return s.DeviceCOP }),
		measurement("flow_meter1", "Flow Meter 1", LitersPerMin, "", "mdi:water-pump", true,
			func(s *state.State) *float64 { return s.FlowMeter1 }),
		measurement("flow_meter2", "Flow Meter 2", LitersPerMin, "", "mdi:water-pump", true,
			func(s *state.State) *float64 { return s.FlowMeter2 }),

		status("operating_status", "Operating Status", "mdi:information", false,
			func(s *state.State) string { return s.OperatingStatus }),
		status("pump_active_state", "Pump Active State", "mdi:pump", false,
			func(s *state.State) string { return s.PumpActiveState }),
		status("pump_mode_zone1", "Pump Mode Zone 1", "mdi:radiator", false,
			func(s *state.State) string { return s.PumpModeZone1 }),
		status("led_pattern", "LED Pattern", "mdi:led-on", true,
			func(s *state.State) string { return s.LEDPattern }),

		{
			Key:        "ble_rssi",
			Name:       "BLE Signal Strength",
			Unit:       DecibelMilliW,
			StateClass: Measurement,
			Icon:       "mdi:bluetooth",
			Category:   CategoryDiagnostic,
			Value: func(snap *coordinator.Snapshot) interface{} {
				if snap.SignalStrength == nil {
					return nil
				}
				return *snap.SignalStrength
			},
			IconFor: func(snap *coordinator.Snapshot) string {
				return SignalIcon(snap.SignalStrength)
			},
		},
	}

	for _, z := range s.Zones {
		list = append(list, zoneSensors(s, z)...)
	}

	for _, p := range s.Phases {
		n := p.Number
		list = append(list,
			measurement(fmt.Sprintf("voltage_phase_%d", n), fmt.Sprintf("Voltage Phase %d", n), Volt, ClassVoltage, "mdi:flash", false,
				func(s *state.State) *float64 { return phase(s, n).Voltage }),
			measurement(fmt.Sprintf("current_phase_%d", n), fmt.Sprintf("Current Phase %d", n), Ampere, ClassCurrent, "mdi:current-ac", false,
				func(s *state.State) *float64 { return phase(s, n).Current }),
		)
	}
	return list
}

func zoneSensors(s *state.State, z state.Zone) []Sensor {
	n := z.Number
	list := []Sensor{
		temperature(fmt.Sprintf("zone_%d_temp", n), fmt.Sprintf("Zone %d Temperature", n), "mdi:sun-thermometer", false,
			func(s *state.State) *float64 { return zone(s, n).Temperature }),
	}
	if s.HeatingAllowed() {
		list = append(list, temperature(fmt.Sprintf("zone_%d_heat_target", n), fmt.Sprintf("Zone %d Heating Target", n), "mdi:sun-thermometer", false,
			func(s *state.State) *float64 { return zone(s, n).HeatingSetpoint }))
	}
	if s.CoolingAllowed() {
		list = append(list, temperature(fmt.Sprintf("zone_%d_cool_target", n), fmt.Sprintf("Zone %d Cooling Target", n), "mdi:snowflake-thermometer", false,
			func(s *state.State) *float64 { return zone(s, n).CoolingSetpoint }))
	}
	if z.ThermostatPresent {
		list = append(list,
			measurement(fmt.Sprintf("thermostat%d_humidity", n), fmt.Sprintf("Thermostat %d Humidity", n), Percent, ClassHumidity, "", false,
				func(s *state.State) *float64 { return zone(s, n).Humidity }),
			measurement(fmt.Sprintf("thermostat%d_signal", n), fmt.Sprintf("Thermostat %d Signal", n), DecibelMilliW, ClassSignalStrength, "", true,
				func(s *state.State) *float64 { return zone(s, n).Signal }),
		)
	}
	return list
}

// zone returns an empty zone when the device no longer reports zone n.
func zone(s *state.State, n int) *state.Zone {
	if z := s.Zone(n); z != nil {
		return z
	}
	return &state.Zone{Number: n}
}

func phase(s *state.State, n int) state.Phase {
	for _, p := range s.Phases {
		if p.Number == n {
			return p
		}
	}
	return state.Phase{Number: n}
}

// SignalIcon picks a bluetooth icon for a signal strength in dBm.
func SignalIcon(rssi *int) string {
	switch {
	case rssi == nil:
		return "mdi:bluetooth-off"
	case *rssi >= -60:
		return "mdi:bluetooth"
	case *rssi >= -75:
		return "mdi:bluetooth-connect"
	}
	return "mdi:bluetooth-off"
}
