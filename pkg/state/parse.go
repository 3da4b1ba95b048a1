package state

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const defaultZones = 2

// Parse normalizes the raw payloads into a State. Missing or malformed values
// are left nil, parsing never fails.
func Parse(st, sc map[string]interface{}) *State {
	s := &State{
		HotWaterTemperature:       floatAt(st, "current_hot_water_temperature"),
		TargetHotWaterTemperature: floatAt(st, "target_hot_water_temperature"),
		OutdoorTemperature:        floatAt(st, "current_outdoor_temperature"),
		IndoorSupplyTemperature:   floatAt(sc, "sensor_values", "indoor_unit_supply_temperature"),

		EvaporatorCoilTemperature: floatAt(sc, "megmet_status", "evaporator_coil_temperature"),
		GasDischargeTemperature:   floatAt(sc, "megmet_status", "gas_discharge_temperature"),
		GasReturnTemperature:      floatAt(sc, "megmet_status", "gas_return_temperature"),
		CondensingTemperature:     floatAt(sc, "megmet_status", "condensing_temperature"),
		EvaporatingTemperature:    floatAt(sc, "megmet_status", "evaporating_temperature"),
		InnerCoilTemperature:      floatAt(sc, "megmet_status", "inner_coil_temperature"),
		OutdoorUnitVoltage:        floatAt(sc, "megmet_status", "ac_input_voltage"),
		OutdoorUnitCurrent:        floatAt(sc, "megmet_status", "ac_input_current"),
		EvaporatorPressure:        floatAt(sc, "megmet_status", "evaporator_pressure"),
		CondenserPressure:         floatAt(sc, "megmet_status", "condenser_pressure"),
		CompressorSpeed:           floatAt(sc, "megmet_status", "compressor_running_speed"),
		CompressorFrequencyLimit:  floatAt(sc, "megmet_status", "compressor_frequency_limit"),
		CompressorLimitPercent:    floatAt(sc, "megmet_status", "compressor_limit_percent_calculated"),
		Fan1Speed:                 floatAt(sc, "megmet_status", "dc_fan1_running_speed"),
		Fan2Speed:                 floatAt(sc, "megmet_status", "dc_fan2_running_speed"),
		EEVStep:                   floatAt(sc, "megmet_status", "eev_step"),

		ElectricalPower:    floatAt(sc, "energy_calculation", "current_electrical_power_w"),
		ElectricalEnergyWh: floatAt(sc, "energy_calculation", "electrical_energy_cum_wh"),
		HeatEnergyWh:       floatAt(sc, "energy_calculation", "water_energy_cum_wh"),
		EnergyBalance:      floatAt(sc, "energy_balance", "energy_balance"),
		FlowMeter1:         floatAt(sc, "sensor_values", "flow_meter1"),
		FlowMeter2:         floatAt(sc, "sensor_values", "flow_meter2"),

		OperatingStatus: Prettify(stringAt(st, "operating_status"), "OPERATING_STATUS_"),
		PumpActiveState: Prettify(stringAt(st, "pump_active_state"), "PUMP_ACTIVE_STATE_"),
		PumpModeZone1:   Prettify(stringAt(st, "current_pump_mode_state", "zone1"), "PUMP_MODE_STATE_"),
		LEDPattern:      Prettify(stringAt(st, "led_pattern"), "LED_PATTERN_"),
		AllowedPumpMode: stringAt(st, "allowed_pump_mode_state"),

		DHWHeatPumpActive: stringAt(st, "pump_active_state") == "PUMP_ACTIVE_STATE_DHW",

		ManualMode:        boolAt(st, "manual_mode_enabled"),
		NightMode:         boolAt(st, "night_mode_enabled"),
		AwayMode:          boolAt(st, "away_mode_enabled"),
		InlineHeater:      boolAt(st, "inline_heater_active"),
		HotWaterHeating:   boolAt(st, "hot_water", "heating_enabled"),
		Defrosting:        boolAt(sc, "megmet_status", "outdoor_unit_defrosting"),
		PrimaryCirculator: boolAt(sc, "circulation_pump_status", "pump0_active"),

		StoppingAlarms:       isTrue(boolAt(st, "error_metadata", "hp_has_stopping_alarms")),
		AcknowledgeableAlarm: isTrue(boolAt(st, "error_metadata", "hp_has_acknowledgeable_alarms")),
		CompressorAlarm:      isTrue(boolAt(st, "error_metadata", "compressor_has_stopping_alarm")),
	}

	s.ScheduledHotWaterTemperature, s.SchedulerActive = scheduledHotWater(st)
	s.ElectricalEnergyKWh = kwh(sc, "electrical_energy_cum_kwh", "electrical_energy_cum_wh")
	s.ThermalEnergyKWh = kwh(sc, "water_energy_cum_kwh", "water_energy_cum_wh")

	if s.ElectricalEnergyKWh != nil && s.ThermalEnergyKWh != nil && *s.ElectricalEnergyKWh > 0 {
		s.CumulativeCOP = Pointer(*s.ThermalEnergyKWh / *s.ElectricalEnergyKWh)
	}

	// 0 means the pump is idle
	if cop := floatAt(sc, "energy_calculation", "cop_now"); cop != nil && *cop != 0 {
		s.DeviceCOP = cop
	}

	s.Phases = parsePhases(sc)
	s.Zones = parseZones(st, sc)
	s.Errors = parseErrors(st)
	return s
}

func parsePhases(sc map[string]interface{}) []Phase {
	if _, ok := lookup(sc, "energy_calculation").(map[string]interface{}); !ok {
		return nil
	}
	phases := 3
	c2 := floatAt(sc, "energy_calculation", "current_phase_2")
	c3 := floatAt(sc, "energy_calculation", "current_phase_3")
	if (c2 == nil || *c2 == 0) && (c3 == nil || *c3 == 0) {
		phases = 1
	}

	list := make([]Phase, 0, phases)
	for i := 1; i <= phases; i++ {
		list = append(list, Phase{
			Number:  i,
			Voltage: floatAt(sc, "energy_calculation", fmt.Sprintf("voltage_phase_%d", i)),
			Current: floatAt(sc, "energy_calculation", fmt.Sprintf("current_phase_%d", i)),
		})
	}
	return list
}

func parseZones(st, sc map[string]interface{}) []Zone {
	count := defaultZones
	if n := floatAt(st, "number_of_zones"); n != nil && *n > 0 {
		count = int(*n)
	}

	thermostats := make(map[int]map[string]interface{})
	list, _ := lookup(st, "thermostats").([]interface{})
	for _, item := range list {
		t, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		n := zoneNumber(t["zone"])
		if n <= 0 {
			continue
		}
		thermostats[n] = t
		if n > count {
			count = n
		}
	}

	zones := make([]Zone, 0, count)
	for i := 1; i <= count; i++ {
		z := Zone{
			Number:          i,
			HeatingSetpoint: floatAt(st, "zone_setpoints_heating", fmt.Sprintf("zone%d", i)),
			CoolingSetpoint: floatAt(st, "zone_setpoints_cooling", fmt.Sprintf("zone%d", i)),
			Circulator:      boolAt(sc, "circulation_pump_status", fmt.Sprintf("pump%d_active", i)),
		}
		if t, ok := thermostats[i]; ok {
			z.ThermostatPresent = stringAt(t, "serial_number") != ""
			z.Temperature = scale(floatAt(t, "last_update", "actual_temperature"), 0.1)
			z.Humidity = scale(floatAt(t, "last_update", "humidity"), 0.1)
			z.LowBattery = boolAt(t, "last_update", "warning_low_battery_level")
			z.Signal = floatAt(t, "rssi")
		}
		zones = append(zones, z)
	}
	return zones
}

func parseErrors(st map[string]interface{}) []DeviceError {
	list, _ := lookup(st, "errors").([]interface{})
	var errs []DeviceError
	for _, item := range list {
		e, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		de := DeviceError{
			Code:    stringAt(e, "code"),
			Message: stringAt(e, "message"),
		}
		if de.Code == "" {
			de.Code = "Unknown"
		}
		if de.Message == "" {
			de.Message = "Unknown"
		}
		errs = append(errs, de)
	}
	return errs
}

// scheduledHotWater returns the DHW set point of the first active schedule
// action that carries one.
func scheduledHotWater(st map[string]interface{}) (*float64, bool) {
	actions, _ := lookup(st, "scheduler", "active_actions").([]interface{})
	for _, item := range actions {
		action, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if _, ok := action["set_dhw_setpoint"]; !ok {
			continue
		}
		return floatAt(action, "set_dhw_setpoint", "temperature"), true
	}
	return nil, false
}

func kwh(sc map[string]interface{}, kwhKey, whKey string) *float64 {
	if v := floatAt(sc, "energy_calculation", kwhKey); v != nil {
		return v
	}
	wh := floatAt(sc, "energy_calculation", whKey)
	if wh == nil {
		return nil
	}
	return Pointer(*wh / 1000)
}

func zoneNumber(v interface{}) int {
	switch z := v.(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(z), "ZONE_"))
		if err != nil {
			return 0
		}
		return n
	default:
		if f, ok := toFloat(v); ok {
			return int(f)
		}
	}
	return 0
}

// Prettify turns an enum name like OPERATING_STATUS_HEATING_DHW into "Heating Dhw".
func Prettify(v, prefix string) string {
	v = strings.TrimPrefix(v, prefix)
	words := strings.Split(strings.ToLower(v), "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func lookup(m map[string]interface{}, keys ...string) interface{} {
	var v interface{} = m
	for _, k := range keys {
		mm, ok := v.(map[string]interface{})
		if !ok {
			return nil
		}
		v, ok = mm[k]
		if !ok {
			return nil
		}
	}
	return v
}

func floatAt(m map[string]interface{}, keys ...string) *float64 {
	f, ok := toFloat(lookup(m, keys...))
	if !ok {
		return nil
	}
	return &f
}

func boolAt(m map[string]interface{}, keys ...string) *bool {
	switch b := lookup(m, keys...).(type) {
	case bool:
		return &b
	case nil:
		return nil
	default:
		if f, ok := toFloat(b); ok {
			return Pointer(f != 0)
		}
	}
	return nil
}

func stringAt(m map[string]interface{}, keys ...string) string {
	switch v := lookup(m, keys...).(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func scale(f *float64, factor float64) *float64 {
	if f == nil {
		return nil
	}
	return Pointer(*f * factor)
}

func isTrue(b *bool) bool {
	return b != nil && *b
}

func Pointer[K any](val K) *K {
	return &val
}
