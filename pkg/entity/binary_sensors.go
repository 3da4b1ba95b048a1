package entity

import (
	"fmt"

	"github.com/nergy-se/airahome/pkg/coordinator"
	"github.com/nergy-se/airahome/pkg/state"
)

// BinarySensors returns the binary sensors for a device reporting s.
func BinarySensors(s *state.State) []BinarySensor {
	list := []BinarySensor{
		{
			Key:         "connection",
			Name:        "Connection",
			DeviceClass: ClassConnectivity,
			Icons:       [2]string{"mdi:bluetooth-off", "mdi:bluetooth-connect"},
			Value: func(snap *coordinator.Snapshot) *bool {
				return state.Pointer(snap.Connected)
			},
		},
		{
			Key:   "manual_mode",
			Name:  "Manual Mode",
			Icons: [2]string{"mdi:hand-back-right-off-outline", "mdi:hand-back-right-outline"},
			Value: flag(func(s *state.State) *bool { return s.ManualMode }),
		},
		{
			Key:   "night_mode",
			Name:  "Night Mode",
			Icons: [2]string{"mdi:sleep-off", "mdi:sleep"},
			Value: flag(func(s *state.State) *bool { return s.NightMode }),
		},
		{
			Key:   "away_mode",
			Name:  "Away Mode",
			Icons: [2]string{"mdi:home-outline", "mdi:home-export-outline"},
			Value: flag(func(s *state.State) *bool { return s.AwayMode }),
		},
		{
			Key:         "inline_heater",
			Name:        "Inline Heater",
			DeviceClass: ClassHeat,
			Icons:       [2]string{"mdi:power-plug-off-outline", "mdi:resistor"},
			Value:       flag(func(s *state.State) *bool { return s.InlineHeater }),
		},
		{
			Key:         "dhw_heating",
			Name:        "DHW Heating",
			DeviceClass: ClassHeat,
			Icons:       [2]string{"mdi:water-boiler-off", "mdi:water-boiler"},
			Value:       flag(func(s *state.State) *bool { return s.HotWaterHeating }),
		},
		{
			Key:   "defrosting",
			Name:  "Defrosting",
			Icons: [2]string{"mdi:sun-snowflake-variant", "mdi:snowflake-melt"},
			Value: flag(func(s *state.State) *bool { return s.Defrosting }),
		},
		{
			Key:      "ou_pump",
			Name:     "OU Primary Circulator",
			Icons:    [2]string{"mdi:pump-off", "mdi:pump"},
			Disabled: true,
			Value:    flag(func(s *state.State) *bool { return s.PrimaryCirculator }),
		},
		{
			Key:         "alarms",
			Name:        "Alarms",
			DeviceClass: ClassProblem,
			Icons:       [2]string{"mdi:check-circle-outline", "mdi:alert-circle"},
			Value: flag(func(s *state.State) *bool {
				return state.Pointer(s.HasAlarm())
			}),
			Attributes: alarmAttributes,
		},
	}

	for _, z := range s.Zones {
		if !z.ThermostatPresent {
			continue
		}
		n := z.Number
		list = append(list,
			BinarySensor{
				Key:   fmt.Sprintf("zone_%d_circulator", n),
				Name:  fmt.Sprintf("Zone %d Circulator", n),
				Icons: [2]string{"mdi:pump-off", "mdi:pump"},
				Value: flag(func(s *state.State) *bool { return zone(s, n).Circulator }),
			},
			BinarySensor{
				Key:         fmt.Sprintf("thermostat_%d_low_battery", n),
				Name:        fmt.Sprintf("Thermostat %d Low Battery", n),
				DeviceClass: ClassBattery,
				Icons:       [2]string{"mdi:battery", "mdi:battery-alert-variant-outline"},
				Value:       flag(func(s *state.State) *bool { return zone(s, n).LowBattery }),
			},
		)
	}
	return list
}

// alarmAttributes lists the alarm flags and the first three device errors.
func alarmAttributes(snap *coordinator.Snapshot) map[string]interface{} {
	s := snap.Values
	attrs := map[string]interface{}{
		"stopping_alarms":        s.StoppingAlarms,
		"acknowledgeable_alarms": s.AcknowledgeableAlarm,
		"compressor_alarms":      s.CompressorAlarm,
		"error_count":            len(s.Errors),
	}
	for i, e := range s.Errors {
		if i == 3 {
			break
		}
		attrs[fmt.Sprintf("error_%d_code", i+1)] = e.Code
		attrs[fmt.Sprintf("error_%d_message", i+1)] = e.Message
	}
	return attrs
}
