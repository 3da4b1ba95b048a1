package entity

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/nergy-se/airahome/pkg/state"
)

var (
	ErrSchedulerActive    = errors.New("cannot set temperature manually while scheduler is active")
	ErrTemperatureMissing = errors.New("temperature not provided")
	ErrInvalidTemperature = errors.New("invalid temperature")
)

const (
	OperationOff         = "off"
	OperationPerformance = "performance"
	OperationHeatPump    = "heat_pump"
	OperationElectric    = "electric"

	WaterHeaterMin  = 15.0
	WaterHeaterMax  = 65.0
	WaterHeaterStep = 0.1
)

// AllowedTemperatures are the only DHW targets the device accepts.
var AllowedTemperatures = []float64{50, 55, 65}

var Operations = []string{OperationOff, OperationPerformance, OperationHeatPump, OperationElectric}

// WaterHeater is the DHW tank as seen from one snapshot.
type WaterHeater struct {
	CurrentTemperature *float64 `json:"current_temperature"`
	TargetTemperature  *float64 `json:"temperature"`
	Operation          string   `json:"mode"`
	SchedulerActive    bool     `json:"scheduler_active"`
}

func NewWaterHeater(s *state.State) WaterHeater {
	w := WaterHeater{
		SchedulerActive: s.SchedulerActive,
		Operation:       operation(s),
	}
	if s.HotWaterTemperature != nil {
		w.CurrentTemperature = state.Pointer(Round(*s.HotWaterTemperature, 2))
	}
	target := s.TargetHotWaterTemperature
	if s.SchedulerActive {
		target = s.ScheduledHotWaterTemperature
	}
	if target != nil {
		w.TargetTemperature = state.Pointer(Round(*target, 2))
	}
	return w
}

func operation(s *state.State) string {
	if s.HotWaterHeating == nil || !*s.HotWaterHeating {
		return OperationOff
	}
	heater := s.InlineHeater != nil && *s.InlineHeater
	switch {
	case s.DHWHeatPumpActive && heater:
		return OperationPerformance
	case s.DHWHeatPumpActive:
		return OperationHeatPump
	case heater:
		return OperationElectric
	}
	return OperationOff
}

// ResolveTarget turns a requested temperature into the target to send to the
// device. A request one step away from the current target is treated as a
// press on the +/- buttons and moves to the next allowed temperature in that
// direction. Any other request must be one of AllowedTemperatures. changed is
// false when the target should stay as it is.
func (w WaterHeater) ResolveTarget(requested *float64) (target float64, changed bool, err error) {
	if w.SchedulerActive {
		return 0, false, ErrSchedulerActive
	}
	if requested == nil {
		return 0, false, ErrTemperatureMissing
	}
	temp := *requested

	if w.TargetTemperature != nil {
		previous := *w.TargetTemperature
		delta := int(temp*10 - previous*10)
		if delta < 0 {
			delta = -delta
		}
		if float64(delta) == WaterHeaterStep*10 {
			next := stepTarget(previous, temp < previous)
			return next, next != previous, nil
		}
	}

	for _, t := range AllowedTemperatures {
		if temp == t {
			return temp, true, nil
		}
	}
	return 0, false, fmt.Errorf("%w: must be one of: %s°C. Received: %g°C", ErrInvalidTemperature, allowedString(), temp)
}

func stepTarget(previous float64, down bool) float64 {
	next := previous
	if down {
		best := math.Inf(-1)
		for _, t := range AllowedTemperatures {
			if t < previous && t > best {
				best = t
			}
		}
		if !math.IsInf(best, -1) {
			next = best
		}
		return next
	}

	best := math.Inf(1)
	for _, t := range AllowedTemperatures {
		if t > previous && t < best {
			best = t
		}
	}
	if !math.IsInf(best, 1) {
		next = best
	}
	return next
}

func allowedString() string {
	s := make([]string, len(AllowedTemperatures))
	for i, t := range AllowedTemperatures {
		s[i] = fmt.Sprintf("%g", t)
	}
	return strings.Join(s, ", ")
}
