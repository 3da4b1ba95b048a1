package alarm

import (
	"sort"
	"sync"
)

// ActiveAlarms tracks the device errors seen in the latest snapshot.
type ActiveAlarms struct {
	activeAlarms []string
	sync.RWMutex
}

// Sync replaces the active alarms with current and returns which alarms were
// raised and which were cleared since the previous call.
func (a *ActiveAlarms) Sync(current []string) (raised, cleared []string) {
	next := make(map[string]bool, len(current))
	for _, alarm := range current {
		next[alarm] = true
	}

	a.Lock()
	defer a.Unlock()

	prev := make(map[string]bool, len(a.activeAlarms))
	for _, alarm := range a.activeAlarms {
		prev[alarm] = true
		if !next[alarm] {
			cleared = append(cleared, alarm)
		}
	}

	a.activeAlarms = a.activeAlarms[:0]
	for alarm := range next {
		a.activeAlarms = append(a.activeAlarms, alarm)
		if !prev[alarm] {
			raised = append(raised, alarm)
		}
	}
	sort.Strings(a.activeAlarms)
	sort.Strings(raised)
	sort.Strings(cleared)
	return raised, cleared
}

func (a *ActiveAlarms) Active() []string {
	a.RLock()
	defer a.RUnlock()
	return append([]string(nil), a.activeAlarms...)
}

// Clear returns true if there were active alarms.
func (a *ActiveAlarms) Clear() bool {
	hasActive := false
	a.Lock()
	if len(a.activeAlarms) > 0 {
		hasActive = true
		a.activeAlarms = nil
	}
	a.Unlock()
	return hasActive
}
