package coordinator

import (
	"time"

	"github.com/nergy-se/airahome/pkg/state"
)

// Snapshot is one complete set of device readings produced by Poll.
// The maps are shared between snapshots and must be treated as read only.
type Snapshot struct {
	State          map[string]interface{} `json:"state"`
	SystemCheck    map[string]interface{} `json:"system_check"`
	Connected      bool                   `json:"connected"`
	SignalStrength *int                   `json:"signal_strength"`

	// Values is State and SystemCheck normalized at fetch time.
	Values *state.State `json:"-"`
}

func newSnapshot(st, sc map[string]interface{}, connected bool, rssi *int) *Snapshot {
	if st == nil {
		st = map[string]interface{}{}
	}
	if sc == nil {
		sc = map[string]interface{}{}
	}
	return &Snapshot{
		State:          st,
		SystemCheck:    sc,
		Connected:      connected,
		SignalStrength: rssi,
		Values:         state.Parse(st, sc),
	}
}

// disconnectedCopy reuses the maps and parsed values of s.
func (s *Snapshot) disconnectedCopy(rssi *int) *Snapshot {
	return &Snapshot{
		State:          s.State,
		SystemCheck:    s.SystemCheck,
		Connected:      false,
		SignalStrength: rssi,
		Values:         s.Values,
	}
}

type Phase int

const (
	Connected Phase = iota
	Reconnecting
	DisconnectedFatal
)

func (p Phase) String() string {
	switch p {
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case DisconnectedFatal:
		return "disconnected_fatal"
	}
	return "unknown"
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ConnectionState is the per device connection record. It is only mutated by
// the coordinator.
type ConnectionState struct {
	Phase             Phase     `json:"phase"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	ReconnectInFlight bool      `json:"reconnectInFlight"`
	LastSuccessful    *Snapshot `json:"-"`
	LastSuccessfulAt  time.Time `json:"lastSuccessfulAt"`
}

func (s ConnectionState) IsConnected() bool {
	return s.Phase == Connected
}

// fresh reports if the last successful snapshot may still be served at now.
func (s ConnectionState) fresh(now time.Time, threshold time.Duration) bool {
	if s.LastSuccessful == nil {
		return false
	}
	return now.Sub(s.LastSuccessfulAt) < threshold
}
