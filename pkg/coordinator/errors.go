package coordinator

import (
	"errors"

	"github.com/nergy-se/airahome/pkg/transport"
)

// ErrReconnectExhausted halts polling. The device needs manual attention
// (re-pairing, clearing a stale pairing cache or another transport bridge)
// and the bridge must be restarted to try again.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted: re-pair the device or clear its pairing cache and restart")

// ErrNoInitialData is returned while no snapshot has ever been fetched and the
// device is unreachable.
var ErrNoInitialData = errors.New("device disconnected and no initial data available")

// ErrNotConnected is returned by Command when the device link is not live.
// It is the transport sentinel so one errors.Is check covers both layers.
var ErrNotConnected = transport.ErrNotConnected

// IsFatal reports if err should stop the poll loop.
func IsFatal(err error) bool {
	return errors.Is(err, ErrReconnectExhausted)
}
