package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Transport is the device link used by the coordinator. Implementations are
// not safe for concurrent use; the coordinator serializes every call.
type Transport interface {
	FetchState(ctx context.Context) (map[string]interface{}, error)
	FetchSystemCheck(ctx context.Context) (map[string]interface{}, error)
	Connect(ctx context.Context, address string, timeout time.Duration) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// SignalStrength returns nil when the link has no signal indicator.
	SignalStrength(ctx context.Context) (*int, error)
}

// HotWaterSetter is implemented by transports that can change the DHW target.
type HotWaterSetter interface {
	SetHotWaterTemperature(ctx context.Context, temperature float64) error
}

// Error wraps any failure reported by a transport operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	return &Error{Op: op, Err: err}
}

var ErrNotConnected = errors.New("not connected")
