package transport

import (
	"context"
	"errors"
	"sync"
)

var ErrNotDiscoverable = errors.New("device not discoverable")

// Resolver maps a stable device identifier to its current transport address.
type Resolver interface {
	Resolve(ctx context.Context, deviceID string) (string, error)
}

type StaticResolver struct {
	addresses map[string]string
	sync.RWMutex
}

func NewStaticResolver(addresses map[string]string) *StaticResolver {
	r := &StaticResolver{addresses: make(map[string]string)}
	for id, addr := range addresses {
		r.addresses[id] = addr
	}
	return r
}

func (r *StaticResolver) Resolve(ctx context.Context, deviceID string) (string, error) {
	r.RLock()
	defer r.RUnlock()
	addr := r.addresses[deviceID]
	if addr == "" {
		return "", ErrNotDiscoverable
	}
	return addr, nil
}

// Set updates the address of a device. An empty address removes it.
func (r *StaticResolver) Set(deviceID, address string) {
	r.Lock()
	if address == "" {
		delete(r.addresses, deviceID)
	} else {
		r.addresses[deviceID] = address
	}
	r.Unlock()
}
