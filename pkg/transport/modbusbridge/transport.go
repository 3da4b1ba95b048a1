package modbusbridge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/nergy-se/airahome/pkg/modbusclient"
	"github.com/nergy-se/airahome/pkg/transport"
	"github.com/sirupsen/logrus"
)

var ErrNoHotWaterRegister = errors.New("no hot water register configured")

type Config struct {
	SlaveID   byte
	Registers []Register
	// HotWater is the register the hot water target temperature is written to.
	HotWater *Location
}

// Transport reads the device payloads from a Modbus TCP gateway in front of
// the heat pump.
type Transport struct {
	config Config

	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  modbusclient.Client
	address string
}

func New(config Config) *Transport {
	return &Transport{config: config}
}

func (t *Transport) Connect(ctx context.Context, address string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()

	handler := modbus.NewTCPClientHandler(address)
	handler.Timeout = timeout
	handler.SlaveId = t.config.SlaveID
	err := handler.Connect()
	if err != nil {
		return fmt.Errorf("error connecting to %s: %w", address, err)
	}

	t.handler = handler
	t.address = address
	t.client = modbusclient.New(modbus.NewClient(handler), func(err error) {
		// called from within a request, mu is already held
		t.closeLocked()
	})
	logrus.WithFields(logrus.Fields{
		"address": address,
		"slaveId": t.config.SlaveID,
	}).Debug("modbusbridge: connected")
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLocked()
}

func (t *Transport) closeLocked() error {
	if t.handler == nil {
		return nil
	}
	err := t.handler.Close()
	t.handler = nil
	t.client = nil
	return err
}

func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client != nil
}

// SignalStrength is always unknown on a wired gateway.
func (t *Transport) SignalStrength(ctx context.Context) (*int, error) {
	return nil, nil
}

func (t *Transport) FetchState(ctx context.Context) (map[string]interface{}, error) {
	return t.fetch(ctx, SectionState)
}

func (t *Transport) FetchSystemCheck(ctx context.Context) (map[string]interface{}, error) {
	return t.fetch(ctx, SectionSystemCheck)
}

func (t *Transport) fetch(ctx context.Context, section string) (map[string]interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data := make(map[string]interface{})
	for _, r := range t.config.Registers {
		if r.Section != section {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if t.client == nil {
			return nil, transport.ErrNotConnected
		}
		v, err := t.client.Read(r.Kind, r.Address, r.Words)
		if err != nil {
			return nil, err
		}
		set(data, r.Path, float64(v)/r.Scale)
	}
	return data, nil
}

func (t *Transport) SetHotWaterTemperature(ctx context.Context, temperature float64) error {
	if t.config.HotWater == nil {
		return ErrNoHotWaterRegister
	}
	loc := *t.config.HotWater
	if loc.Kind != modbusclient.Holding || loc.Words != 1 {
		return fmt.Errorf("hot water register %s is not a writable single register", loc)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return transport.Wrap("set hot water temperature", transport.ErrNotConnected)
	}

	value := int(math.Round(temperature * loc.Scale))
	logrus.WithFields(logrus.Fields{
		"temperature": temperature,
		"register":    loc.String(),
		"value":       value,
	}).Info("modbusbridge: set hot water temperature")
	return transport.Wrap("set hot water temperature", t.client.WriteSingleRegister(loc.Address, value))
}
