package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nergy-se/airahome/pkg/alarm"
	"github.com/nergy-se/airahome/pkg/api/status"
	"github.com/nergy-se/airahome/pkg/api/v1/config"
	"github.com/nergy-se/airahome/pkg/api/v1/meter"
	"github.com/nergy-se/airahome/pkg/api/v1/types"
	"github.com/nergy-se/airahome/pkg/coordinator"
	"github.com/nergy-se/airahome/pkg/entity"
	"github.com/nergy-se/airahome/pkg/mbus"
	"github.com/nergy-se/airahome/pkg/mqtt"
	"github.com/nergy-se/airahome/pkg/transport"
	"github.com/nergy-se/airahome/pkg/transport/dummy"
	"github.com/nergy-se/airahome/pkg/transport/modbusbridge"
	"github.com/nergy-se/airahome/pkg/version"
	"github.com/sirupsen/logrus"
)

var ErrHotWaterUnsupported = errors.New("transport cannot set the hot water temperature")

type meterReader interface {
	ReadValues(model, id string) (*meter.Data, error)
	Close() error
}

type App struct {
	wg     *sync.WaitGroup
	config *config.CliConfig

	transport   transport.Transport
	coordinator *coordinator.Coordinator
	broker      mqtt.Broker
	publisher   *mqtt.Publisher
	status      *status.Server
	alarms      *alarm.ActiveAlarms
	meterCache  *meter.Cache
	meter       meterReader

	latest *coordinator.Snapshot
	mu     sync.RWMutex

	// cancel stops the servers started by Start.
	cancel context.CancelFunc
}

func New(config *config.CliConfig) *App {
	return &App{
		wg:         &sync.WaitGroup{},
		config:     config,
		alarms:     &alarm.ActiveAlarms{},
		meterCache: &meter.Cache{},
	}
}

func (a *App) Start(ctx context.Context) (err error) {
	if types.MeterInterface(a.config.MeterInterface) == types.MeterInterfaceMbus && a.config.MeterModel != "" {
		if !mbus.Supported(a.config.MeterModel) {
			return fmt.Errorf("unsupported meter model %q", a.config.MeterModel)
		}
		a.meter = mbus.New(a.config.MeterDevice)
	}

	ctx, a.cancel = context.WithCancel(ctx)
	defer func() {
		if err != nil {
			a.stop()
		}
	}()

	t, address, err := a.newTransport(ctx)
	if err != nil {
		return err
	}
	a.transport = t
	resolver := transport.NewStaticResolver(map[string]string{a.config.DeviceID: address})
	opts := a.config.CoordinatorOptions()

	cctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	cerr := t.Connect(cctx, address, opts.ConnectTimeout)
	cancel()
	if cerr != nil {
		logrus.WithFields(logrus.Fields{
			"device":  a.config.DeviceID,
			"address": address,
		}).Errorf("app: initial connect failed, will reconnect on first poll: %s", cerr)
	}
	a.coordinator = coordinator.New(a.config.DeviceID, t, resolver, opts)

	err = a.setupMQTT(ctx)
	if err != nil {
		return err
	}

	if a.config.StatusListen != "" {
		a.status = status.New(a)
		a.status.ListenAndServe(ctx, a.wg, a.config.StatusListen)
	}

	a.wg.Add(1)
	go a.pollLoop(ctx)
	return nil
}

func (a *App) Wait() {
	a.wg.Wait()
}

// Latest returns the snapshot from the last successful poll.
func (a *App) Latest() *coordinator.Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

func (a *App) ConnectionState() coordinator.ConnectionState {
	return a.coordinator.State()
}

func (a *App) newTransport(ctx context.Context) (transport.Transport, string, error) {
	switch types.TransportType(a.config.TransportType) {
	case types.TransportTypeModbus:
		regs, err := modbusbridge.ParseRegisters(a.config.ModbusRegisters)
		if err != nil {
			return nil, "", err
		}
		cfg := modbusbridge.Config{
			SlaveID:   byte(a.config.ModbusSlaveID),
			Registers: regs,
		}
		if a.config.ModbusHotWaterRegister != "" {
			loc, err := modbusbridge.ParseLocation(a.config.ModbusHotWaterRegister)
			if err != nil {
				return nil, "", fmt.Errorf("modbushotwaterregister: %w", err)
			}
			cfg.HotWater = &loc
		}
		return modbusbridge.New(cfg), a.config.Address, nil

	case types.TransportTypeDummy:
		d := dummy.New()
		if a.config.DummyListen != "" {
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				d.ListenAndServe(ctx, a.config.DummyListen)
			}()
		}
		address := a.config.Address
		if address == "" {
			address = "dummy"
		}
		return d, address, nil
	}
	return nil, "", fmt.Errorf("unknown transporttype %q", a.config.TransportType)
}

func (a *App) setupMQTT(ctx context.Context) error {
	availability := mqtt.Topic(a.config.TopicPrefix, a.config.DeviceID, "availability")
	switch {
	case a.config.MQTTBroker != "":
		client, err := mqtt.NewClient(mqtt.ClientConfig{
			Broker:      a.config.MQTTBroker,
			Username:    a.config.MQTTUsername,
			Password:    a.config.Password(),
			WillTopic:   availability,
			WillPayload: mqtt.Offline,
		})
		if err != nil {
			return err
		}
		a.broker = client
	case a.config.MQTTListen != "":
		server, err := mqtt.Start(a.config.MQTTListen)
		if err != nil {
			return err
		}
		a.broker = server
	default:
		logrus.Warn("app: neither mqttbroker nor mqttlisten set, not publishing to mqtt")
		return nil
	}

	name := a.config.DeviceName
	if name == "" {
		name = a.config.DeviceID
	}
	a.publisher = mqtt.NewPublisher(a.broker, mqtt.Device{
		ID:        a.config.DeviceID,
		Name:      name,
		SWVersion: version.Current.Short(),
	}, a.config.DiscoveryPrefix, a.config.TopicPrefix)

	err := a.publisher.OnTemperatureCommand(func(requested *float64) {
		if ctx.Err() != nil {
			return
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			err := a.SetHotWaterTemperature(ctx, requested)
			if err != nil {
				logrus.Errorf("app: error setting hot water temperature: %s", err)
			}
		}()
	})
	if err != nil {
		return err
	}

	if types.MeterInterface(a.config.MeterInterface) == types.MeterInterfaceMQTT {
		return mqtt.SubscribeP1ib(a.broker, a.meterCache, a.config.MeterPrimaryID)
	}
	return nil
}

func (a *App) pollLoop(ctx context.Context) {
	defer a.wg.Done()
	defer a.stop()

	interval := a.config.PollDuration()
	timer := time.NewTimer(0)
	defer timer.Stop()
	logrus.Debugf("app: polling every %s", interval)
	for {
		select {
		case <-timer.C:
			timer.Reset(interval)
			err := a.DoPoll(ctx)
			if coordinator.IsFatal(err) {
				logrus.WithField("device", a.config.DeviceID).
					Error("app: giving up on the device, check that it is powered and in range, then restart")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// DoPoll polls the device once and publishes the result.
func (a *App) DoPoll(ctx context.Context) error {
	snap, err := a.coordinator.Poll(ctx)
	if err != nil {
		if errors.Is(err, coordinator.ErrNoInitialData) {
			logrus.WithField("device", a.config.DeviceID).Warn("app: device unreachable and no data fetched yet")
		}
		a.availability(false)
		return err
	}

	a.mu.Lock()
	a.latest = snap
	a.mu.Unlock()

	a.syncAlarms(snap)
	a.readMeter()

	if a.publisher != nil {
		a.availability(true)
		err = a.publisher.Publish(snap)
		if err != nil {
			logrus.Errorf("app: error publishing snapshot: %s", err)
		}
		err = a.publisher.PublishMeter(a.meterCache.Fresh(time.Now(), 2*a.config.PollDuration()))
		if err != nil {
			logrus.Errorf("app: error publishing meter: %s", err)
		}
	}
	if a.status != nil {
		a.status.Broadcast(snap)
	}
	return nil
}

// SetHotWaterTemperature resolves requested against the latest snapshot and
// writes the result to the device.
func (a *App) SetHotWaterTemperature(ctx context.Context, requested *float64) error {
	snap := a.Latest()
	if snap == nil || snap.Values == nil {
		return coordinator.ErrNoInitialData
	}
	target, changed, err := entity.NewWaterHeater(snap.Values).ResolveTarget(requested)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	err = a.coordinator.Command(ctx, func(ctx context.Context, t transport.Transport) error {
		setter, ok := t.(transport.HotWaterSetter)
		if !ok {
			return ErrHotWaterUnsupported
		}
		return setter.SetHotWaterTemperature(ctx, target)
	})
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"device": a.config.DeviceID,
		"target": target,
	}).Info("app: hot water temperature set")

	if ctx.Err() != nil {
		return nil
	}
	return a.DoPoll(ctx)
}

func (a *App) syncAlarms(snap *coordinator.Snapshot) {
	if snap.Values == nil || !snap.Connected {
		return
	}
	current := make([]string, 0, len(snap.Values.Errors))
	for _, e := range snap.Values.Errors {
		current = append(current, e.Code+": "+e.Message)
	}
	raised, cleared := a.alarms.Sync(current)
	for _, msg := range raised {
		logrus.WithField("device", a.config.DeviceID).Warnf("app: alarm raised: %s", msg)
	}
	for _, msg := range cleared {
		logrus.WithField("device", a.config.DeviceID).Infof("app: alarm cleared: %s", msg)
	}
}

func (a *App) readMeter() {
	if a.meter == nil {
		return
	}
	data, err := a.meter.ReadValues(a.config.MeterModel, a.config.MeterPrimaryID)
	if err != nil {
		logrus.Errorf("app: error reading meter: %s", err)
		return
	}
	a.meterCache.Set(data)
}

func (a *App) availability(online bool) {
	if a.publisher == nil {
		return
	}
	err := a.publisher.Availability(online)
	if err != nil {
		logrus.Errorf("app: error publishing availability: %s", err)
	}
}

// stop shuts the coordinator down and releases everything Start set up.
func (a *App) stop() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.coordinator != nil {
		err := a.coordinator.Shutdown(context.Background())
		if err != nil {
			logrus.Errorf("app: error shutting down coordinator: %s", err)
		}
	} else if a.transport != nil {
		err := a.transport.Disconnect(context.Background())
		if err != nil {
			logrus.Errorf("app: error disconnecting: %s", err)
		}
	}
	a.availability(false)
	if a.meter != nil {
		if err := a.meter.Close(); err != nil {
			logrus.Errorf("app: error closing meter: %s", err)
		}
	}
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			logrus.Errorf("app: error closing mqtt: %s", err)
		}
	}
}
