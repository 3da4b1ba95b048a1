package e2e

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nergy-se/airahome/pkg/api/v1/config"
	"github.com/nergy-se/airahome/pkg/app"
	"github.com/nergy-se/airahome/pkg/coordinator"
	"github.com/nergy-se/airahome/pkg/mqtt"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tbrandon/mbserver"
)

const registers = "state.current_hot_water_temperature=input:3/10," +
	"state.target_hot_water_temperature=holding:10/10," +
	"state.current_outdoor_temperature=input:20/10," +
	"state.hot_water.heating_enabled=holding:11," +
	"system_check.energy_calculation.electrical_energy_cum_wh=holding32:30"

func newConfig(address, mqttListen string) *config.CliConfig {
	return &config.CliConfig{
		DeviceID:               "aira-e2e",
		DeviceName:             "Aira E2E",
		Address:                address,
		TransportType:          "modbus",
		PollInterval:           20,
		StaleThreshold:         600,
		MaxReconnectAttempts:   5,
		CommandDelayMs:         10,
		ConnectTimeout:         2,
		ShutdownTimeout:        2,
		MQTTListen:             mqttListen,
		DiscoveryPrefix:        "homeassistant",
		TopicPrefix:            "airahome",
		ModbusSlaveID:          1,
		ModbusRegisters:        registers,
		ModbusHotWaterRegister: "holding:10/10",
		MeterInterface:         "mbus",
	}
}

func newServer(t *testing.T, address string) *mbserver.Server {
	serv := mbserver.NewServer()
	serv.InputRegisters[3] = 483
	serv.HoldingRegisters[10] = 500
	serv.HoldingRegisters[11] = 1
	serv.InputRegisters[20] = toUint(-35)
	serv.HoldingRegisters[30] = 0x0007
	serv.HoldingRegisters[31] = 0xdad5
	err := serv.ListenTCP(address)
	require.NoError(t, err)
	t.Cleanup(serv.Close)
	return serv
}

type received struct {
	messages map[string]string
	sync.Mutex
}

func (r *received) handler(topic string, payload []byte) {
	r.Lock()
	r.messages[topic] = string(payload)
	r.Unlock()
}

func (r *received) get(topic string) string {
	r.Lock()
	defer r.Unlock()
	return r.messages[topic]
}

func TestPollAndSetHotWaterOverMQTT(t *testing.T) {
	logrus.SetLevel(logrus.DebugLevel)
	serv := newServer(t, "127.0.0.1:1502")

	a := app.New(newConfig("127.0.0.1:1502", "127.0.0.1:18833"))
	ctx, cancel := context.WithCancel(context.TODO())
	err := a.Start(ctx)
	require.NoError(t, err)
	defer func() {
		cancel()
		a.Wait()
	}()

	WaitFor(t, 2*time.Second, "first snapshot", func() bool {
		return a.Latest() != nil
	})
	snap := a.Latest()
	require.NotNil(t, snap)
	assert.True(t, snap.Connected)
	assert.Equal(t, 48.3, *snap.Values.HotWaterTemperature)
	assert.Equal(t, -3.5, *snap.Values.OutdoorTemperature)
	assert.InDelta(t, 514.773, *snap.Values.ElectricalEnergyKWh, 0.0001)

	client, err := mqtt.NewClient(mqtt.ClientConfig{Broker: "tcp://127.0.0.1:18833"})
	require.NoError(t, err)
	defer client.Close()

	r := &received{messages: make(map[string]string)}
	availability := "airahome/aira-e2e/availability"
	discovery := "homeassistant/sensor/aira-e2e/outdoor_temp/config"
	require.NoError(t, client.Subscribe(availability, r.handler))
	require.NoError(t, client.Subscribe(discovery, r.handler))

	WaitFor(t, 2*time.Second, "retained availability", func() bool {
		return r.get(availability) == "online"
	})
	WaitFor(t, 2*time.Second, "retained discovery", func() bool {
		return r.get(discovery) != ""
	})
	assert.Contains(t, r.get(discovery), `"unique_id":"aira-e2e_outdoor_temp"`)

	err = client.Publish("airahome/aira-e2e/water_heater/temperature/set", []byte("55"), false)
	require.NoError(t, err)

	WaitFor(t, 2*time.Second, "hot water register write", func() bool {
		return serv.HoldingRegisters[10] == 550
	})
	WaitFor(t, 2*time.Second, "refreshed target", func() bool {
		snap := a.Latest()
		return snap.Values.TargetHotWaterTemperature != nil && *snap.Values.TargetHotWaterTemperature == 55
	})

	// not one of the allowed temperatures
	err = client.Publish("airahome/aira-e2e/water_heater/temperature/set", []byte("60"), false)
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, uint16(550), serv.HoldingRegisters[10])
}

func TestGatewayUnreachableAtStart(t *testing.T) {
	logrus.SetLevel(logrus.DebugLevel)
	address := "127.0.0.1:1503"

	a := app.New(newConfig(address, ""))
	ctx, cancel := context.WithCancel(context.TODO())
	err := a.Start(ctx)
	require.NoError(t, err)
	defer func() {
		cancel()
		a.Wait()
	}()

	WaitFor(t, 2*time.Second, "first reconnect attempt", func() bool {
		return a.ConnectionState().ReconnectAttempts == 1
	})
	assert.Nil(t, a.Latest())
	assert.Equal(t, coordinator.Reconnecting, a.ConnectionState().Phase)

	newServer(t, address)
	WaitFor(t, 3*time.Second, "reconnected", func() bool {
		return a.ConnectionState().Phase == coordinator.Connected
	})

	err = a.DoPoll(ctx)
	require.NoError(t, err)
	assert.True(t, a.Latest().Connected)
	assert.Equal(t, 48.3, *a.Latest().Values.HotWaterTemperature)
}

func toUint(i int16) uint16 {
	return uint16(i)
}

func WaitFor(t *testing.T, timeout time.Duration, msg string, ok func() bool) {
	end := time.Now().Add(timeout)
	for {
		if end.Before(time.Now()) {
			t.Errorf("timeout waiting for: %s", msg)
			return
		}
		time.Sleep(10 * time.Millisecond)
		if ok() {
			return
		}
	}
}
