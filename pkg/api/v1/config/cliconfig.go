package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nergy-se/airahome/pkg/api/v1/types"
	"github.com/nergy-se/airahome/pkg/coordinator"
	"github.com/nergy-se/airahome/pkg/mbus"
)

const (
	MinPollInterval = 20
	MaxPollInterval = 300
)

type CliConfig struct {
	DeviceID   string
	DeviceName string `default:"Aira HP"`
	// Address is where the device is reached, for the modbus transport the gateway host:port.
	Address       string
	TransportType string `default:"modbus"`

	PollInterval         int `default:"30"`
	StaleThreshold       int `default:"600"`
	MaxReconnectAttempts int `default:"5"`
	CommandDelayMs       int `default:"1000"`
	ConnectTimeout       int `default:"30"`
	ShutdownTimeout      int `default:"10"`

	LogLevel string `default:"info"`

	MQTTListen       string `default:":1883"`
	MQTTBroker       string
	MQTTUsername     string
	MQTTPassword     string
	MQTTPasswordFile string
	DiscoveryPrefix  string `default:"homeassistant"`
	TopicPrefix      string `default:"airahome"`

	ModbusSlaveID          int `default:"1"`
	ModbusRegisters        string
	ModbusHotWaterRegister string

	DummyListen  string `default:":8888"`
	StatusListen string

	MeterInterface string `default:"mbus"`
	MeterModel     string
	MeterPrimaryID string
	MeterDevice    string `default:"/dev/ttyAMA0"`

	mutex sync.RWMutex
}

func (c *CliConfig) Password() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.MQTTPassword
}

func (c *CliConfig) SetPassword(p string) {
	c.mutex.Lock()
	c.MQTTPassword = strings.TrimSpace(p)
	c.mutex.Unlock()
}

// LoadPassword reads the MQTT password from MQTTPasswordFile if it is set.
func (c *CliConfig) LoadPassword() error {
	if c.MQTTPasswordFile == "" {
		return nil
	}
	b, err := os.ReadFile(c.MQTTPasswordFile)
	if err != nil {
		return fmt.Errorf("error reading mqtt password file: %w", err)
	}
	if len(b) == 0 {
		return nil // dont load empty password
	}
	c.SetPassword(string(b))
	return nil
}

func (c *CliConfig) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("deviceid is required")
	}
	if !types.TransportType(c.TransportType).Valid() {
		return fmt.Errorf("unknown transporttype %q", c.TransportType)
	}
	if types.TransportType(c.TransportType) == types.TransportTypeModbus && c.Address == "" {
		return fmt.Errorf("address is required for the modbus transport")
	}
	if c.PollInterval < MinPollInterval || c.PollInterval > MaxPollInterval {
		return fmt.Errorf("pollinterval must be between %d and %d seconds, got %d", MinPollInterval, MaxPollInterval, c.PollInterval)
	}
	for name, v := range map[string]int{
		"stalethreshold":       c.StaleThreshold,
		"maxreconnectattempts": c.MaxReconnectAttempts,
		"connecttimeout":       c.ConnectTimeout,
		"shutdowntimeout":      c.ShutdownTimeout,
		"commanddelayms":       c.CommandDelayMs,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if c.ModbusSlaveID < 0 || c.ModbusSlaveID > 247 {
		return fmt.Errorf("modbusslaveid must be between 0 and 247, got %d", c.ModbusSlaveID)
	}
	switch types.MeterInterface(c.MeterInterface) {
	case types.MeterInterfaceMbus, types.MeterInterfaceMQTT:
	default:
		return fmt.Errorf("unknown meterinterface %q", c.MeterInterface)
	}
	if types.MeterInterface(c.MeterInterface) == types.MeterInterfaceMbus && c.MeterModel != "" && !mbus.Supported(c.MeterModel) {
		return fmt.Errorf("unsupported metermodel %q", c.MeterModel)
	}
	return nil
}

func (c *CliConfig) PollDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

func (c *CliConfig) CoordinatorOptions() coordinator.Options {
	return coordinator.Options{
		PollInterval:         c.PollDuration(),
		StaleThreshold:       time.Duration(c.StaleThreshold) * time.Second,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		CommandDelay:         time.Duration(c.CommandDelayMs) * time.Millisecond,
		ConnectTimeout:       time.Duration(c.ConnectTimeout) * time.Second,
		ShutdownTimeout:      time.Duration(c.ShutdownTimeout) * time.Second,
	}
}
