package mqtt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nergy-se/airahome/pkg/api/v1/meter"
	"github.com/nergy-se/airahome/pkg/coordinator"
	"github.com/nergy-se/airahome/pkg/entity"
	"github.com/sirupsen/logrus"
)

const (
	Online  = "online"
	Offline = "offline"
)

type Device struct {
	ID        string
	Name      string
	SWVersion string
}

// Publisher exposes a device to Home Assistant using MQTT discovery.
type Publisher struct {
	broker          Broker
	device          Device
	discoveryPrefix string
	topicPrefix     string

	// discovery holds the last published config per discovery topic
	discovery map[string][]byte
	mu        sync.Mutex
}

func NewPublisher(broker Broker, device Device, discoveryPrefix, topicPrefix string) *Publisher {
	return &Publisher{
		broker:          broker,
		device:          device,
		discoveryPrefix: strings.TrimSuffix(discoveryPrefix, "/"),
		topicPrefix:     strings.TrimSuffix(topicPrefix, "/"),
		discovery:       make(map[string][]byte),
	}
}

// Topic returns the device topic below prefix, for example airahome/<id>/state.
func Topic(prefix, deviceID string, parts ...string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + deviceID + "/" + strings.Join(parts, "/")
}

func (p *Publisher) topic(parts ...string) string {
	return Topic(p.topicPrefix, p.device.ID, parts...)
}

func (p *Publisher) AvailabilityTopic() string    { return p.topic("availability") }
func (p *Publisher) StateTopic() string           { return p.topic("state") }
func (p *Publisher) AlarmAttributesTopic() string { return p.topic("alarms", "attributes") }
func (p *Publisher) WaterHeaterTopic() string     { return p.topic("water_heater", "state") }
func (p *Publisher) TemperatureCommandTopic() string {
	return p.topic("water_heater", "temperature", "set")
}
func (p *Publisher) MeterTopic() string { return p.topic("meter", "state") }

func (p *Publisher) discoveryTopic(component, key string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", p.discoveryPrefix, component, p.device.ID, key)
}

func (p *Publisher) uniqueID(key string) string {
	return p.device.ID + "_" + key
}

func (p *Publisher) deviceInfo() map[string]interface{} {
	return map[string]interface{}{
		"identifiers":  []string{p.device.ID},
		"name":         p.device.Name,
		"manufacturer": "Aira",
		"model":        "Heat Pump",
		"sw_version":   p.device.SWVersion,
	}
}

// Availability publishes online or offline for all entities except the
// connection sensor.
func (p *Publisher) Availability(online bool) error {
	payload := Offline
	if online {
		payload = Online
	}
	return p.broker.Publish(p.AvailabilityTopic(), []byte(payload), true)
}

// Publish sends discovery configs that changed, the state document, the alarm
// attributes and the water heater state for snap.
func (p *Publisher) Publish(snap *coordinator.Snapshot) error {
	if snap == nil || snap.Values == nil {
		return nil
	}
	sensors := entity.Sensors(snap.Values)
	binarySensors := entity.BinarySensors(snap.Values)

	err := p.publishDiscovery(snap, sensors, binarySensors)
	if err != nil {
		return err
	}

	doc := make(map[string]interface{}, len(sensors)+len(binarySensors))
	for _, s := range sensors {
		doc[s.Key] = s.State(snap)
	}
	var alarmAttributes map[string]interface{}
	for _, b := range binarySensors {
		doc[b.Key] = onOff(b.State(snap))
		if b.Attributes != nil {
			alarmAttributes = b.Attributes(snap)
		}
	}

	err = p.publishJSON(p.StateTopic(), doc, false)
	if err != nil {
		return err
	}
	if alarmAttributes != nil {
		err = p.publishJSON(p.AlarmAttributesTopic(), alarmAttributes, false)
		if err != nil {
			return err
		}
	}
	return p.publishJSON(p.WaterHeaterTopic(), entity.NewWaterHeater(snap.Values), false)
}

func (p *Publisher) PublishMeter(d *meter.Data) error {
	if d == nil {
		return nil
	}
	return p.publishJSON(p.MeterTopic(), d, false)
}

// OnTemperatureCommand calls fn with every water heater temperature request.
// requested is nil when the payload is empty.
func (p *Publisher) OnTemperatureCommand(fn func(requested *float64)) error {
	return p.broker.Subscribe(p.TemperatureCommandTopic(), func(topic string, payload []byte) {
		s := strings.TrimSpace(string(payload))
		if s == "" {
			fn(nil)
			return
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"topic":   topic,
				"payload": s,
			}).Warn("mqtt: invalid temperature command")
			return
		}
		fn(&v)
	})
}

func (p *Publisher) publishDiscovery(snap *coordinator.Snapshot, sensors []entity.Sensor, binarySensors []entity.BinarySensor) error {
	configs := make(map[string]interface{})
	for _, s := range sensors {
		configs[p.discoveryTopic("sensor", s.Key)] = p.sensorConfig(snap, s)
	}
	for _, b := range binarySensors {
		configs[p.discoveryTopic("binary_sensor", b.Key)] = p.binarySensorConfig(snap, b)
	}
	configs[p.discoveryTopic("water_heater", "water_heater")] = p.waterHeaterConfig()

	p.mu.Lock()
	defer p.mu.Unlock()

	for topic, cfg := range configs {
		b, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		if bytes.Equal(p.discovery[topic], b) {
			continue
		}
		err = p.broker.Publish(topic, b, true)
		if err != nil {
			return err
		}
		p.discovery[topic] = b
	}

	// A degraded snapshot says nothing about which entities exist.
	if !snap.Connected || len(snap.State) == 0 {
		return nil
	}

	// entities the device no longer reports
	for topic := range p.discovery {
		if _, ok := configs[topic]; ok {
			continue
		}
		err := p.broker.Publish(topic, nil, true)
		if err != nil {
			return err
		}
		delete(p.discovery, topic)
	}
	return nil
}

func (p *Publisher) base(key, name string, disabled bool) map[string]interface{} {
	return map[string]interface{}{
		"name":               name,
		"unique_id":          p.uniqueID(key),
		"object_id":          p.uniqueID(key),
		"state_topic":        p.StateTopic(),
		"value_template":     fmt.Sprintf("{{ value_json.%s }}", key),
		"availability_topic": p.AvailabilityTopic(),
		"enabled_by_default": !disabled,
		"device":             p.deviceInfo(),
	}
}

func (p *Publisher) sensorConfig(snap *coordinator.Snapshot, s entity.Sensor) map[string]interface{} {
	cfg := p.base(s.Key, s.Name, s.Disabled)
	setIf(cfg, "unit_of_measurement", s.Unit)
	setIf(cfg, "device_class", s.DeviceClass)
	setIf(cfg, "state_class", s.StateClass)
	setIf(cfg, "icon", s.CurrentIcon(snap))
	setIf(cfg, "entity_category", s.Category)
	return cfg
}

func (p *Publisher) binarySensorConfig(snap *coordinator.Snapshot, b entity.BinarySensor) map[string]interface{} {
	cfg := p.base(b.Key, b.Name, b.Disabled)
	on := b.State(snap)
	setIf(cfg, "device_class", b.DeviceClass)
	setIf(cfg, "icon", b.Icon(on != nil && *on))
	cfg["payload_on"] = "ON"
	cfg["payload_off"] = "OFF"
	if b.DeviceClass == entity.ClassConnectivity {
		// must stay available to report the link as down
		delete(cfg, "availability_topic")
	}
	if b.Attributes != nil {
		cfg["json_attributes_topic"] = p.AlarmAttributesTopic()
	}
	return cfg
}

func (p *Publisher) waterHeaterConfig() map[string]interface{} {
	return map[string]interface{}{
		"name":                         "DHW Tank",
		"unique_id":                    p.uniqueID("water_heater"),
		"object_id":                    p.uniqueID("water_heater"),
		"availability_topic":           p.AvailabilityTopic(),
		"current_temperature_topic":    p.WaterHeaterTopic(),
		"current_temperature_template": "{{ value_json.current_temperature }}",
		"temperature_state_topic":      p.WaterHeaterTopic(),
		"temperature_state_template":   "{{ value_json.temperature }}",
		"temperature_command_topic":    p.TemperatureCommandTopic(),
		"mode_state_topic":             p.WaterHeaterTopic(),
		"mode_state_template":          "{{ value_json.mode }}",
		"modes":                        entity.Operations,
		"min_temp":                     entity.WaterHeaterMin,
		"max_temp":                     entity.WaterHeaterMax,
		"precision":                    entity.WaterHeaterStep,
		"temperature_unit":             "C",
		"device":                       p.deviceInfo(),
	}
}

func (p *Publisher) publishJSON(topic string, v interface{}, retain bool) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.broker.Publish(topic, b, retain)
}

func setIf(m map[string]interface{}, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func onOff(b *bool) interface{} {
	if b == nil {
		return nil
	}
	if *b {
		return "ON"
	}
	return "OFF"
}
