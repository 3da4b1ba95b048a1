package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	mqttv2 "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/sirupsen/logrus"
)

// Broker is where entities are published and commands are received.
type Broker interface {
	Publish(topic string, payload []byte, retain bool) error
	Subscribe(filter string, handler func(topic string, payload []byte)) error
	Close() error
}

// Embedded is an in-process broker that Home Assistant connects to.
type Embedded struct {
	server *mqttv2.Server
	subID  int
	mu     sync.Mutex
}

// Start runs an embedded broker on listen until Close is called.
func Start(listen string) (*Embedded, error) {
	server := mqttv2.New(&mqttv2.Options{
		InlineClient: true,
	})

	// Allow all connections.
	_ = server.AddHook(new(auth.AllowHook), nil)

	tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: listen})
	err := server.AddListener(tcp)
	if err != nil {
		return nil, err
	}

	err = server.Serve()
	if err != nil {
		return nil, err
	}

	return &Embedded{server: server}, nil
}

func (e *Embedded) Publish(topic string, payload []byte, retain bool) error {
	return e.server.Publish(topic, payload, retain, 1)
}

func (e *Embedded) Subscribe(filter string, handler func(topic string, payload []byte)) error {
	e.mu.Lock()
	e.subID++
	id := e.subID
	e.mu.Unlock()
	return e.server.Subscribe(filter, id, func(cl *mqttv2.Client, sub packets.Subscription, pk packets.Packet) {
		handler(pk.TopicName, pk.Payload)
	})
}

func (e *Embedded) Close() error {
	return e.server.Close()
}

// Client publishes to an external broker.
type Client struct {
	client  paho.Client
	timeout time.Duration

	subscriptions map[string]paho.MessageHandler
	mu            sync.Mutex
}

type ClientConfig struct {
	Broker   string
	Username string
	Password string
	// WillTopic gets WillPayload retained if the connection is lost.
	WillTopic   string
	WillPayload string
}

func NewClient(cfg ClientConfig) (*Client, error) {
	c := &Client{
		timeout:       10 * time.Second,
		subscriptions: make(map[string]paho.MessageHandler),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID("airahome-" + uuid.NewString())
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.WillTopic != "" {
		opts.SetWill(cfg.WillTopic, cfg.WillPayload, 1, true)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(c.timeout)
	opts.SetOnConnectHandler(c.resubscribe)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logrus.Warnf("mqtt: connection to broker lost: %s", err)
	})

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(c.timeout) {
		return nil, fmt.Errorf("timeout connecting to mqtt broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	return c, nil
}

// resubscribe restores subscriptions after an automatic reconnect.
func (c *Client) resubscribe(client paho.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for filter, handler := range c.subscriptions {
		token := client.Subscribe(filter, 1, handler)
		if token.WaitTimeout(c.timeout) && token.Error() != nil {
			logrus.Errorf("mqtt: failed to resubscribe to %s: %s", filter, token.Error())
		}
	}
}

func (c *Client) Publish(topic string, payload []byte, retain bool) error {
	token := c.client.Publish(topic, 1, retain, payload)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("timeout publishing to topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

func (c *Client) Subscribe(filter string, handler func(topic string, payload []byte)) error {
	h := func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	}
	c.mu.Lock()
	c.subscriptions[filter] = h
	c.mu.Unlock()

	token := c.client.Subscribe(filter, 1, h)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("timeout subscribing to topic %s", filter)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", filter, err)
	}
	return nil
}

func (c *Client) Close() error {
	c.client.Disconnect(250)
	return nil
}
