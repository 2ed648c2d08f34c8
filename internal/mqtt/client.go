package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ponytojas/go-mqtt-hotspot/config"
	"github.com/ponytojas/go-mqtt-hotspot/internal/models"
)

// ErrNotConnected is returned when publishing or subscribing without a broker connection
var ErrNotConnected = errors.New("mqtt: not connected")

// Client wraps a paho client behind the narrow connect/subscribe/publish/receive contract
// used by the node loop. Inbound messages are buffered until Receive drains them.
type Client struct {
	mu      sync.RWMutex
	client  mqtt.Client
	opts    *mqtt.ClientOptions
	config  *config.Config
	inbox   chan models.Message
	dropped atomic.Uint64
	verbose bool
}

// NewClient creates a new MQTT client. No connection is made until Connect.
func NewClient(cfg *config.Config) (*Client, error) {
	opts := mqtt.NewClientOptions()
	brokerURL := cfg.GetMQTTBrokerURL()
	opts.AddBroker(brokerURL)
	opts.SetClientID(cfg.MQTT.ClientID)
	opts.SetConnectTimeout(cfg.MQTT.ConnectTimeout)
	opts.SetCleanSession(true)

	// Configure TLS if using SSL or HTTPS
	if strings.HasPrefix(brokerURL, "ssl://") || strings.HasPrefix(brokerURL, "wss://") {
		log.Printf("Configuring TLS for secure connection to %s", brokerURL)
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		opts.SetTLSConfig(tlsConfig)
	}

	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	// The node loop owns reconnection.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("Connection lost: %v", err)
	})

	size := cfg.MQTT.InboxSize
	if size <= 0 {
		size = 64
	}

	return &Client{
		opts:    opts,
		config:  cfg,
		inbox:   make(chan models.Message, size),
		verbose: cfg.Verbose,
	}, nil
}

// Connect connects to the MQTT broker with the given client ID and reports success
func (c *Client) Connect(clientID string) bool {
	c.mu.Lock()
	if c.client != nil && c.client.IsConnected() {
		c.mu.Unlock()
		return true
	}
	if clientID != "" {
		c.opts.SetClientID(clientID)
	}
	client := mqtt.NewClient(c.opts)
	c.client = client
	c.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(c.config.MQTT.ConnectTimeout) {
		log.Printf("Timed out connecting to MQTT broker %s", c.config.GetMQTTBrokerURL())
		// abort the attempt so a late CONNACK cannot bring this session up behind our back
		client.Disconnect(0)
		return false
	}
	if err := token.Error(); err != nil {
		log.Printf("Failed to connect to MQTT broker: %v", err)
		return false
	}
	log.Printf("Connected to MQTT broker: %s as %s", c.config.GetMQTTBrokerURL(), clientID)
	return true
}

// Subscribe subscribes to topic and buffers its messages for Receive
func (c *Client) Subscribe(topic string) error {
	client := c.current()
	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		if c.verbose {
			log.Printf("Received message on topic %s: %s", msg.Topic(), string(msg.Payload()))
		}
		m := models.Message{Topic: msg.Topic(), Payload: append([]byte(nil), msg.Payload()...)}
		select {
		case c.inbox <- m:
		default:
			c.dropped.Add(1)
			log.Printf("Inbox full, dropping message on topic %s", msg.Topic())
		}
	}

	token := client.Subscribe(topic, 0, handler)
	if !token.WaitTimeout(c.config.MQTT.ConnectTimeout) {
		return fmt.Errorf("timed out subscribing to topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}
	log.Printf("Subscribed to topic: %s", topic)
	return nil
}

// Publish sends payload on topic with QoS 0. It fails fast when disconnected.
func (c *Client) Publish(topic string, payload []byte) error {
	client := c.current()
	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	token := client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(c.config.MQTT.ConnectTimeout) {
		return fmt.Errorf("timed out publishing to topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// Receive returns the messages buffered since the last call without blocking
func (c *Client) Receive() []models.Message {
	var out []models.Message
	for {
		select {
		case m := <-c.inbox:
			out = append(out, m)
		default:
			return out
		}
	}
}

// IsConnected reports whether the broker connection is up
func (c *Client) IsConnected() bool {
	client := c.current()
	return client != nil && client.IsConnected()
}

// Dropped returns how many inbound messages were discarded because the inbox was full
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Disconnect disconnects from the MQTT broker
func (c *Client) Disconnect() {
	client := c.current()
	if client == nil || !client.IsConnected() {
		return
	}
	client.Disconnect(250)
	log.Println("Disconnected from MQTT broker")
}

func (c *Client) current() mqtt.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}
