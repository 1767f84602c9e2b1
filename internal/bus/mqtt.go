package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rickgao/stompbridge/internal/config"
)

// ErrPublishTimeout is returned when the broker does not acknowledge a publish in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// mqttClient is the part of mqtt.Client the publisher uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT re-publishes forwarded frames to an MQTT broker.
type MQTT struct {
	client   mqttClient
	prefix   string
	qos      byte
	envelope bool
	timeout  time.Duration
	logger   *slog.Logger
}

// Envelope is the JSON document published when envelope mode is on.
type Envelope struct {
	Destination string            `json:"destination"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        json.RawMessage   `json:"body,omitempty"` // payloads that are valid JSON
	Text        string            `json:"text,omitempty"` // any other payload
}

// DialMQTT connects to cfg.Broker and returns a publisher for it.
func DialMQTT(cfg config.MQTTConfig, logger *slog.Logger) (*MQTT, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mqtt", "broker", cfg.Broker)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", "error", err)
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info("mqtt connected")
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("connect mqtt %s: timed out after %v", cfg.Broker, cfg.Timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", cfg.Broker, err)
	}

	return newMQTT(client, cfg, logger), nil
}

func newMQTT(client mqttClient, cfg config.MQTTConfig, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTT{
		client:   client,
		prefix:   cfg.TopicPrefix,
		qos:      cfg.QoS,
		envelope: cfg.Envelope,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

// Publish sends payload to the topic derived from destination and waits for
// the broker to acknowledge it.
func (p *MQTT) Publish(destination string, payload []byte, headers map[string]string) error {
	topic := Topic(p.prefix, destination)

	body := payload
	if p.envelope {
		var err error
		body, err = encodeEnvelope(destination, payload, headers)
		if err != nil {
			return fmt.Errorf("encode envelope for %s: %w", destination, err)
		}
	}

	token := p.client.Publish(topic, p.qos, false, body)
	if p.timeout <= 0 {
		token.Wait()
	} else if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker, giving in-flight work 250ms to finish.
func (p *MQTT) Close() {
	p.client.Disconnect(250)
}

// Topic maps a STOMP destination to an MQTT topic under prefix. Leading and
// trailing slashes are trimmed and MQTT wildcard characters are replaced.
func Topic(prefix, destination string) string {
	name := strings.Trim(destination, "/")
	name = strings.NewReplacer("+", "_", "#", "_").Replace(name)

	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	if name == "" {
		return prefix
	}
	return prefix + "/" + name
}

func encodeEnvelope(destination string, payload []byte, headers map[string]string) ([]byte, error) {
	env := Envelope{
		Destination: destination,
		Headers:     headers,
	}
	if json.Valid(payload) {
		env.Body = payload
	} else {
		env.Text = string(payload)
	}
	return json.Marshal(env)
}
