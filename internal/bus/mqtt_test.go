package bus

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/stompbridge/internal/config"
)

type fakeToken struct {
	done bool
	err  error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.done }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if t.done {
		close(ch)
	}
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type mqttPublish struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeMQTTClient struct {
	published    []mqttPublish
	token        *fakeToken
	disconnected bool
}

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, mqttPublish{topic: topic, qos: qos, payload: payload.([]byte)})
	return c.token
}

func (c *fakeMQTTClient) Disconnect(uint) { c.disconnected = true }

func TestMQTT_PublishRaw(t *testing.T) {
	client := &fakeMQTTClient{token: &fakeToken{done: true}}
	p := newMQTT(client, config.MQTTConfig{TopicPrefix: "bridge", QoS: 1, Timeout: time.Second}, nil)

	require.NoError(t, p.Publish("/topic/quotes", []byte("hello"), map[string]string{"a": "1"}))

	require.Len(t, client.published, 1)
	assert.Equal(t, "bridge/topic/quotes", client.published[0].topic)
	assert.Equal(t, byte(1), client.published[0].qos)
	assert.Equal(t, "hello", string(client.published[0].payload))

	p.Close()
	assert.True(t, client.disconnected)
}

func TestMQTT_PublishEnvelope(t *testing.T) {
	client := &fakeMQTTClient{token: &fakeToken{done: true}}
	p := newMQTT(client, config.MQTTConfig{Envelope: true, Timeout: time.Second}, nil)

	require.NoError(t, p.Publish("/topic/quotes", []byte(`{"a":"1"}`), map[string]string{"a": "1"}))
	require.NoError(t, p.Publish("/topic/text", []byte("plain"), nil))

	var env Envelope
	require.NoError(t, json.Unmarshal(client.published[0].payload, &env))
	assert.Equal(t, "/topic/quotes", env.Destination)
	assert.JSONEq(t, `{"a":"1"}`, string(env.Body))
	assert.Equal(t, "1", env.Headers["a"])

	env = Envelope{}
	require.NoError(t, json.Unmarshal(client.published[1].payload, &env))
	assert.Equal(t, "plain", env.Text)
	assert.Empty(t, env.Body)
}

func TestMQTT_PublishErrors(t *testing.T) {
	client := &fakeMQTTClient{token: &fakeToken{done: false}}
	p := newMQTT(client, config.MQTTConfig{Timeout: time.Millisecond}, nil)

	err := p.Publish("/topic/x", nil, nil)
	assert.ErrorIs(t, err, ErrPublishTimeout)

	brokerErr := errors.New("not authorized")
	client.token = &fakeToken{done: true, err: brokerErr}
	err = p.Publish("/topic/x", nil, nil)
	assert.ErrorIs(t, err, brokerErr)
}

func TestTopic(t *testing.T) {
	tests := []struct {
		prefix      string
		destination string
		want        string
	}{
		{"", "/topic/quotes", "topic/quotes"},
		{"bridge", "/topic/quotes", "bridge/topic/quotes"},
		{"/bridge/", "/queue/orders/", "bridge/queue/orders"},
		{"bridge", "/topic/a+b#c", "bridge/topic/a_b_c"},
		{"bridge", "/", "bridge"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Topic(tt.prefix, tt.destination))
		})
	}
}
