package config

import (
	"fmt"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultConnectTimeout      = 10 * time.Second
	DefaultHeartbeat           = 10 * time.Second
	DefaultReconnectInitial    = 1 * time.Second
	DefaultReconnectMax        = 60 * time.Second
	DefaultReconnectMultiplier = 2.0
	DefaultBusBufferSize       = 1000
	DefaultBusQueueLimit       = 100000
	DefaultMQTTTopicPrefix     = ""
	DefaultMQTTTimeout         = 5 * time.Second
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 10
	DefaultMinConns            = 2
	DefaultBatchSize           = 500
	DefaultFlushInterval       = 1 * time.Second
	DefaultArchiveBufferSize   = 10000
	DefaultHealthPort          = 8080
)

// ApplyDefaults fills zero-valued optional fields.
func (c *BridgeConfig) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	for i := range c.Backends {
		applyBackendDefaults(&c.Backends[i], i)
	}

	if c.Reconnect.InitialDelay == 0 {
		c.Reconnect.InitialDelay = DefaultReconnectInitial
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultReconnectMax
	}
	if c.Reconnect.Multiplier == 0 {
		c.Reconnect.Multiplier = DefaultReconnectMultiplier
	}

	if c.Bus.BufferSize == 0 {
		c.Bus.BufferSize = DefaultBusBufferSize
	}
	if c.Bus.QueueLimit == 0 {
		c.Bus.QueueLimit = DefaultBusQueueLimit
	}
	if c.Bus.MQTT.ClientID == "" {
		c.Bus.MQTT.ClientID = "stompbridge-" + c.Instance.ID
	}
	if c.Bus.MQTT.Timeout == 0 {
		c.Bus.MQTT.Timeout = DefaultMQTTTimeout
	}

	applyDBDefaults(&c.Archive.Database)
	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = DefaultBatchSize
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = DefaultFlushInterval
	}
	if c.Archive.BufferSize == 0 {
		c.Archive.BufferSize = DefaultArchiveBufferSize
	}

	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}

func applyBackendDefaults(b *BackendConfig, index int) {
	if b.Name == "" {
		b.Name = fmt.Sprintf("backend-%d", index)
	}
	if b.ConnectTimeout == 0 {
		b.ConnectTimeout = DefaultConnectTimeout
	}
	if b.HeartbeatSend == 0 {
		b.HeartbeatSend = DefaultHeartbeat
	}
	if b.HeartbeatRecv == 0 {
		b.HeartbeatRecv = DefaultHeartbeat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
