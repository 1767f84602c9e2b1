package config

import "time"

// BridgeConfig is the root configuration for a bridge instance.
type BridgeConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Logging   LoggingConfig   `yaml:"logging"`
	Backends  []BackendConfig `yaml:"backends"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Bus       BusConfig       `yaml:"bus"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Health    HealthConfig    `yaml:"health"`
}

// InstanceConfig identifies this bridge.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text" or "json"
}

// BackendConfig describes one upstream STOMP-over-WebSocket server.
// Each backend gets exactly one connection manager.
type BackendConfig struct {
	Name           string            `yaml:"name"`
	URL            string            `yaml:"url"`          // ws:// or wss:// endpoint
	Destinations   []string          `yaml:"destinations"` // subscribed on start
	Headers        map[string]string `yaml:"headers"`      // extra WebSocket handshake headers
	Host           string            `yaml:"host"`         // STOMP virtual host
	Login          string            `yaml:"login"`
	Passcode       string            `yaml:"passcode"`
	ConnectTimeout time.Duration     `yaml:"connect_timeout"`
	HeartbeatSend  time.Duration     `yaml:"heartbeat_send"`
	HeartbeatRecv  time.Duration     `yaml:"heartbeat_recv"`
}

// ReconnectConfig holds the supervisor's backoff settings.
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// BusConfig holds settings for the local message bus and its optional MQTT mirror.
type BusConfig struct {
	BufferSize int        `yaml:"buffer_size"` // initial per-subscriber queue capacity
	QueueLimit int        `yaml:"queue_limit"` // per-subscriber cap; oldest messages are dropped beyond it
	MQTT       MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig configures re-publishing of forwarded frames to an MQTT broker.
type MQTTConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Broker      string        `yaml:"broker"` // e.g. tcp://localhost:1883
	ClientID    string        `yaml:"client_id"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	QoS         byte          `yaml:"qos"`
	TopicPrefix string        `yaml:"topic_prefix"`
	Envelope    bool          `yaml:"envelope"` // wrap payload and headers in JSON
	Timeout     time.Duration `yaml:"timeout"`
}

// ArchiveConfig configures persistence of forwarded frames.
type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// HealthConfig holds the health/debug HTTP server settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}
