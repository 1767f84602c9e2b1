package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *BridgeConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if len(c.Backends) == 0 {
		return errors.New("at least one backend is required")
	}
	names := make(map[string]struct{}, len(c.Backends))
	for i := range c.Backends {
		b := &c.Backends[i]
		if err := b.validate(fmt.Sprintf("backends[%d]", i)); err != nil {
			return err
		}
		if _, dup := names[b.Name]; dup {
			return fmt.Errorf("backends[%d].name %q is not unique", i, b.Name)
		}
		names[b.Name] = struct{}{}
	}

	if c.Reconnect.InitialDelay <= 0 {
		return errors.New("reconnect.initial_delay must be > 0")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
		return fmt.Errorf("reconnect.max_delay (%v) cannot be less than initial_delay (%v)",
			c.Reconnect.MaxDelay, c.Reconnect.InitialDelay)
	}
	if c.Reconnect.Multiplier < 1 {
		return errors.New("reconnect.multiplier must be >= 1")
	}

	if c.Bus.BufferSize < 1 {
		return errors.New("bus.buffer_size must be >= 1")
	}
	if c.Bus.QueueLimit < 0 {
		return errors.New("bus.queue_limit must be >= 0")
	}
	if c.Bus.MQTT.Enabled {
		if c.Bus.MQTT.Broker == "" {
			return errors.New("bus.mqtt.broker is required when mqtt is enabled")
		}
		if c.Bus.MQTT.QoS > 2 {
			return fmt.Errorf("bus.mqtt.qos must be 0, 1 or 2, got %d", c.Bus.MQTT.QoS)
		}
	}

	if c.Archive.Enabled {
		if err := c.Archive.Database.validate("archive.database"); err != nil {
			return err
		}
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
		if c.Archive.BufferSize < 1 {
			return errors.New("archive.buffer_size must be >= 1")
		}
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (b *BackendConfig) validate(prefix string) error {
	if b.URL == "" {
		return fmt.Errorf("%s.url is required", prefix)
	}
	u, err := url.Parse(b.URL)
	if err != nil {
		return fmt.Errorf("%s.url: %w", prefix, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%s.url must use ws or wss scheme, got %q", prefix, u.Scheme)
	}
	if b.ConnectTimeout < 0 {
		return fmt.Errorf("%s.connect_timeout must be >= 0", prefix)
	}
	seen := make(map[string]struct{}, len(b.Destinations))
	for _, d := range b.Destinations {
		if d == "" {
			return fmt.Errorf("%s.destinations contains an empty destination", prefix)
		}
		if _, dup := seen[d]; dup {
			return fmt.Errorf("%s.destinations contains %q twice", prefix, d)
		}
		seen[d] = struct{}{}
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
