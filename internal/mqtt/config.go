package mqtt

import (
	"time"

	"codeberg.org/mutker/docsismon/internal/errors"
)

type Config struct {
	Enabled         bool
	Broker          string
	Username        string
	Password        string
	ClientID        string
	TopicPrefix     string
	DiscoveryPrefix string
	Timeout         time.Duration
}

func DefaultConfig() Config {
	return Config{
		ClientID:        "docsismon",
		TopicPrefix:     "docsismon",
		DiscoveryPrefix: "homeassistant",
		Timeout:         10 * time.Second,
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Broker == "" {
		return errors.New().WithData(errors.ErrInvalidConfig, "mqtt.broker is required when mqtt is enabled")
	}
	if c.TopicPrefix == "" || c.DiscoveryPrefix == "" {
		return errors.New().WithData(errors.ErrInvalidConfig, "mqtt topic prefixes must not be empty")
	}
	return nil
}
