package mqtt

import (
	"time"

	"codeberg.org/mutker/docsismon/internal/errors"
	"codeberg.org/mutker/docsismon/internal/logger"
	paho "github.com/eclipse/paho.mqtt.golang"
)

// Client is the part of a broker connection the Publisher needs.
type Client interface {
	Publish(topic string, retained bool, payload []byte) error
	Disconnect()
}

type pahoClient struct {
	c       paho.Client
	timeout time.Duration
}

// Dial connects to the broker. The availability topic is set as last will so
// the broker marks the device offline if the daemon dies.
func Dial(cfg Config, log logger.Logger) (Client, error) {
	errFactory := errors.New()

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout).
		SetWill(availabilityTopic(cfg.TopicPrefix), offline, 1, true).
		SetOnConnectHandler(func(paho.Client) {
			log.Info().Str("broker", cfg.Broker).Msg("Connected to MQTT broker")
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		})

	c := paho.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(cfg.Timeout) {
		return nil, errFactory.WithData(ErrTimeout, cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, errFactory.Wrap(ErrConnect, err)
	}

	return &pahoClient{c: c, timeout: cfg.Timeout}, nil
}

func (p *pahoClient) Publish(topic string, retained bool, payload []byte) error {
	tok := p.c.Publish(topic, 1, retained, payload)
	if !tok.WaitTimeout(p.timeout) {
		return errors.New().WithData(ErrTimeout, topic)
	}
	if err := tok.Error(); err != nil {
		return errors.New().Wrap(ErrPublish, err)
	}
	return nil
}

func (p *pahoClient) Disconnect() {
	p.c.Disconnect(250)
}
