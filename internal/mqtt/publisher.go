// Package mqtt publishes analysis results to an MQTT broker with
// Home Assistant discovery metadata.
package mqtt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"codeberg.org/mutker/docsismon/internal/analyzer"
	"codeberg.org/mutker/docsismon/internal/errors"
	"codeberg.org/mutker/docsismon/internal/logger"
)

const (
	online  = "online"
	offline = "offline"
)

var unsafeID = regexp.MustCompile(`[^a-z0-9_]+`)

// Publisher sends discovery metadata once per entity and state every cycle.
type Publisher struct {
	client Client
	cfg    Config
	log    logger.Logger

	mu        sync.Mutex
	announced map[string]bool
}

func NewPublisher(client Client, cfg Config, log logger.Logger) *Publisher {
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{
		client:    client,
		cfg:       cfg,
		log:       log,
		announced: make(map[string]bool),
	}
}

type device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
	HWVersion    string   `json:"hw_version,omitempty"`
}

type sensorConfig struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	StateTopic        string `json:"state_topic"`
	ValueTemplate     string `json:"value_template"`
	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`
	StateClass        string `json:"state_class,omitempty"`
	Icon              string `json:"icon,omitempty"`
	AvailabilityTopic string `json:"availability_topic"`
	Device            device `json:"device"`
}

type sensor struct {
	key   string
	name  string
	field string
	unit  string
	icon  string
}

var summarySensors = []sensor{
	{"health", "Health", "health", "", "mdi:heart-pulse"},
	{"ds_channels", "Downstream channels", "ds_channels", "", "mdi:download-network"},
	{"us_channels", "Upstream channels", "us_channels", "", "mdi:upload-network"},
	{"ds_power_avg", "Downstream power", "ds_power_avg", "dBmV", ""},
	{"us_power_avg", "Upstream power", "us_power_avg", "dBmV", ""},
	{"snr_min", "SNR minimum", "snr_min", "dB", ""},
	{"snr_avg", "SNR average", "snr_avg", "dB", ""},
	{"total_corrected", "Corrected errors", "total_corrected", "", "mdi:check-circle-outline"},
	{"total_uncorrected", "Uncorrectable errors", "total_uncorrected", "", "mdi:alert-circle-outline"},
	{"us_capacity_mbps", "Upstream capacity", "us_capacity_mbps", "Mbit/s", "mdi:speedometer"},
}

func nodeID(source string) string {
	return "docsismon_" + strings.Trim(unsafeID.ReplaceAllString(strings.ToLower(source), "_"), "_")
}

func availabilityTopic(prefix string) string {
	return prefix + "/availability"
}

func (p *Publisher) stateTopic(source string) string {
	return fmt.Sprintf("%s/%s/state", p.cfg.TopicPrefix, source)
}

func (p *Publisher) channelTopic(source string, dir analyzer.Direction, id int) string {
	return fmt.Sprintf("%s/%s/%s/%d", p.cfg.TopicPrefix, source, dir, id)
}

func (p *Publisher) configTopic(node, object string) string {
	return fmt.Sprintf("%s/sensor/%s/%s/config", p.cfg.DiscoveryPrefix, node, object)
}

func (p *Publisher) device(source string, res *analyzer.Result) device {
	d := res.Device
	name := d.Model
	if name == "" {
		name = source
	}
	return device{
		Identifiers:  []string{nodeID(source)},
		Name:         name,
		Manufacturer: d.Vendor,
		Model:        d.Model,
		SWVersion:    d.Firmware,
		HWVersion:    d.Hardware,
	}
}

// Announce publishes retained discovery configs for the device and for any
// channel not seen before.
func (p *Publisher) Announce(source string, res *analyzer.Result) error {
	if res == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	node := nodeID(source)
	dev := p.device(source, res)
	avail := availabilityTopic(p.cfg.TopicPrefix)

	if !p.announced[node] {
		for _, s := range summarySensors {
			cfg := sensorConfig{
				Name:              s.name,
				UniqueID:          node + "_" + s.key,
				StateTopic:        p.stateTopic(source),
				ValueTemplate:     fmt.Sprintf("{{ value_json.%s }}", s.field),
				UnitOfMeasurement: s.unit,
				Icon:              s.icon,
				AvailabilityTopic: avail,
				Device:            dev,
			}
			if s.key != "health" {
				cfg.StateClass = "measurement"
			}
			if err := p.publishJSON(p.configTopic(node, s.key), true, cfg); err != nil {
				return err
			}
		}
		if err := p.client.Publish(avail, true, []byte(online)); err != nil {
			return err
		}
		p.announced[node] = true
		p.log.Info().Str("source", source).Msg("Published Home Assistant discovery")
	}

	announce := func(ch analyzer.ChannelResult) error {
		object := fmt.Sprintf("%s_%d", ch.Direction, ch.ChannelID)
		key := node + "/" + object
		if p.announced[key] {
			return nil
		}

		topic := p.channelTopic(source, ch.Direction, ch.ChannelID)
		label := "DS"
		if ch.Direction == analyzer.Upstream {
			label = "US"
		}

		sensors := []sensorConfig{{
			Name:              fmt.Sprintf("%s %d power", label, ch.ChannelID),
			UniqueID:          node + "_" + object + "_power",
			StateTopic:        topic,
			ValueTemplate:     "{{ value_json.power }}",
			UnitOfMeasurement: "dBmV",
			StateClass:        "measurement",
			AvailabilityTopic: avail,
			Device:            dev,
		}}
		if ch.Direction == analyzer.Downstream {
			sensors = append(sensors, sensorConfig{
				Name:              fmt.Sprintf("%s %d SNR", label, ch.ChannelID),
				UniqueID:          node + "_" + object + "_snr",
				StateTopic:        topic,
				ValueTemplate:     "{{ value_json.snr }}",
				UnitOfMeasurement: "dB",
				StateClass:        "measurement",
				AvailabilityTopic: avail,
				Device:            dev,
			})
		}

		for _, s := range sensors {
			if err := p.publishJSON(p.configTopic(node, strings.TrimPrefix(s.UniqueID, node+"_")), true, s); err != nil {
				return err
			}
		}
		p.announced[key] = true
		return nil
	}

	for _, ch := range res.Downstream {
		if err := announce(ch); err != nil {
			return err
		}
	}
	for _, ch := range res.Upstream {
		if err := announce(ch); err != nil {
			return err
		}
	}
	return nil
}

// Publish sends the summary and every channel's state.
func (p *Publisher) Publish(source string, res *analyzer.Result) error {
	if res == nil {
		return nil
	}

	if err := p.publishJSON(p.stateTopic(source), false, res.Summary); err != nil {
		return err
	}
	for _, chs := range [][]analyzer.ChannelResult{res.Downstream, res.Upstream} {
		for _, ch := range chs {
			if err := p.publishJSON(p.channelTopic(source, ch.Direction, ch.ChannelID), false, ch); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close marks the device offline and disconnects.
func (p *Publisher) Close() error {
	err := p.client.Publish(availabilityTopic(p.cfg.TopicPrefix), true, []byte(offline))
	p.client.Disconnect()
	return err
}

func (p *Publisher) publishJSON(topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.New().Wrap(ErrPublish, err)
	}
	return p.client.Publish(topic, retained, payload)
}
