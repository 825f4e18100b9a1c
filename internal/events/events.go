// Package events turns consecutive analysis results into discrete events
// such as health changes, power shifts or error spikes.
package events

import (
	"fmt"
	"math"
	"sync"
	"time"

	"codeberg.org/mutker/docsismon/internal/analyzer"
	"github.com/google/uuid"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	TypeHealthChange        = "health_change"
	TypeDSPowerShift        = "ds_power_shift"
	TypeUSPowerShift        = "us_power_shift"
	TypeSNRDrop             = "snr_drop"
	TypeUncorrectableSpike  = "uncorr_spike"
	TypeChannelCountChange  = "channel_count_change"
	TypeModulationDowngrade = "modulation_downgrade"
)

type Event struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

type Config struct {
	PowerShiftDB float64
	SNRDropDB    float64
	UncorrSpike  int64
}

func DefaultConfig() Config {
	return Config{PowerShiftDB: 3, SNRDropDB: 3, UncorrSpike: 1000}
}

// Detector remembers the previous result per source.
type Detector struct {
	cfg   Config
	mu    sync.Mutex
	prev  map[string]*analyzer.Result
	now   func() time.Time
	newID func() string
}

type Option func(*Detector)

// WithNow sets the clock used for event timestamps.
func WithNow(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

func NewDetector(cfg Config, opts ...Option) *Detector {
	d := &Detector{
		cfg:   cfg,
		prev:  make(map[string]*analyzer.Result),
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect compares res with the previous result for source and makes res the
// new baseline. The first result for a source only sets the baseline.
func (d *Detector) Detect(source string, res *analyzer.Result) []Event {
	evs, commit := d.Compare(source, res)
	commit()
	return evs
}

// Compare is Detect without moving the baseline. The baseline becomes res
// only when commit is called, so events that could not be persisted are
// detected again on the next result.
func (d *Detector) Compare(source string, res *analyzer.Result) ([]Event, func()) {
	if res == nil {
		return nil, func() {}
	}
	d.mu.Lock()
	prev := d.prev[source]
	d.mu.Unlock()

	commit := func() {
		d.mu.Lock()
		d.prev[source] = res
		d.mu.Unlock()
	}
	if prev == nil {
		return nil, commit
	}
	return d.diff(source, prev, res), commit
}

func (d *Detector) diff(source string, prev, res *analyzer.Result) []Event {
	var out []Event
	emit := func(typ string, sev Severity, msg string, details map[string]any) {
		out = append(out, Event{
			ID:        d.newID(),
			Source:    source,
			Timestamp: d.now(),
			Type:      typ,
			Severity:  sev,
			Message:   msg,
			Details:   details,
		})
	}

	p, c := prev.Summary, res.Summary

	if p.Health != c.Health {
		emit(TypeHealthChange, healthSeverity(c.Health),
			fmt.Sprintf("Health changed from %s to %s", p.Health, c.Health),
			map[string]any{"from": p.Health, "to": c.Health, "issues": c.Issues})
	}

	if p.DSChannels > 0 && c.DSChannels > 0 {
		if delta := c.DSPowerAvg - p.DSPowerAvg; math.Abs(delta) >= d.cfg.PowerShiftDB {
			emit(TypeDSPowerShift, SeverityWarning,
				fmt.Sprintf("Downstream power shifted by %+.1f dB", delta),
				map[string]any{"from": p.DSPowerAvg, "to": c.DSPowerAvg})
		}
	}
	if p.USChannels > 0 && c.USChannels > 0 {
		if delta := c.USPowerAvg - p.USPowerAvg; math.Abs(delta) >= d.cfg.PowerShiftDB {
			emit(TypeUSPowerShift, SeverityWarning,
				fmt.Sprintf("Upstream power shifted by %+.1f dB", delta),
				map[string]any{"from": p.USPowerAvg, "to": c.USPowerAvg})
		}
	}
	if p.SNRAvg > 0 && c.SNRAvg > 0 {
		if drop := p.SNRAvg - c.SNRAvg; drop >= d.cfg.SNRDropDB {
			emit(TypeSNRDrop, SeverityWarning,
				fmt.Sprintf("Average SNR dropped by %.1f dB", drop),
				map[string]any{"from": p.SNRAvg, "to": c.SNRAvg})
		}
	}

	// a negative delta means the modem restarted and reset its counters
	if spike := c.TotalUncorrected - p.TotalUncorrected; d.cfg.UncorrSpike > 0 && spike >= d.cfg.UncorrSpike {
		emit(TypeUncorrectableSpike, SeverityWarning,
			fmt.Sprintf("%d new uncorrectable errors", spike),
			map[string]any{"from": p.TotalUncorrected, "to": c.TotalUncorrected})
	}

	if p.DSChannels != c.DSChannels || p.USChannels != c.USChannels {
		emit(TypeChannelCountChange, SeverityWarning,
			fmt.Sprintf("Channel count changed from %d/%d to %d/%d", p.DSChannels, p.USChannels, c.DSChannels, c.USChannels),
			map[string]any{
				"ds_from": p.DSChannels, "ds_to": c.DSChannels,
				"us_from": p.USChannels, "us_to": c.USChannels,
			})
	}

	for _, ev := range modulationDowngrades(prev.Upstream, res.Upstream) {
		emit(TypeModulationDowngrade, ev.severity, ev.message, ev.details)
	}

	return out
}

// Forget drops the baseline for source.
func (d *Detector) Forget(source string) {
	d.mu.Lock()
	delete(d.prev, source)
	d.mu.Unlock()
}

func healthSeverity(h analyzer.Health) Severity {
	switch h {
	case analyzer.HealthPoor:
		return SeverityCritical
	case analyzer.HealthMarginal:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

type downgrade struct {
	severity Severity
	message  string
	details  map[string]any
}

func modulationDowngrades(prev, cur []analyzer.ChannelResult) []downgrade {
	before := make(map[int]int, len(prev))
	for _, ch := range prev {
		if order, ok := analyzer.QAMOrder(ch.Modulation); ok {
			before[ch.ChannelID] = order
		}
	}

	var out []downgrade
	for _, ch := range cur {
		order, ok := analyzer.QAMOrder(ch.Modulation)
		if !ok {
			continue
		}
		old, seen := before[ch.ChannelID]
		if !seen || order >= old {
			continue
		}
		sev := SeverityWarning
		if ch.Grade == analyzer.GradeCritical {
			sev = SeverityCritical
		}
		out = append(out, downgrade{
			severity: sev,
			message:  fmt.Sprintf("Upstream channel %d dropped from %d-QAM to %d-QAM", ch.ChannelID, old, order),
			details:  map[string]any{"channel_id": ch.ChannelID, "from": old, "to": order},
		})
	}
	return out
}
