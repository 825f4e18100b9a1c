package collector

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/mutker/docsismon/internal/analyzer"
	"codeberg.org/mutker/docsismon/internal/events"
	"codeberg.org/mutker/docsismon/internal/logger"
	"codeberg.org/mutker/docsismon/internal/modem"
)

// Store persists analysis results.
type Store interface {
	SaveSnapshot(ctx context.Context, source string, res *analyzer.Result) (int64, error)
	SaveEvents(ctx context.Context, evs []events.Event) error
	LatestID(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// Publisher pushes results to a message bus. Announce is called every cycle
// and must only send metadata for entities it has not announced yet.
type Publisher interface {
	Announce(source string, res *analyzer.Result) error
	Publish(source string, res *analyzer.Result) error
}

// Detector derives events from consecutive results. The baseline only moves
// when commit is called.
type Detector interface {
	Compare(source string, res *analyzer.Result) (evs []events.Event, commit func())
}

// Observer receives every successful analysis, e.g. for metric gauges.
type Observer interface {
	ObserveResult(source string, res *analyzer.Result)
}

// Sinks are the outputs of a successful cycle. Nil members are skipped.
type Sinks struct {
	Store     Store
	Publisher Publisher
	Detector  Detector
	Observer  Observer
}

// ModemCollector polls one modem through its driver.
type ModemCollector struct {
	*Base
	driver   modem.Driver
	analyzer *analyzer.Analyzer
	sinks    Sinks
	log      logger.Logger
	now      func() time.Time

	infoCached bool
	device     modem.DeviceInfo
	connection modem.ConnectionInfo
}

func NewModemCollector(
	source string, interval time.Duration, driver modem.Driver, an *analyzer.Analyzer, sinks Sinks,
	log logger.Logger, opts ...Option,
) *ModemCollector {
	if an == nil {
		an = analyzer.New(nil)
	}
	if log == nil {
		log = logger.Nop()
	}
	base := NewBase(source, interval, opts...)
	return &ModemCollector{
		Base:     base,
		driver:   driver,
		analyzer: an,
		sinks:    sinks,
		log:      log,
		now:      base.now,
	}
}

// Collect runs one cycle. The first failing step aborts the rest.
func (m *ModemCollector) Collect(ctx context.Context) Result {
	start := m.now()

	res, err := m.collect(ctx)
	out := Result{Source: m.Source(), Duration: m.now().Sub(start)}
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.Success = true
	out.Payload = res
	return out
}

func (m *ModemCollector) collect(ctx context.Context) (*analyzer.Result, error) {
	if err := m.driver.Login(ctx); err != nil {
		m.log.ErrorWithContext(err, "login").Str("source", m.Source()).Send()
		return nil, err
	}

	device, connection := m.device, m.connection
	if !m.infoCached {
		device = m.driver.ReadDeviceInfo(ctx)
		connection = m.driver.ReadConnectionInfo(ctx)
	}

	reading, err := m.driver.ReadChannels(ctx)
	if err != nil {
		m.log.ErrorWithContext(err, "read channels").Str("source", m.Source()).Send()
		return nil, err
	}
	if reading == nil {
		return nil, modem.Malformed("driver returned no reading", nil)
	}

	rd := *reading
	rd.Device = device
	rd.Connection = connection
	for _, w := range rd.Warnings {
		m.log.Warn().Str("source", m.Source()).Msg(w)
	}

	res := m.analyzer.Analyze(&rd)
	if err := m.emit(ctx, res); err != nil {
		return nil, err
	}

	if !m.infoCached {
		m.device, m.connection, m.infoCached = device, connection, true
	}

	m.log.Debug().
		Str("source", m.Source()).
		Int("ds_channels", res.Summary.DSChannels).
		Int("us_channels", res.Summary.USChannels).
		Str("health", string(res.Summary.Health)).
		Strs("issues", res.Summary.Issues).
		Msg("Poll complete")

	return res, nil
}

func (m *ModemCollector) emit(ctx context.Context, res *analyzer.Result) error {
	s := m.sinks

	if s.Store != nil {
		if _, err := s.Store.SaveSnapshot(ctx, m.Source(), res); err != nil {
			m.log.ErrorWithContext(err, "save snapshot").Str("source", m.Source()).Send()
			return err
		}
	}

	if s.Publisher != nil {
		if err := s.Publisher.Announce(m.Source(), res); err != nil {
			m.log.ErrorWithContext(err, "mqtt discovery").Str("source", m.Source()).Send()
			return err
		}
		if err := s.Publisher.Publish(m.Source(), res); err != nil {
			m.log.ErrorWithContext(err, "mqtt publish").Str("source", m.Source()).Send()
			return err
		}
	}

	if s.Detector != nil {
		evs, commit := s.Detector.Compare(m.Source(), res)
		for _, ev := range evs {
			m.log.Info().
				Str("source", ev.Source).
				Str("type", ev.Type).
				Str("severity", string(ev.Severity)).
				Msg(ev.Message)
		}
		if len(evs) > 0 && s.Store != nil {
			if err := s.Store.SaveEvents(ctx, evs); err != nil {
				m.log.ErrorWithContext(err, "save events").Str("source", m.Source()).Send()
				return err
			}
		}
		commit()
	}

	if s.Observer != nil {
		s.Observer.ObserveResult(m.Source(), res)
	}

	return nil
}

// Close ends the driver session.
func (m *ModemCollector) Close() error {
	if err := m.driver.Close(); err != nil {
		return fmt.Errorf("close %s: %w", m.Source(), err)
	}
	return nil
}
