package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/docsismon/internal/analyzer"
	"codeberg.org/mutker/docsismon/internal/errors"
	"codeberg.org/mutker/docsismon/internal/events"
	"codeberg.org/mutker/docsismon/internal/logger"
	"codeberg.org/mutker/docsismon/internal/modem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	mu          sync.Mutex
	loginErr    error
	readErr     error
	reading     *modem.Reading
	logins      int
	reads       int
	infoReads   int
	closed      bool
	readHook    func()
	panicOnRead bool
}

func (d *fakeDriver) Login(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logins++
	return d.loginErr
}

func (d *fakeDriver) ReadChannels(context.Context) (*modem.Reading, error) {
	d.mu.Lock()
	d.reads++
	hook, panics := d.readHook, d.panicOnRead
	d.mu.Unlock()
	if hook != nil {
		hook()
	}
	if panics {
		panic("parser exploded")
	}
	if d.readErr != nil {
		return nil, d.readErr
	}
	return d.reading, nil
}

func (d *fakeDriver) ReadDeviceInfo(context.Context) modem.DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.infoReads++
	return modem.DeviceInfo{Vendor: "fake", Model: "FM-1"}
}

func (d *fakeDriver) ReadConnectionInfo(context.Context) modem.ConnectionInfo {
	return modem.ConnectionInfo{}
}

func (d *fakeDriver) Close() error {
	d.closed = true
	return nil
}

type fakeStore struct {
	snapshots []*analyzer.Result
	events    []events.Event
	err       error
	eventsErr error
}

func (s *fakeStore) SaveSnapshot(_ context.Context, _ string, res *analyzer.Result) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.snapshots = append(s.snapshots, res)
	return int64(len(s.snapshots)), nil
}

func (s *fakeStore) SaveEvents(_ context.Context, evs []events.Event) error {
	if s.eventsErr != nil {
		return s.eventsErr
	}
	s.events = append(s.events, evs...)
	return nil
}

func (s *fakeStore) LatestID(context.Context) (int64, error) { return int64(len(s.snapshots)), nil }
func (s *fakeStore) Count(context.Context) (int64, error)    { return int64(len(s.snapshots)), nil }

type fakePublisher struct {
	announced int
	published int
}

func (p *fakePublisher) Announce(string, *analyzer.Result) error { p.announced++; return nil }
func (p *fakePublisher) Publish(string, *analyzer.Result) error  { p.published++; return nil }

func goodReading() *modem.Reading {
	r := &modem.Reading{
		Downstream: []modem.DownstreamChannel{
			{ChannelID: 1, FrequencyMHz: 602, Power: 3.2, Modulation: "qam_256", SNR: modem.Float(38.5), DOCSISVersion: modem.DOCSIS30},
			{ChannelID: 2, FrequencyMHz: 610, Power: 2.8, Modulation: "qam_256", SNR: modem.Float(38.1), DOCSISVersion: modem.DOCSIS30},
		},
		Upstream: []modem.UpstreamChannel{
			{ChannelID: 1, FrequencyMHz: 37, Power: 44, Modulation: "qam_64", SymbolRate: 5120, DOCSISVersion: modem.DOCSIS30},
		},
	}
	r.Finalize()
	return r
}

func newModemCollector(d modem.Driver, sinks Sinks, c *clock) *ModemCollector {
	return NewModemCollector("modem", 5*time.Minute, d, analyzer.New(nil), sinks, logger.Nop(), WithNow(c.now))
}

func TestCollectGoodCycle(t *testing.T) {
	d := &fakeDriver{reading: goodReading()}
	store := &fakeStore{}
	pub := &fakePublisher{}
	mc := newModemCollector(d, Sinks{Store: store, Publisher: pub, Detector: events.NewDetector(events.DefaultConfig())}, newClock())

	res := mc.Collect(context.Background())
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "modem", res.Source)

	payload, ok := res.Payload.(*analyzer.Result)
	require.True(t, ok)
	assert.Equal(t, analyzer.HealthGood, payload.Summary.Health)
	assert.Equal(t, "FM-1", payload.Device.Model)
	assert.Len(t, store.snapshots, 1)
	assert.Equal(t, 1, pub.announced)
	assert.Equal(t, 1, pub.published)
	assert.Empty(t, store.events)
}

func TestDeviceInfoCachedAfterFirstSuccess(t *testing.T) {
	d := &fakeDriver{reading: goodReading()}
	mc := newModemCollector(d, Sinks{}, newClock())

	for i := 0; i < 3; i++ {
		require.True(t, mc.Collect(context.Background()).Success)
	}
	assert.Equal(t, 1, d.infoReads)
	assert.Equal(t, 3, d.logins)
	assert.Equal(t, 3, d.reads)
}

func TestAuthFailureStopsCycle(t *testing.T) {
	d := &fakeDriver{reading: goodReading(), loginErr: modem.InvalidCredentials("wrong password")}
	store := &fakeStore{}
	pub := &fakePublisher{}
	mc := newModemCollector(d, Sinks{Store: store, Publisher: pub}, newClock())

	res := mc.Collect(context.Background())
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Nil(t, res.Payload)
	assert.Equal(t, 0, d.reads)
	assert.Empty(t, store.snapshots)
	assert.Equal(t, 0, pub.announced)
	assert.Equal(t, 0, pub.published)
}

func TestStoreFailureAbortsRemainingSinks(t *testing.T) {
	d := &fakeDriver{reading: goodReading()}
	store := &fakeStore{err: errors.New().New(errors.ErrWriteStorage)}
	pub := &fakePublisher{}
	mc := newModemCollector(d, Sinks{Store: store, Publisher: pub}, newClock())

	res := mc.Collect(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, 0, pub.published)
}

func TestUnsavedEventsAreDetectedAgain(t *testing.T) {
	d := &fakeDriver{reading: goodReading()}
	store := &fakeStore{}
	mc := newModemCollector(d, Sinks{Store: store, Detector: events.NewDetector(events.DefaultConfig())}, newClock())
	ctx := context.Background()

	require.True(t, mc.Collect(ctx).Success)

	poor := goodReading()
	poor.Downstream[0].Power = 25
	d.reading = poor
	store.eventsErr = errors.New().New(errors.ErrWriteStorage)
	assert.False(t, mc.Collect(ctx).Success)
	assert.Empty(t, store.events)

	store.eventsErr = nil
	require.True(t, mc.Collect(ctx).Success)
	types := make([]string, 0, len(store.events))
	for _, ev := range store.events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, events.TypeHealthChange)
}

func TestDataErrorIsFailure(t *testing.T) {
	d := &fakeDriver{readErr: modem.Malformed("table missing", nil)}
	mc := newModemCollector(d, Sinks{}, newClock())

	res := mc.Collect(context.Background())
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "table missing")
}

func TestModemCollectorClose(t *testing.T) {
	d := &fakeDriver{}
	mc := newModemCollector(d, Sinks{}, newClock())
	require.NoError(t, mc.Close())
	assert.True(t, d.closed)
}
