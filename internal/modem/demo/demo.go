// Package demo simulates a DOCSIS 3.1 modem so the pipeline can run without
// hardware. Readings drift slowly and deterministically between polls.
package demo

import (
	"context"
	"math"
	"time"

	"codeberg.org/mutker/docsismon/internal/modem"
)

const Vendor = "demo"

type Driver struct {
	polls int
	now   func() time.Time
}

// New ignores its arguments; they exist to match the driver constructor.
func New(_, _, _ string) *Driver {
	return &Driver{now: time.Now}
}

func (*Driver) Login(context.Context) error { return nil }

func (d *Driver) ReadChannels(ctx context.Context) (*modem.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, &modem.NetworkError{Op: "demo", Err: err}
	}
	d.polls++
	drift := math.Sin(float64(d.polls) / 4)

	r := &modem.Reading{Timestamp: d.now()}
	for i := 0; i < 24; i++ {
		r.Downstream = append(r.Downstream, modem.DownstreamChannel{
			ChannelID:     i + 1,
			FrequencyMHz:  114 + 8*i,
			Power:         round1(2.5 + float64(i%5)*0.4 + drift),
			Modulation:    "qam_256",
			SNR:           modem.Float(round1(-(38 + float64(i%3) - drift/2))),
			Corrected:     int64(d.polls * (i + 1)),
			Uncorrected:   int64(d.polls * (i % 2)),
			DOCSISVersion: modem.DOCSIS30,
		})
	}
	r.Downstream = append(r.Downstream, modem.DownstreamChannel{
		ChannelID:     33,
		FrequencyMHz:  751,
		Power:         round1(6 + drift),
		Modulation:    "ofdm",
		MER:           modem.Float(round1(41 - drift)),
		Corrected:     int64(d.polls * 120),
		DOCSISVersion: modem.DOCSIS31,
	})
	for i := 0; i < 4; i++ {
		r.Upstream = append(r.Upstream, modem.UpstreamChannel{
			ChannelID:     i + 1,
			FrequencyMHz:  30 + 7*i,
			Power:         round1(43 + float64(i) + drift),
			Modulation:    "qam_64",
			SymbolRate:    5120,
			Multiplex:     "atdma",
			DOCSISVersion: modem.DOCSIS30,
		})
	}

	r.Finalize()
	return r, nil
}

func (*Driver) ReadDeviceInfo(context.Context) modem.DeviceInfo {
	return modem.DeviceInfo{Vendor: "docsismon", Model: "Demo Modem", Firmware: "1.0", Serial: "DEMO0001"}
}

func (*Driver) ReadConnectionInfo(context.Context) modem.ConnectionInfo {
	return modem.ConnectionInfo{DownstreamMbps: 1000, UpstreamMbps: 50, ConnectionType: "cable"}
}

func (*Driver) Close() error { return nil }

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
