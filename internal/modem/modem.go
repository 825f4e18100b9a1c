// Package modem defines the vendor-neutral driver contract and the data a
// driver hands to the analyzer.
package modem

import (
	"context"
	"time"
)

// DOCSIS version tags.
const (
	DOCSIS30 = "3.0"
	DOCSIS31 = "3.1"
)

// Driver talks to one cable modem. A Driver owns its session state and is
// not safe for concurrent use; callers serialize access.
type Driver interface {
	// Login establishes or refreshes the session. Safe to call before every poll.
	Login(ctx context.Context) error
	// ReadChannels fetches the current channel tables.
	ReadChannels(ctx context.Context) (*Reading, error)
	// ReadDeviceInfo is best-effort and returns a placeholder on failure.
	ReadDeviceInfo(ctx context.Context) DeviceInfo
	// ReadConnectionInfo is best-effort and may be empty for standalone modems.
	ReadConnectionInfo(ctx context.Context) ConnectionInfo
	// Close releases the session, logging out where the device supports it.
	Close() error
}

type DownstreamChannel struct {
	ChannelID    int     `json:"channel_id"`
	FrequencyMHz int     `json:"frequency_mhz"`
	Power        float64 `json:"power"`
	Modulation   string  `json:"modulation"`
	// SNR holds SNR or MSE as reported. MSE is negative on some firmware.
	SNR           *float64 `json:"snr,omitempty"`
	MER           *float64 `json:"mer,omitempty"`
	Corrected     int64    `json:"corrected"`
	Uncorrected   int64    `json:"uncorrected"`
	DOCSISVersion string   `json:"docsis_version"`
}

type UpstreamChannel struct {
	ChannelID    int     `json:"channel_id"`
	FrequencyMHz int     `json:"frequency_mhz"`
	Power        float64 `json:"power"`
	Modulation   string  `json:"modulation"`
	// SymbolRate in kSym/s, zero when unknown.
	SymbolRate    int    `json:"symbol_rate"`
	Multiplex     string `json:"multiplex,omitempty"`
	DOCSISVersion string `json:"docsis_version"`
}

type DeviceInfo struct {
	Vendor   string        `json:"vendor"`
	Model    string        `json:"model"`
	Firmware string        `json:"firmware,omitempty"`
	Hardware string        `json:"hardware,omitempty"`
	Serial   string        `json:"serial,omitempty"`
	MAC      string        `json:"mac,omitempty"`
	Uptime   time.Duration `json:"uptime,omitempty"`
}

type ConnectionInfo struct {
	WANIP          string  `json:"wan_ip,omitempty"`
	DownstreamMbps float64 `json:"downstream_mbps,omitempty"`
	UpstreamMbps   float64 `json:"upstream_mbps,omitempty"`
	ConnectionType string  `json:"connection_type,omitempty"`
}

// Empty reports whether nothing is known about the connection.
func (c ConnectionInfo) Empty() bool {
	return c == ConnectionInfo{}
}

// Reading is one poll's worth of channel data. It is not modified after a
// driver returns it.
type Reading struct {
	Downstream        []DownstreamChannel `json:"downstream"`
	Upstream          []UpstreamChannel   `json:"upstream"`
	DownstreamVersion string              `json:"downstream_version"`
	UpstreamVersion   string              `json:"upstream_version"`
	Device            DeviceInfo          `json:"device"`
	Connection        ConnectionInfo      `json:"connection"`
	// Warnings lists parse heuristics used while building the reading.
	Warnings  []string  `json:"warnings,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PlaceholderDevice is returned when device info cannot be read.
func PlaceholderDevice(vendor string) DeviceInfo {
	return DeviceInfo{Vendor: vendor, Model: "unknown"}
}

// Finalize fills the per-list version tags from the channels.
func (r *Reading) Finalize() {
	r.DownstreamVersion = DOCSIS30
	for _, ch := range r.Downstream {
		if ch.DOCSISVersion == DOCSIS31 {
			r.DownstreamVersion = DOCSIS31
			break
		}
	}
	r.UpstreamVersion = DOCSIS30
	for _, ch := range r.Upstream {
		if ch.DOCSISVersion == DOCSIS31 {
			r.UpstreamVersion = DOCSIS31
			break
		}
	}
}

// Warn records a low-confidence parse.
func (r *Reading) Warn(msg string) {
	for _, w := range r.Warnings {
		if w == msg {
			return
		}
	}
	r.Warnings = append(r.Warnings, msg)
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
