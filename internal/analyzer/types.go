package analyzer

import (
	"time"

	"codeberg.org/mutker/docsismon/internal/modem"
)

type Grade string

const (
	GradeGood     Grade = "good"
	GradeWarning  Grade = "warning"
	GradeCritical Grade = "critical"
)

type Health string

const (
	HealthGood     Health = "good"
	HealthMarginal Health = "marginal"
	HealthPoor     Health = "poor"
)

type Direction string

const (
	Downstream Direction = "downstream"
	Upstream   Direction = "upstream"
)

// Issue codes in the order they appear in Summary.Issues.
const (
	IssueDSPowerCritical       = "ds_power_critical"
	IssueDSPowerWarn           = "ds_power_warn"
	IssueUSPowerCriticalLow    = "us_power_critical_low"
	IssueUSPowerCriticalHigh   = "us_power_critical_high"
	IssueUSPowerWarnLow        = "us_power_warn_low"
	IssueUSPowerWarnHigh       = "us_power_warn_high"
	IssueUSModulationCritical  = "us_modulation_critical"
	IssueUSModulationWarn      = "us_modulation_warn"
	IssueSNRCritical           = "snr_critical"
	IssueSNRWarn               = "snr_warn"
	IssueUncorrectableErrsHigh = "uncorr_errors_high"
)

// Per-channel issue texts.
const (
	PowerCritical      = "power critical"
	PowerWarning       = "power warning"
	PowerCriticalLow   = "power critical low"
	PowerCriticalHigh  = "power critical high"
	PowerWarningLow    = "power warning low"
	PowerWarningHigh   = "power warning high"
	SNRCritical        = "snr critical"
	SNRWarning         = "snr warning"
	ModulationCritical = "modulation critical"
	ModulationWarning  = "modulation warning"
)

type ChannelResult struct {
	Direction     Direction `json:"direction"`
	ChannelID     int       `json:"channel_id"`
	FrequencyMHz  int       `json:"frequency_mhz"`
	Power         float64   `json:"power"`
	SNR           *float64  `json:"snr,omitempty"`
	Modulation    string    `json:"modulation"`
	DOCSISVersion string    `json:"docsis_version"`
	Corrected     int64     `json:"corrected,omitempty"`
	Uncorrected   int64     `json:"uncorrected,omitempty"`
	SymbolRate    int       `json:"symbol_rate,omitempty"`
	BitrateMbps   *float64  `json:"bitrate_mbps,omitempty"`
	Grade         Grade     `json:"grade"`
	Issues        []string  `json:"issues"`
}

type Summary struct {
	DSChannels       int      `json:"ds_channels"`
	USChannels       int      `json:"us_channels"`
	DSPowerMin       float64  `json:"ds_power_min"`
	DSPowerMax       float64  `json:"ds_power_max"`
	DSPowerAvg       float64  `json:"ds_power_avg"`
	USPowerMin       float64  `json:"us_power_min"`
	USPowerMax       float64  `json:"us_power_max"`
	USPowerAvg       float64  `json:"us_power_avg"`
	SNRMin           float64  `json:"snr_min"`
	SNRMax           float64  `json:"snr_max"`
	SNRAvg           float64  `json:"snr_avg"`
	TotalCorrected   int64    `json:"total_corrected"`
	TotalUncorrected int64    `json:"total_uncorrected"`
	USCapacityMbps   float64  `json:"us_capacity_mbps"`
	Health           Health   `json:"health"`
	Issues           []string `json:"issues"`
}

// Result is the analysis of one Reading. It is not modified after Analyze
// returns it.
type Result struct {
	Downstream []ChannelResult      `json:"downstream"`
	Upstream   []ChannelResult      `json:"upstream"`
	Summary    Summary              `json:"summary"`
	Device     modem.DeviceInfo     `json:"device"`
	Connection modem.ConnectionInfo `json:"connection"`
	Warnings   []string             `json:"warnings,omitempty"`
	Timestamp  time.Time            `json:"timestamp"`
}
