// Package exporter exposes analysis results as Prometheus metrics and
// serves the operator HTTP API.
package exporter

import (
	"strconv"
	"sync"
	"time"

	"codeberg.org/mutker/docsismon/internal/analyzer"
	"codeberg.org/mutker/docsismon/internal/collector"
	"codeberg.org/mutker/docsismon/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "docsismon"

// Exporter keeps the latest result per source and renders it on scrape.
type Exporter struct {
	mu     sync.RWMutex
	latest map[string]*analyzer.Result
	log    logger.Logger

	dsFrequency   *prometheus.Desc
	dsPower       *prometheus.Desc
	dsSNR         *prometheus.Desc
	dsCorrected   *prometheus.Desc
	dsUncorrected *prometheus.Desc
	usFrequency   *prometheus.Desc
	usPower       *prometheus.Desc
	usSymbolRate  *prometheus.Desc
	usBitrate     *prometheus.Desc
	channelGrade  *prometheus.Desc
	health        *prometheus.Desc
	issue         *prometheus.Desc
	channels      *prometheus.Desc
	powerAvg      *prometheus.Desc
	snrMin        *prometheus.Desc
	snrAvg        *prometheus.Desc
	corrected     *prometheus.Desc
	uncorrected   *prometheus.Desc
	usCapacity    *prometheus.Desc

	polls    *prometheus.CounterVec
	failures *prometheus.GaugeVec
	backoff  *prometheus.GaugeVec
	duration *prometheus.GaugeVec
}

type Option func(*Exporter)

func WithLogger(log logger.Logger) Option {
	return func(e *Exporter) { e.log = log }
}

func NewExporter(opts ...Option) *Exporter {
	dsLabels := []string{"source", "channel_id", "modulation", "docsis"}
	usLabels := []string{"source", "channel_id", "modulation", "docsis"}
	source := []string{"source"}

	desc := func(subsystem, name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}

	e := &Exporter{
		latest: make(map[string]*analyzer.Result),
		log:    logger.Nop(),

		dsFrequency:   desc("downstream", "frequency_mhz", "Downstream channel frequency in MHz", dsLabels),
		dsPower:       desc("downstream", "power_dbmv", "Downstream power level in dBmV", dsLabels),
		dsSNR:         desc("downstream", "snr_db", "Downstream SNR or MER in dB", dsLabels),
		dsCorrected:   desc("downstream", "corrected_total", "Corrected codewords per channel", dsLabels),
		dsUncorrected: desc("downstream", "uncorrected_total", "Uncorrectable codewords per channel", dsLabels),
		usFrequency:   desc("upstream", "frequency_mhz", "Upstream channel frequency in MHz", usLabels),
		usPower:       desc("upstream", "power_dbmv", "Upstream power level in dBmV", usLabels),
		usSymbolRate:  desc("upstream", "symbol_rate_ksps", "Upstream symbol rate in ksym/s", usLabels),
		usBitrate:     desc("upstream", "bitrate_mbps", "Theoretical upstream channel bitrate in Mbit/s", usLabels),
		channelGrade: desc("", "channel_grade",
			"Channel grade (0=good, 1=warning, 2=critical)", []string{"source", "direction", "channel_id", "docsis"}),
		health:      desc("", "health", "Overall health (0=good, 1=marginal, 2=poor)", source),
		issue:       desc("", "issue", "Active issue codes", []string{"source", "code"}),
		channels:    desc("", "channels", "Number of channels", []string{"source", "direction"}),
		powerAvg:    desc("", "power_avg_dbmv", "Average power level", []string{"source", "direction"}),
		snrMin:      desc("downstream", "snr_min_db", "Lowest downstream SNR", source),
		snrAvg:      desc("downstream", "snr_avg_db", "Average downstream SNR", source),
		corrected:   desc("downstream", "corrected_sum", "Corrected codewords over all channels", source),
		uncorrected: desc("downstream", "uncorrected_sum", "Uncorrectable codewords over all channels", source),
		usCapacity:  desc("upstream", "capacity_mbps", "Sum of theoretical upstream bitrates", source),

		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Poll cycles by outcome",
		}, []string{"source", "result"}),
		failures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_failures",
			Help:      "Consecutive failed polls",
		}, source),
		backoff: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backoff_seconds",
			Help:      "Failure penalty added to the poll interval",
		}, source),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of the last poll",
		}, source),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ObserveResult stores res as the latest result for source. Channels that
// repeat an earlier channel's ID and DOCSIS version are dropped, since they
// would produce duplicate series and fail the whole scrape.
func (e *Exporter) ObserveResult(source string, res *analyzer.Result) {
	if res == nil {
		return
	}

	ds, dsDropped := uniqueChannels(res.Downstream)
	us, usDropped := uniqueChannels(res.Upstream)
	if dsDropped+usDropped > 0 {
		e.log.Warn().
			Str("source", source).
			Int("downstream", dsDropped).
			Int("upstream", usDropped).
			Msg("Dropping channels with duplicate IDs from metrics")
		cp := *res
		cp.Downstream, cp.Upstream = ds, us
		res = &cp
	}

	e.mu.Lock()
	e.latest[source] = res
	e.mu.Unlock()
}

type channelKey struct {
	id     int
	docsis string
}

func uniqueChannels(chs []analyzer.ChannelResult) ([]analyzer.ChannelResult, int) {
	seen := make(map[channelKey]struct{}, len(chs))
	out := make([]analyzer.ChannelResult, 0, len(chs))
	for _, c := range chs {
		k := channelKey{c.ChannelID, c.DOCSISVersion}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out, len(chs) - len(out)
}

// ObservePoll updates the poll counters.
func (e *Exporter) ObservePoll(res collector.Result, failures int, penalty time.Duration) {
	outcome := "success"
	if !res.Success {
		outcome = "failure"
	}
	e.polls.WithLabelValues(res.Source, outcome).Inc()
	e.failures.WithLabelValues(res.Source).Set(float64(failures))
	e.backoff.WithLabelValues(res.Source).Set(penalty.Seconds())
	e.duration.WithLabelValues(res.Source).Set(res.Duration.Seconds())
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		e.dsFrequency, e.dsPower, e.dsSNR, e.dsCorrected, e.dsUncorrected,
		e.usFrequency, e.usPower, e.usSymbolRate, e.usBitrate,
		e.channelGrade, e.health, e.issue, e.channels, e.powerAvg,
		e.snrMin, e.snrAvg, e.corrected, e.uncorrected, e.usCapacity,
	} {
		ch <- d
	}
	e.polls.Describe(ch)
	e.failures.Describe(ch)
	e.backoff.Describe(ch)
	e.duration.Describe(ch)
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}

	for source, res := range e.latest {
		for _, c := range res.Downstream {
			labels := []string{source, strconv.Itoa(c.ChannelID), c.Modulation, c.DOCSISVersion}
			gauge(e.dsFrequency, float64(c.FrequencyMHz), labels...)
			gauge(e.dsPower, c.Power, labels...)
			if c.SNR != nil {
				gauge(e.dsSNR, *c.SNR, labels...)
			}
			counter(e.dsCorrected, float64(c.Corrected), labels...)
			counter(e.dsUncorrected, float64(c.Uncorrected), labels...)
			gauge(e.channelGrade, gradeValue(c.Grade), source, string(c.Direction), strconv.Itoa(c.ChannelID), c.DOCSISVersion)
		}

		for _, c := range res.Upstream {
			labels := []string{source, strconv.Itoa(c.ChannelID), c.Modulation, c.DOCSISVersion}
			gauge(e.usFrequency, float64(c.FrequencyMHz), labels...)
			gauge(e.usPower, c.Power, labels...)
			if c.SymbolRate > 0 {
				gauge(e.usSymbolRate, float64(c.SymbolRate), labels...)
			}
			if c.BitrateMbps != nil {
				gauge(e.usBitrate, *c.BitrateMbps, labels...)
			}
			gauge(e.channelGrade, gradeValue(c.Grade), source, string(c.Direction), strconv.Itoa(c.ChannelID), c.DOCSISVersion)
		}

		s := res.Summary
		gauge(e.health, healthValue(s.Health), source)
		for _, code := range s.Issues {
			gauge(e.issue, 1, source, code)
		}
		gauge(e.channels, float64(s.DSChannels), source, string(analyzer.Downstream))
		gauge(e.channels, float64(s.USChannels), source, string(analyzer.Upstream))
		gauge(e.powerAvg, s.DSPowerAvg, source, string(analyzer.Downstream))
		gauge(e.powerAvg, s.USPowerAvg, source, string(analyzer.Upstream))
		gauge(e.snrMin, s.SNRMin, source)
		gauge(e.snrAvg, s.SNRAvg, source)
		counter(e.corrected, float64(s.TotalCorrected), source)
		counter(e.uncorrected, float64(s.TotalUncorrected), source)
		gauge(e.usCapacity, s.USCapacityMbps, source)
	}

	e.polls.Collect(ch)
	e.failures.Collect(ch)
	e.backoff.Collect(ch)
	e.duration.Collect(ch)
}

func gradeValue(g analyzer.Grade) float64 {
	switch g {
	case analyzer.GradeCritical:
		return 2
	case analyzer.GradeWarning:
		return 1
	default:
		return 0
	}
}

func healthValue(h analyzer.Health) float64 {
	switch h {
	case analyzer.HealthPoor:
		return 2
	case analyzer.HealthMarginal:
		return 1
	default:
		return 0
	}
}
