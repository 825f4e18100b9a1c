// Package analyzer grades a modem reading against a threshold table.
package analyzer

import (
	"math"
	"strconv"
	"strings"

	"codeberg.org/mutker/docsismon/internal/modem"
	"codeberg.org/mutker/docsismon/internal/thresholds"
	"github.com/samber/lo"
)

var bitsPerSymbol = map[int]int{
	4:    2,
	8:    3,
	16:   4,
	32:   5,
	64:   6,
	128:  7,
	256:  8,
	512:  9,
	1024: 10,
	2048: 11,
	4096: 12,
}

// Analyzer has no mutable state and may be shared between collectors.
type Analyzer struct {
	table *thresholds.Table
}

func New(table *thresholds.Table) *Analyzer {
	if table == nil {
		table = thresholds.Default()
	}
	return &Analyzer{table: table}
}

// QAMOrder parses the constellation size from a normalized modulation.
// QPSK counts as 4. OFDM and OFDMA have no single order.
func QAMOrder(modulation string) (int, bool) {
	m := modem.NormalizeModulation(modulation)
	if m == "qpsk" {
		return 4, true
	}
	if !strings.HasPrefix(m, "qam_") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(m, "qam_"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// DownstreamSNR returns the SNR used for grading: MER on DOCSIS 3.1
// channels, otherwise the absolute SNR/MSE value.
func DownstreamSNR(ch modem.DownstreamChannel) *float64 {
	if ch.DOCSISVersion == modem.DOCSIS31 && ch.MER != nil {
		return modem.Float(*ch.MER)
	}
	if ch.SNR != nil {
		return modem.Float(math.Abs(*ch.SNR))
	}
	if ch.MER != nil {
		return modem.Float(*ch.MER)
	}
	return nil
}

// flags collects which issue categories fired across all channels.
type flags struct {
	dsPowerCrit, dsPowerWarn bool
	usCritLow, usCritHigh    bool
	usWarnLow, usWarnHigh    bool
	usModCrit, usModWarn     bool
	snrCrit, snrWarn         bool
}

// Analyze grades every channel and builds the summary.
func (a *Analyzer) Analyze(r *modem.Reading) *Result {
	res := &Result{
		Downstream: []ChannelResult{},
		Upstream:   []ChannelResult{},
		Summary:    Summary{Health: HealthGood, Issues: []string{}},
	}
	if r == nil {
		return res
	}
	res.Device = r.Device
	res.Connection = r.Connection
	res.Warnings = r.Warnings
	res.Timestamp = r.Timestamp

	var f flags
	for _, ch := range r.Downstream {
		res.Downstream = append(res.Downstream, a.downstream(ch, &f))
	}
	for _, ch := range r.Upstream {
		res.Upstream = append(res.Upstream, a.upstream(ch, &f))
	}

	res.Summary = a.summarize(res, f)
	return res
}

func (a *Analyzer) downstream(ch modem.DownstreamChannel, f *flags) ChannelResult {
	cr := ChannelResult{
		Direction:     Downstream,
		ChannelID:     ch.ChannelID,
		FrequencyMHz:  ch.FrequencyMHz,
		Power:         finite(ch.Power),
		Modulation:    ch.Modulation,
		DOCSISVersion: ch.DOCSISVersion,
		Corrected:     ch.Corrected,
		Uncorrected:   ch.Uncorrected,
		Issues:        []string{},
	}

	p := a.table.DownstreamPower(ch.Modulation)
	switch {
	case cr.Power < p.CriticalMin || cr.Power > p.CriticalMax:
		cr.Issues = append(cr.Issues, PowerCritical)
		f.dsPowerCrit = true
	case cr.Power < p.GoodMin || cr.Power > p.GoodMax:
		cr.Issues = append(cr.Issues, PowerWarning)
		f.dsPowerWarn = true
	}

	if snr := DownstreamSNR(ch); snr != nil && !math.IsNaN(*snr) {
		cr.SNR = snr
		s := a.table.SNR(ch.Modulation)
		switch {
		case *snr < s.CriticalMin:
			cr.Issues = append(cr.Issues, SNRCritical)
			f.snrCrit = true
		case *snr < s.GoodMin:
			cr.Issues = append(cr.Issues, SNRWarning)
			f.snrWarn = true
		}
	}

	cr.Grade = grade(cr.Issues)
	return cr
}

func (a *Analyzer) upstream(ch modem.UpstreamChannel, f *flags) ChannelResult {
	cr := ChannelResult{
		Direction:     Upstream,
		ChannelID:     ch.ChannelID,
		FrequencyMHz:  ch.FrequencyMHz,
		Power:         finite(ch.Power),
		Modulation:    ch.Modulation,
		DOCSISVersion: ch.DOCSISVersion,
		SymbolRate:    ch.SymbolRate,
		Issues:        []string{},
	}

	p := a.table.UpstreamPower(ch.DOCSISVersion)
	switch {
	case cr.Power < p.CriticalMin:
		cr.Issues = append(cr.Issues, PowerCriticalLow)
		f.usCritLow = true
	case cr.Power > p.CriticalMax:
		cr.Issues = append(cr.Issues, PowerCriticalHigh)
		f.usCritHigh = true
	case cr.Power < p.GoodMin:
		cr.Issues = append(cr.Issues, PowerWarningLow)
		f.usWarnLow = true
	case cr.Power > p.GoodMax:
		cr.Issues = append(cr.Issues, PowerWarningHigh)
		f.usWarnHigh = true
	}

	if order, ok := QAMOrder(ch.Modulation); ok {
		lim := a.table.UpstreamModulation(ch.DOCSISVersion)
		switch {
		case order <= lim.CriticalMaxQAM:
			cr.Issues = append(cr.Issues, ModulationCritical)
			f.usModCrit = true
		case order <= lim.WarningMaxQAM:
			cr.Issues = append(cr.Issues, ModulationWarning)
			f.usModWarn = true
		}

		if bits, ok := bitsPerSymbol[order]; ok && ch.SymbolRate > 0 {
			cr.BitrateMbps = modem.Float(float64(ch.SymbolRate) * float64(bits) / 1000)
		}
	}

	cr.Grade = grade(cr.Issues)
	return cr
}

func (a *Analyzer) summarize(res *Result, f flags) Summary {
	s := Summary{
		DSChannels: len(res.Downstream),
		USChannels: len(res.Upstream),
		Issues:     []string{},
	}

	power := func(c ChannelResult, _ int) float64 { return c.Power }
	s.DSPowerMin, s.DSPowerMax, s.DSPowerAvg = stats(lo.Map(res.Downstream, power))
	s.USPowerMin, s.USPowerMax, s.USPowerAvg = stats(lo.Map(res.Upstream, power))
	s.SNRMin, s.SNRMax, s.SNRAvg = stats(lo.FilterMap(res.Downstream, func(c ChannelResult, _ int) (float64, bool) {
		if c.SNR == nil {
			return 0, false
		}
		return *c.SNR, true
	}))

	s.TotalCorrected = lo.Sum(lo.Map(res.Downstream, func(c ChannelResult, _ int) int64 { return c.Corrected }))
	s.TotalUncorrected = lo.Sum(lo.Map(res.Downstream, func(c ChannelResult, _ int) int64 { return c.Uncorrected }))
	s.USCapacityMbps = round2(lo.Sum(lo.FilterMap(res.Upstream, func(c ChannelResult, _ int) (float64, bool) {
		if c.BitrateMbps == nil {
			return 0, false
		}
		return *c.BitrateMbps, true
	})))

	add := func(cond bool, code string) {
		if cond {
			s.Issues = append(s.Issues, code)
		}
	}

	add(f.dsPowerCrit, IssueDSPowerCritical)
	add(!f.dsPowerCrit && f.dsPowerWarn, IssueDSPowerWarn)

	usCrit := f.usCritLow || f.usCritHigh
	add(f.usCritLow, IssueUSPowerCriticalLow)
	add(f.usCritHigh, IssueUSPowerCriticalHigh)
	add(!usCrit && f.usWarnLow, IssueUSPowerWarnLow)
	add(!usCrit && f.usWarnHigh, IssueUSPowerWarnHigh)

	add(f.usModCrit, IssueUSModulationCritical)
	add(!f.usModCrit && f.usModWarn, IssueUSModulationWarn)

	add(f.snrCrit, IssueSNRCritical)
	add(!f.snrCrit && f.snrWarn, IssueSNRWarn)

	uncorrHigh := s.TotalUncorrected > a.table.UncorrectableThreshold()
	add(uncorrHigh, IssueUncorrectableErrsHigh)

	critical := uncorrHigh || lo.ContainsBy(s.Issues, func(code string) bool {
		return strings.Contains(code, "critical")
	})
	switch {
	case critical:
		s.Health = HealthPoor
	case len(s.Issues) > 0:
		s.Health = HealthMarginal
	default:
		s.Health = HealthGood
	}

	return s
}

func grade(issues []string) Grade {
	if lo.ContainsBy(issues, func(i string) bool { return strings.Contains(i, "critical") }) {
		return GradeCritical
	}
	if len(issues) > 0 {
		return GradeWarning
	}
	return GradeGood
}

// stats returns min, max and mean, or zeros for an empty slice.
func stats(v []float64) (float64, float64, float64) {
	if len(v) == 0 {
		return 0, 0, 0
	}
	return lo.Min(v), lo.Max(v), round2(lo.Sum(v) / float64(len(v)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
