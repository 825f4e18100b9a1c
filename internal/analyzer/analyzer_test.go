package analyzer

import (
	"testing"

	"codeberg.org/mutker/docsismon/internal/modem"
	"codeberg.org/mutker/docsismon/internal/thresholds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ds(power float64, snr float64) modem.DownstreamChannel {
	return modem.DownstreamChannel{
		ChannelID:     1,
		FrequencyMHz:  602,
		Power:         power,
		Modulation:    "qam_256",
		SNR:           modem.Float(snr),
		DOCSISVersion: modem.DOCSIS30,
	}
}

func us(power float64, modulation string) modem.UpstreamChannel {
	return modem.UpstreamChannel{
		ChannelID:     1,
		FrequencyMHz:  37,
		Power:         power,
		Modulation:    modulation,
		SymbolRate:    5120,
		DOCSISVersion: modem.DOCSIS30,
	}
}

func analyze(r *modem.Reading) *Result {
	return New(thresholds.Default()).Analyze(r)
}

func TestHealthyReading(t *testing.T) {
	r := &modem.Reading{
		Downstream: []modem.DownstreamChannel{ds(2.0, 35), ds(2.0, 35), ds(2.0, 35)},
		Upstream:   []modem.UpstreamChannel{us(42, "qam_64")},
	}

	res := analyze(r)

	assert.Equal(t, HealthGood, res.Summary.Health)
	assert.Empty(t, res.Summary.Issues)
	assert.Equal(t, 3, res.Summary.DSChannels)
	assert.Equal(t, 1, res.Summary.USChannels)
	assert.Equal(t, 2.0, res.Summary.DSPowerAvg)
	assert.Equal(t, 35.0, res.Summary.SNRMin)
	for _, ch := range res.Downstream {
		assert.Equal(t, GradeGood, ch.Grade)
	}
}

func TestDownstreamPowerBoundaries(t *testing.T) {
	tests := []struct {
		power  float64
		grade  Grade
		issues []string
	}{
		{13, GradeGood, []string{}},
		{14, GradeWarning, []string{PowerWarning}},
		{-4, GradeGood, []string{}},
		{-5, GradeWarning, []string{PowerWarning}},
		{20, GradeWarning, []string{PowerWarning}},
		{21, GradeCritical, []string{PowerCritical}},
		{-9, GradeCritical, []string{PowerCritical}},
	}
	for _, tt := range tests {
		res := analyze(&modem.Reading{Downstream: []modem.DownstreamChannel{ds(tt.power, 35)}})
		require.Len(t, res.Downstream, 1)
		assert.Equal(t, tt.grade, res.Downstream[0].Grade, "power %v", tt.power)
		assert.Equal(t, tt.issues, res.Downstream[0].Issues, "power %v", tt.power)
	}
}

func TestUpstreamPowerDirection(t *testing.T) {
	res := analyze(&modem.Reading{Upstream: []modem.UpstreamChannel{
		us(55, "qam_64"),
		us(33, "qam_64"),
	}})

	assert.Equal(t, []string{PowerCriticalHigh}, res.Upstream[0].Issues)
	assert.Equal(t, []string{PowerCriticalLow}, res.Upstream[1].Issues)
	assert.Equal(t, []string{IssueUSPowerCriticalLow, IssueUSPowerCriticalHigh}, res.Summary.Issues)
	assert.Equal(t, HealthPoor, res.Summary.Health)

	res = analyze(&modem.Reading{Upstream: []modem.UpstreamChannel{us(36, "qam_64"), us(52, "qam_64")}})
	assert.Equal(t, []string{PowerWarningLow}, res.Upstream[0].Issues)
	assert.Equal(t, []string{PowerWarningHigh}, res.Upstream[1].Issues)
	assert.Equal(t, []string{IssueUSPowerWarnLow, IssueUSPowerWarnHigh}, res.Summary.Issues)
	assert.Equal(t, HealthMarginal, res.Summary.Health)
}

func TestUpstreamModulation(t *testing.T) {
	res := analyze(&modem.Reading{Upstream: []modem.UpstreamChannel{
		us(42, "qpsk"),
		us(42, "qam_16"),
		us(42, "qam_64"),
		us(42, "ofdma"),
	}})

	assert.Equal(t, []string{ModulationCritical}, res.Upstream[0].Issues)
	assert.Equal(t, []string{ModulationWarning}, res.Upstream[1].Issues)
	assert.Empty(t, res.Upstream[2].Issues)
	assert.Empty(t, res.Upstream[3].Issues)
	assert.Equal(t, []string{IssueUSModulationCritical}, res.Summary.Issues, "critical wins over warning")
}

func TestUpstreamBitrate(t *testing.T) {
	res := analyze(&modem.Reading{Upstream: []modem.UpstreamChannel{
		us(42, "qam_64"),
		us(42, "ofdma"),
	}})

	require.NotNil(t, res.Upstream[0].BitrateMbps)
	assert.InDelta(t, 30.72, *res.Upstream[0].BitrateMbps, 1e-9)
	assert.Nil(t, res.Upstream[1].BitrateMbps)
	assert.InDelta(t, 30.72, res.Summary.USCapacityMbps, 1e-9)
}

func TestSNRClassification(t *testing.T) {
	res := analyze(&modem.Reading{Downstream: []modem.DownstreamChannel{ds(2, 27)}})
	assert.Equal(t, []string{SNRCritical}, res.Downstream[0].Issues)
	assert.Equal(t, []string{IssueSNRCritical}, res.Summary.Issues)
	assert.Equal(t, HealthPoor, res.Summary.Health)

	res = analyze(&modem.Reading{Downstream: []modem.DownstreamChannel{ds(2, 31)}})
	assert.Equal(t, []string{SNRWarning}, res.Downstream[0].Issues)
	assert.Equal(t, HealthMarginal, res.Summary.Health)
}

func TestSNRSource(t *testing.T) {
	mse := ds(2, -36.4)
	assert.InDelta(t, 36.4, *DownstreamSNR(mse), 1e-9)

	ofdm := modem.DownstreamChannel{Modulation: "ofdm", DOCSISVersion: modem.DOCSIS31, SNR: modem.Float(-20), MER: modem.Float(41)}
	assert.InDelta(t, 41.0, *DownstreamSNR(ofdm), 1e-9)

	assert.Nil(t, DownstreamSNR(modem.DownstreamChannel{}))

	res := analyze(&modem.Reading{Downstream: []modem.DownstreamChannel{{Power: 2, Modulation: "qam_256"}}})
	assert.Nil(t, res.Downstream[0].SNR)
	assert.Zero(t, res.Summary.SNRAvg)
}

func TestUncorrectableThreshold(t *testing.T) {
	a := ds(2, 35)
	a.Uncorrected = 6000
	b := ds(2, 35)
	b.Uncorrected = 5000
	b.Corrected = 12

	res := analyze(&modem.Reading{Downstream: []modem.DownstreamChannel{a, b}})

	assert.Equal(t, int64(11000), res.Summary.TotalUncorrected)
	assert.Equal(t, int64(12), res.Summary.TotalCorrected)
	assert.Equal(t, []string{IssueUncorrectableErrsHigh}, res.Summary.Issues)
	assert.Equal(t, HealthPoor, res.Summary.Health)
	assert.Equal(t, GradeGood, res.Downstream[0].Grade)
}

func TestIssueOrderIsStable(t *testing.T) {
	bad := ds(25, 20)
	bad.Uncorrected = 20000
	r := &modem.Reading{
		Downstream: []modem.DownstreamChannel{bad},
		Upstream:   []modem.UpstreamChannel{us(60, "qam_8"), us(30, "qpsk")},
	}

	want := []string{
		IssueDSPowerCritical,
		IssueUSPowerCriticalLow,
		IssueUSPowerCriticalHigh,
		IssueUSModulationCritical,
		IssueSNRCritical,
		IssueUncorrectableErrsHigh,
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, want, analyze(r).Summary.Issues)
	}
}

func TestEmptyReading(t *testing.T) {
	res := analyze(&modem.Reading{})
	assert.Equal(t, HealthGood, res.Summary.Health)
	assert.Zero(t, res.Summary.DSPowerAvg)
	assert.Zero(t, res.Summary.USPowerAvg)
	assert.Empty(t, res.Summary.Issues)

	assert.NotNil(t, analyze(nil))
}

func TestWidebandAliasUsesHighOrderProfile(t *testing.T) {
	ch := modem.DownstreamChannel{Power: 15, Modulation: "ofdm", DOCSISVersion: modem.DOCSIS31, MER: modem.Float(40)}
	res := analyze(&modem.Reading{Downstream: []modem.DownstreamChannel{ch}})
	// 15 dBmV is a warning on qam_256 but good on the qam_4096 profile
	assert.Equal(t, GradeGood, res.Downstream[0].Grade)
}

func TestQAMOrder(t *testing.T) {
	n, ok := QAMOrder("QPSK")
	assert.True(t, ok)
	assert.Equal(t, 4, n)
	n, ok = QAMOrder("256QAM")
	assert.True(t, ok)
	assert.Equal(t, 256, n)
	_, ok = QAMOrder("ofdma")
	assert.False(t, ok)
	_, ok = QAMOrder("garbage")
	assert.False(t, ok)
}
