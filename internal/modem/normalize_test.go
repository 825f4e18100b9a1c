package modem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeModulation(t *testing.T) {
	tests := map[string]string{
		"256QAM":       "qam_256",
		"QAM256":       "qam_256",
		"256-QAM":      "qam_256",
		"qam_64":       "qam_64",
		" 4096QAM ":    "qam_4096",
		"QPSK":         "qpsk",
		"OFDM PLC":     "ofdm",
		"OFDMA":        "ofdma",
		"ATDMA":        "atdma",
		"SC-QAM":       "sc-qam",
		"1024":         "qam_1024",
		"":             "",
		"Other Thing":  "other_thing",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeModulation(in), "input %q", in)
	}
}

func TestKnownModulation(t *testing.T) {
	assert.True(t, KnownModulation("qam_256"))
	assert.True(t, KnownModulation("ofdma"))
	assert.False(t, KnownModulation("other_thing"))
}

func TestParseFloat(t *testing.T) {
	assert.InDelta(t, 3.2, ParseFloat("3.2 dBmV"), 1e-9)
	assert.InDelta(t, -7.5, ParseFloat("-7.5dBmV"), 1e-9)
	assert.InDelta(t, 40.4, ParseFloat("40.4 dB"), 1e-9)
	assert.Zero(t, ParseFloat("n/a"))
	assert.InDelta(t, 3.5, ParseCommaFloat("3,5"), 1e-9)

	_, ok := ParseFloatOK("----")
	assert.False(t, ok)
	assert.Nil(t, OptionalFloat(""))
	assert.InDelta(t, 36.6, *OptionalFloat("36.6 dB"), 1e-9)
}

func TestParseFrequencyMHz(t *testing.T) {
	tests := map[string]int{
		"602000000":    602,
		"602000000 Hz": 602,
		"602 MHz":      602,
		"114.000 MHz":  114,
		"751 - 861":    751,
		"36800 kHz":    37,
		"":             0,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseFrequencyMHz(in), "input %q", in)
	}
}

func TestIsLocked(t *testing.T) {
	assert.True(t, IsLocked("Locked"))
	assert.True(t, IsLocked(" locked "))
	assert.False(t, IsLocked("Not Locked"))
	assert.False(t, IsLocked(""))
}

func TestReadingFinalize(t *testing.T) {
	r := &Reading{
		Downstream: []DownstreamChannel{{DOCSISVersion: DOCSIS30}, {DOCSISVersion: DOCSIS31}},
		Upstream:   []UpstreamChannel{{DOCSISVersion: DOCSIS30}},
	}
	r.Finalize()
	assert.Equal(t, DOCSIS31, r.DownstreamVersion)
	assert.Equal(t, DOCSIS30, r.UpstreamVersion)

	r.Warn("a")
	r.Warn("a")
	assert.Equal(t, []string{"a"}, r.Warnings)
}
