package modem

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	numberRe = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?`)
	qamRe    = regexp.MustCompile(`(\d+)`)
)

// NormalizeModulation maps vendor spellings such as "256QAM", "QAM 256",
// "256-QAM" or "OFDM PLC" to canonical names like qam_256 or ofdm. Strings
// that match no known family are returned lower-cased with spaces replaced.
func NormalizeModulation(s string) string {
	m := strings.ToLower(strings.TrimSpace(s))
	if m == "" {
		return ""
	}
	compact := strings.NewReplacer(" ", "", "-", "", "_", "").Replace(m)

	switch {
	case strings.Contains(compact, "ofdma"):
		return "ofdma"
	case strings.Contains(compact, "ofdm"):
		return "ofdm"
	case strings.Contains(compact, "qpsk"):
		return "qpsk"
	case strings.Contains(compact, "qam"):
		if d := qamRe.FindString(compact); d != "" {
			return "qam_" + d
		}
	case strings.Contains(compact, "scdma"):
		return "scdma"
	case strings.Contains(compact, "atdma"):
		return "atdma"
	case strings.Contains(compact, "tdma"):
		return "tdma"
	}

	if _, err := strconv.Atoi(compact); err == nil {
		return "qam_" + compact
	}

	return strings.ReplaceAll(m, " ", "_")
}

// KnownModulation reports whether a normalized modulation belongs to a
// recognized family.
func KnownModulation(m string) bool {
	switch m {
	case "ofdm", "ofdma", "qpsk", "scdma", "atdma", "tdma":
		return true
	}
	return strings.HasPrefix(m, "qam_")
}

// ParseFloat extracts the first number from s, ignoring units such as
// "dBmV" or "dB". It returns 0 when s holds no number.
func ParseFloat(s string) float64 {
	v, _ := ParseFloatOK(s)
	return v
}

// ParseFloatOK is ParseFloat that also reports whether a number was found.
func ParseFloatOK(s string) (float64, bool) {
	tok := numberRe.FindString(s)
	if tok == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ParseCommaFloat parses values written with a decimal comma, e.g. "3,5 dBmV".
func ParseCommaFloat(s string) float64 {
	return ParseFloat(strings.ReplaceAll(s, ",", "."))
}

// OptionalFloat returns nil when s holds no number.
func OptionalFloat(s string) *float64 {
	v, ok := ParseFloatOK(s)
	if !ok {
		return nil
	}
	return &v
}

// ParseInt extracts the first integer from s, or 0.
func ParseInt(s string) int64 {
	v, ok := ParseFloatOK(s)
	if !ok {
		return 0
	}
	return int64(v)
}

// ParseFrequencyMHz normalizes "602000000", "602000000 Hz", "602 MHz" or a
// range like "751 - 861" to integer MHz. For ranges the lower edge is used.
func ParseFrequencyMHz(s string) int {
	v, ok := ParseFloatOK(s)
	if !ok {
		return 0
	}
	return FrequencyMHz(v)
}

// FrequencyMHz converts a numeric frequency that may be in Hz, kHz or MHz.
func FrequencyMHz(v float64) int {
	switch {
	case v >= 1e6:
		v /= 1e6
	case v >= 1e4:
		v /= 1e3
	}
	return int(math.Round(v))
}

// IsLocked reports whether a lock-status cell means the channel is usable.
func IsLocked(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "locked", "yes", "true", "1", "active", "ok":
		return true
	}
	return false
}
