// Package thresholds holds the health boundaries the analyzer grades
// channels against. A Table is read-only once built and safe for
// concurrent use.
package thresholds

import (
	"encoding/json"
	"math"
	"os"
	"strings"

	"codeberg.org/mutker/docsismon/internal/errors"
	"codeberg.org/mutker/docsismon/internal/logger"
)

const defaultKey = "_default"

// Profile bounds a metric. Values inside [GoodMin, GoodMax] are good,
// values outside [CriticalMin, CriticalMax] are critical. An absent bound
// is infinite.
type Profile struct {
	GoodMin     float64
	GoodMax     float64
	CriticalMin float64
	CriticalMax float64
}

// ModulationLimits grades upstream QAM orders. Orders at or below
// CriticalMaxQAM are critical, at or below WarningMaxQAM a warning.
type ModulationLimits struct {
	CriticalMaxQAM int `json:"critical_max_qam"`
	WarningMaxQAM  int `json:"warning_max_qam"`
}

type section[T any] struct {
	profiles   map[string]T
	defaultKey string
}

func (s section[T]) lookup(key string, aliases map[string]string) T {
	key = strings.ToLower(strings.TrimSpace(key))
	if p, ok := s.profiles[key]; ok {
		return p
	}
	if alias, ok := aliases[key]; ok {
		if p, ok := s.profiles[alias]; ok {
			return p
		}
	}
	return s.profiles[s.defaultKey]
}

// Table is the full set of thresholds.
type Table struct {
	downstreamPower    section[Profile]
	upstreamPower      section[Profile]
	snr                section[Profile]
	upstreamModulation section[ModulationLimits]
	uncorrectable      int64
	aliases            map[string]string
}

// DownstreamPower returns power bounds for a downstream modulation.
func (t *Table) DownstreamPower(modulation string) Profile {
	return t.downstreamPower.lookup(modulation, t.aliases)
}

// UpstreamPower returns power bounds for a DOCSIS version.
func (t *Table) UpstreamPower(version string) Profile {
	return t.upstreamPower.lookup(version, t.aliases)
}

// SNR returns SNR/MER bounds for a downstream modulation. Only the minimums
// are meaningful.
func (t *Table) SNR(modulation string) Profile {
	return t.snr.lookup(modulation, t.aliases)
}

// UpstreamModulation returns QAM order limits for a DOCSIS version.
func (t *Table) UpstreamModulation(version string) ModulationLimits {
	return t.upstreamModulation.lookup(version, t.aliases)
}

// UncorrectableThreshold is the total uncorrectable error count above which
// the connection is poor.
func (t *Table) UncorrectableThreshold() int64 {
	return t.uncorrectable
}

// Default returns the built-in thresholds.
func Default() *Table {
	return &Table{
		downstreamPower: section[Profile]{
			defaultKey: "qam_256",
			profiles: map[string]Profile{
				"qam_64":   {GoodMin: -10, GoodMax: 7, CriticalMin: -14, CriticalMax: 14},
				"qam_256":  {GoodMin: -4, GoodMax: 13, CriticalMin: -8, CriticalMax: 20},
				"qam_4096": {GoodMin: -6, GoodMax: 16, CriticalMin: -10, CriticalMax: 22},
			},
		},
		upstreamPower: section[Profile]{
			defaultKey: "3.0",
			profiles: map[string]Profile{
				"3.0": {GoodMin: 37, GoodMax: 51, CriticalMin: 35, CriticalMax: 53},
				"3.1": {GoodMin: 38, GoodMax: 50, CriticalMin: 35, CriticalMax: 53},
			},
		},
		snr: section[Profile]{
			defaultKey: "qam_256",
			profiles: map[string]Profile{
				"qam_64":   {GoodMin: 27, GoodMax: math.Inf(1), CriticalMin: 24, CriticalMax: math.Inf(1)},
				"qam_256":  {GoodMin: 33, GoodMax: math.Inf(1), CriticalMin: 29, CriticalMax: math.Inf(1)},
				"qam_4096": {GoodMin: 39, GoodMax: math.Inf(1), CriticalMin: 34, CriticalMax: math.Inf(1)},
			},
		},
		upstreamModulation: section[ModulationLimits]{
			defaultKey: defaultKey,
			profiles: map[string]ModulationLimits{
				defaultKey: {CriticalMaxQAM: 4, WarningMaxQAM: 16},
			},
		},
		uncorrectable: 10000,
		aliases:       defaultAliases(),
	}
}

func defaultAliases() map[string]string {
	return map[string]string{
		"ofdm":     "qam_4096",
		"ofdma":    "qam_4096",
		"qam_1024": "qam_4096",
		"qam_2048": "qam_4096",
	}
}

// LoadOrDefault loads path, falling back to the built-in table when path is
// empty, missing or invalid. It never fails.
func LoadOrDefault(path string, log logger.Logger) *Table {
	if path == "" {
		return Default()
	}
	t, err := Load(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Using built-in thresholds")
		return Default()
	}
	log.Info().Str("path", path).Msg("Thresholds loaded")
	return t
}

// Load reads a JSON threshold document. Sections absent from the document
// keep their built-in values.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New().Wrap(ErrReadThresholds, err)
	}
	return Parse(data)
}

type rawProfile struct {
	GoodMin     *float64 `json:"good_min"`
	GoodMax     *float64 `json:"good_max"`
	CriticalMin *float64 `json:"critical_min"`
	CriticalMax *float64 `json:"critical_max"`
}

func (r rawProfile) profile() Profile {
	return Profile{
		GoodMin:     orInf(r.GoodMin, -1),
		GoodMax:     orInf(r.GoodMax, 1),
		CriticalMin: orInf(r.CriticalMin, -1),
		CriticalMax: orInf(r.CriticalMax, 1),
	}
}

func orInf(v *float64, sign int) float64 {
	if v == nil {
		return math.Inf(sign)
	}
	return *v
}

type rawErrors struct {
	UncorrectableThreshold *int64 `json:"uncorrectable_threshold"`
}

// Parse builds a Table from a JSON document.
func Parse(data []byte) (*Table, error) {
	errFactory := errors.New()

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errFactory.Wrap(ErrParseThresholds, err)
	}

	t := Default()

	if raw, ok := doc["downstream_power"]; ok {
		s, err := parseSection(raw, rawProfile.profile)
		if err != nil {
			return nil, errFactory.Wrap(ErrParseThresholds, err).WithMessage("downstream_power")
		}
		t.downstreamPower = s
	}
	if raw, ok := doc["upstream_power"]; ok {
		s, err := parseSection(raw, rawProfile.profile)
		if err != nil {
			return nil, errFactory.Wrap(ErrParseThresholds, err).WithMessage("upstream_power")
		}
		t.upstreamPower = s
	}
	if raw, ok := doc["snr"]; ok {
		s, err := parseSection(raw, rawProfile.profile)
		if err != nil {
			return nil, errFactory.Wrap(ErrParseThresholds, err).WithMessage("snr")
		}
		t.snr = s
	}
	if raw, ok := doc["upstream_modulation"]; ok {
		s, err := parseSection(raw, func(m ModulationLimits) ModulationLimits { return m })
		if err != nil {
			return nil, errFactory.Wrap(ErrParseThresholds, err).WithMessage("upstream_modulation")
		}
		t.upstreamModulation = s
	}
	if raw, ok := doc["errors"]; ok {
		s, err := parseSection(raw, func(r rawErrors) rawErrors { return r })
		if err != nil {
			return nil, errFactory.Wrap(ErrParseThresholds, err).WithMessage("errors")
		}
		if e := s.profiles[s.defaultKey]; e.UncorrectableThreshold != nil {
			t.uncorrectable = *e.UncorrectableThreshold
		}
	}
	if raw, ok := doc["aliases"]; ok {
		var aliases map[string]string
		if err := json.Unmarshal(raw, &aliases); err != nil {
			return nil, errFactory.Wrap(ErrParseThresholds, err).WithMessage("aliases")
		}
		for k, v := range aliases {
			t.aliases[strings.ToLower(k)] = strings.ToLower(v)
		}
	}

	return t, nil
}

// parseSection decodes {"_default": "key" | {...}, "key": {...}}.
func parseSection[R, T any](raw json.RawMessage, conv func(R) T) (section[T], error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return section[T]{}, err
	}

	s := section[T]{profiles: make(map[string]T, len(entries))}
	for key, val := range entries {
		if key == defaultKey {
			var name string
			if json.Unmarshal(val, &name) == nil {
				s.defaultKey = strings.ToLower(name)
				continue
			}
		}
		var r R
		if err := json.Unmarshal(val, &r); err != nil {
			return section[T]{}, err
		}
		s.profiles[strings.ToLower(key)] = conv(r)
	}

	if s.defaultKey == "" {
		s.defaultKey = defaultKey
	}
	if _, ok := s.profiles[s.defaultKey]; !ok {
		return section[T]{}, errors.New().WithData(ErrMissingDefault, s.defaultKey)
	}
	return s, nil
}
