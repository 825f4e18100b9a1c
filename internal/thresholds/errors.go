package thresholds

import "codeberg.org/mutker/docsismon/internal/errors"

const (
	ErrReadThresholds  = errors.ErrorCode("thresholds_read_failed")
	ErrParseThresholds = errors.ErrorCode("thresholds_parse_failed")
	ErrMissingDefault  = errors.ErrorCode("thresholds_missing_default")
)
