package collector

import (
	"codeberg.org/mutker/docsismon/internal/errors"
)

const (
	ErrUnknownSource   errors.ErrorCode = "unknown_source"
	ErrDuplicateSource errors.ErrorCode = "duplicate_source"
	ErrCollectPanic    errors.ErrorCode = "collect_panic"
)

// ErrPollInProgress is returned by Trigger when the collector is busy.
var ErrPollInProgress = errors.New().WithMessage(errors.ErrPollInFlight, "poll already in progress")
