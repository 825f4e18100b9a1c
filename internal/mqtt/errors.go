package mqtt

import "codeberg.org/mutker/docsismon/internal/errors"

const (
	ErrConnect = errors.ErrorCode("mqtt_connect_failed")
	ErrPublish = errors.ErrorCode("mqtt_publish_failed")
	ErrTimeout = errors.ErrorCode("mqtt_timeout")
)
