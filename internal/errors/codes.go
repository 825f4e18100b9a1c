package errors

const (
	// Process
	ErrInternal       ErrorCode = "internal_error"
	ErrAlreadyRunning ErrorCode = "already_running"
	ErrInitApp        ErrorCode = "init_app_failed"
	ErrMainLoop       ErrorCode = "main_loop_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrTimeout        ErrorCode = "operation_timeout"

	// Configuration
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrMissingConfig   ErrorCode = "missing_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Drivers and polling
	ErrUnsupported            ErrorCode = "unsupported_vendor"
	ErrPollInFlight           ErrorCode = "poll_in_progress"
	ErrAuthInvalidCredentials ErrorCode = "auth_invalid_credentials"
	ErrAuthAccountLocked      ErrorCode = "auth_account_locked"
	ErrAuthProtocol           ErrorCode = "auth_protocol_error"
	ErrAuthNetwork            ErrorCode = "auth_network_error"
	ErrDataFormat             ErrorCode = "data_format_error"
	ErrNetwork                ErrorCode = "network_error"

	// Storage
	ErrInitStorage  ErrorCode = "init_storage_failed"
	ErrWriteStorage ErrorCode = "write_storage_failed"
	ErrCloseStorage ErrorCode = "close_storage_failed"
)

var errorMessages = map[ErrorCode]string{
	ErrInternal:               "Internal error occurred",
	ErrAlreadyRunning:         "Another docsismon instance is already running",
	ErrInitApp:                "Failed to initialize docsismon",
	ErrMainLoop:               "Polling stopped with an error",
	ErrShutdownFailed:         "Shutdown failed",
	ErrTimeout:                "Operation timed out",
	ErrInvalidConfig:          "Invalid configuration",
	ErrMissingConfig:          "Missing configuration",
	ErrBindFlags:              "Failed to bind flags",
	ErrReadConfig:             "Failed to read configuration",
	ErrInvalidInterval:        "Invalid poll interval",
	ErrInvalidLogLevel:        "Invalid log level",
	ErrUnsupported:            "Unsupported modem vendor",
	ErrPollInFlight:           "Poll already in progress",
	ErrAuthInvalidCredentials: "Invalid modem credentials",
	ErrAuthAccountLocked:      "Modem account locked",
	ErrAuthProtocol:           "Modem login protocol error",
	ErrAuthNetwork:            "Modem unreachable during login",
	ErrDataFormat:             "Unexpected modem response format",
	ErrNetwork:                "Modem request failed",
	ErrInitStorage:            "Failed to open the snapshot database",
	ErrWriteStorage:           "Failed to write to the snapshot database",
	ErrCloseStorage:           "Failed to close the snapshot database",
}

// GetErrorMessage returns the operator-facing text for code, or the code
// itself when none is registered.
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
