package errors

// ErrorCode identifies a failure class. Codes are stable strings so they can
// be logged, stored with poll results and matched by callers.
type ErrorCode string

// Coded is implemented by any error that carries an ErrorCode, including the
// modem driver errors that are not built by a Factory.
type Coded interface {
	Code() ErrorCode
}

// Error is a coded error with an optional message override, payload and
// wrapped cause.
type Error interface {
	error
	Coded
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory builds Errors. Packages declare their codes in errors.go and
// create instances through errors.New().
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
