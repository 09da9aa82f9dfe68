package domain

import "errors"

// Error kinds. Adapters wrap these with fmt.Errorf("...: %w", ...) and
// callers classify with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrConnection    = errors.New("connection error")
	ErrProtocol      = errors.New("protocol error")
	ErrCorruptFrame  = errors.New("corrupt frame")
	ErrTimeout       = errors.New("device timeout")
	ErrPersistence   = errors.New("persistence error")
)

// IsDeviceFault reports whether err means the device link must be torn down
// and re-established.
func IsDeviceFault(err error) bool {
	return errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrProtocol) ||
		errors.Is(err, ErrCorruptFrame) ||
		errors.Is(err, ErrTimeout)
}
