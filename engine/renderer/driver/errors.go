package driver

import (
	"errors"

	"github.com/spaghettifunk/anima2d/engine/core"
)

var (
	ErrNotReady    = errors.New("not ready")
	ErrTimeout     = errors.New("timeout")
	ErrDeviceLost  = errors.New("device lost")
	ErrOutOfMemory = errors.New("out of device memory")
	ErrValidation  = errors.New("validation failed")
	ErrUnsupported = errors.New("unsupported")
)

// Severity maps a device error to the severity it is reported with.
func Severity(err error) core.ReportSeverity {
	switch {
	case err == nil:
		return core.SeverityNone
	case errors.Is(err, ErrDeviceLost):
		return core.SeverityDeviceLost
	default:
		return core.SeverityNonCriticalError
	}
}
