package core

import (
	"fmt"
	"sync"
)

// ReportSeverity classifies messages sent to the process-wide report callback.
type ReportSeverity int

const (
	// SeverityNone is not a valid severity; it is used to detect unset values.
	SeverityNone ReportSeverity = iota
	// SeverityVerbose reports everything, usually too much information.
	SeverityVerbose
	// SeverityInfo is useful to know what the engine is doing.
	SeverityInfo
	// SeverityPerformanceWarning flags a serious bottleneck.
	SeverityPerformanceWarning
	// SeverityWarning means something failed to load; rendering continues with visual defects.
	SeverityWarning
	// SeverityNonCriticalError still allows the application to continue.
	SeverityNonCriticalError
	// SeverityCriticalError means the application should terminate.
	SeverityCriticalError
	// SeverityDeviceLost means the GPU device was lost and must be recreated.
	SeverityDeviceLost
)

func (s ReportSeverity) String() string {
	switch s {
	case SeverityVerbose:
		return "VERBOSE"
	case SeverityInfo:
		return "INFO"
	case SeverityPerformanceWarning:
		return "PERFORMANCE_WARNING"
	case SeverityWarning:
		return "WARNING"
	case SeverityNonCriticalError:
		return "NON_CRITICAL_ERROR"
	case SeverityCriticalError:
		return "CRITICAL_ERROR"
	case SeverityDeviceLost:
		return "DEVICE_LOST"
	default:
		return "NONE"
	}
}

// ReportFunc receives every report. Calls are serialized.
type ReportFunc func(severity ReportSeverity, message string)

var (
	reportMutex    sync.Mutex
	reportCallback ReportFunc
)

// SetReportCallback installs the process-wide report callback and returns the
// previous one. Passing nil disables forwarding; reports are still logged.
func SetReportCallback(fn ReportFunc) ReportFunc {
	reportMutex.Lock()
	defer reportMutex.Unlock()

	prev := reportCallback
	reportCallback = fn
	return prev
}

// Report logs the message at the level matching severity and forwards it to
// the report callback, if one is installed.
func Report(severity ReportSeverity, msg string, args ...interface{}) {
	message := msg
	if len(args) > 0 {
		message = fmt.Sprintf(msg, args...)
	}

	switch severity {
	case SeverityVerbose:
		LogDebug("%s", message)
	case SeverityInfo:
		LogInfo("%s", message)
	case SeverityPerformanceWarning, SeverityWarning:
		LogWarn("%s", message)
	default:
		LogError("[%s] %s", severity, message)
	}

	reportMutex.Lock()
	defer reportMutex.Unlock()
	if reportCallback != nil {
		reportCallback(severity, message)
	}
}
