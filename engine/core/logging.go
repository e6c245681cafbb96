package core

import (
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/term"
)

var once sync.Once

type logger struct {
	*log.Logger
}

var singleton *logger

func getLogger() *logger {
	once.Do(
		func() {
			l := log.NewWithOptions(os.Stderr, log.Options{
				ReportCaller:    false,
				ReportTimestamp: true,
				TimeFormat:      time.RFC3339,
				Prefix:          "anima2d",
			})
			// Piped output (CI, files) gets logfmt so it stays greppable.
			if !term.IsTerminal(int(os.Stderr.Fd())) {
				l.SetFormatter(log.LogfmtFormatter)
			}
			l.SetLevel(log.InfoLevel)
			singleton = &logger{l}
		})
	return singleton
}

// SetLogLevel changes the level of the engine logger. Unknown levels are
// rejected and leave the current level untouched.
func SetLogLevel(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	getLogger().SetLevel(lvl)
	return nil
}

// SetLogJSON switches the engine logger to JSON output.
func SetLogJSON(enabled bool) {
	if enabled {
		getLogger().SetFormatter(log.JSONFormatter)
		return
	}
	getLogger().SetFormatter(log.TextFormatter)
}

func LogDebug(msg string, args ...interface{}) {
	getLogger().Debugf(msg, args...)
}

func LogInfo(msg string, args ...interface{}) {
	getLogger().Infof(msg, args...)
}

func LogWarn(msg string, args ...interface{}) {
	getLogger().Warnf(msg, args...)
}

func LogError(msg string, args ...interface{}) {
	getLogger().Errorf(msg, args...)
}

func LogFatal(msg string, args ...interface{}) {
	getLogger().Fatalf(msg, args...)
}
