package core

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel = log.Level

const (
	LogLevelDebug = log.DebugLevel
	LogLevelInfo  = log.InfoLevel
	LogLevelWarn  = log.WarnLevel
	LogLevelError = log.ErrorLevel
	LogLevelFatal = log.FatalLevel
)

// LogConfig controls the process-wide logger.
type LogConfig struct {
	Level string `toml:"level"`
	// File, when set, receives a copy of every line through a rotating writer.
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

var once sync.Once

type logger struct {
	*log.Logger
	rotating *lumberjack.Logger
}

var singleton *logger

func getLogger() *logger {
	once.Do(
		func() {
			l := log.NewWithOptions(os.Stderr, log.Options{
				ReportCaller:    true,
				ReportTimestamp: true,
				TimeFormat:      time.RFC3339,
				Prefix:          "prism",
			})
			l.SetLevel(log.InfoLevel)
			singleton = &logger{Logger: l}
		})
	return singleton
}

// LogConfigure applies the level and optional rotating file output.
func LogConfigure(cfg LogConfig) error {
	l := getLogger()
	if cfg.Level != "" {
		lvl, err := log.ParseLevel(cfg.Level)
		if err != nil {
			return err
		}
		l.SetLevel(lvl)
	}
	if cfg.File == "" {
		return nil
	}
	if l.rotating != nil {
		_ = l.rotating.Close()
	}
	l.rotating = &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   true,
	}
	if l.rotating.MaxSize == 0 {
		l.rotating.MaxSize = 32
	}
	l.SetOutput(io.MultiWriter(os.Stderr, l.rotating))
	return nil
}

// LogSetOutput redirects the logger, mostly for tests.
func LogSetOutput(w io.Writer) {
	getLogger().SetOutput(w)
}

func LogClose() error {
	l := getLogger()
	if l.rotating == nil {
		return nil
	}
	err := l.rotating.Close()
	l.rotating = nil
	l.SetOutput(os.Stderr)
	return err
}

func LogDebug(msg string, args ...interface{}) {
	l := getLogger()
	l.Helper()
	l.Debugf(msg, args...)
}

func LogInfo(msg string, args ...interface{}) {
	l := getLogger()
	l.Helper()
	l.Infof(msg, args...)
}

func LogWarn(msg string, args ...interface{}) {
	l := getLogger()
	l.Helper()
	l.Warnf(msg, args...)
}

func LogError(msg string, args ...interface{}) {
	l := getLogger()
	l.Helper()
	l.Errorf(msg, args...)
}

func LogFatal(msg string, args ...interface{}) {
	l := getLogger()
	l.Helper()
	l.Fatalf(msg, args...)
}

// LogWith emits a structured line with key/value pairs at the given level.
func LogWith(level LogLevel, msg string, keyvals ...interface{}) {
	l := getLogger()
	l.Helper()
	l.Log(level, msg, keyvals...)
}

var osExit = os.Exit

// LogFatalError prints a single tagged line with the error kind, closes the
// rotating file and exits with status 1. The reported caller is skip frames
// above the function calling LogFatalError.
func LogFatalError(err error, skip int) {
	l := getLogger().With("kind", ErrorKind(err))
	l.SetReportCaller(false)
	if _, file, line, ok := runtime.Caller(skip + 1); ok {
		l = l.With("caller", fmt.Sprintf("%s/%s:%d", filepath.Base(filepath.Dir(file)), filepath.Base(file), line))
	}
	l.Log(LogLevelFatal, err.Error())
	_ = LogClose()
	osExit(1)
}

// LogRecoverable logs a recoverable error at info level.
func LogRecoverable(err error, keyvals ...interface{}) {
	l := getLogger()
	l.Helper()
	kv := append([]interface{}{"kind", ErrorKind(err), "cause", err.Error()}, keyvals...)
	l.Info("recoverable error", kv...)
}
