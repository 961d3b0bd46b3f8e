// Package logging implements the leveled, structured log sink (§4.13):
// a small facade over go.uber.org/zap with console and JSON backends,
// plus the per-request access-log line from §6.6.
//
// The teacher only ever calls fmt.Println/log.Fatal; this package
// replaces that with zap the way Caddy itself (the project
// teemuteemu-caddy-language-server exists to serve) uses zap as its
// structured logger, an indirect dependency of that repo's go.mod.
package logging

import (
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the interface the rest of the server logs through.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Access(entry AccessEntry)
	With(fields ...zap.Field) Logger
	Sync() error
}

// AccessEntry is one served request, per §6.6:
// "({status}) {method} {raw-target}[ -> {routed-target}][ (basic auth)] ({host})".
type AccessEntry struct {
	Status        int
	Method        string
	RawTarget     string
	RoutedTarget  string
	UsedBasicAuth bool
	Host          string
	ConnectionID  string
}

type sugaredLogger struct {
	s      *zap.SugaredLogger
	access *zap.SugaredLogger
}

// Config selects the backend and minimum level.
type Config struct {
	Level         string // debug|info|warn|error
	Format        string // console|json
	AccessLogPath string // empty means access lines go to the same sink as everything else
}

// New builds a Logger per cfg. An empty Config yields info/console/stderr,
// matching §6.2's documented default.
func New(cfg Config) (Logger, error) {
	level := parseLevel(cfg.Level)
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.TimeKey = "ts"

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	sink := zapcore.Lock(zapcore.AddSync(os.Stderr))
	core := zapcore.NewCore(encoder, sink, level)
	logger := zap.New(core)

	accessLogger := logger
	if cfg.AccessLogPath != "" {
		f, err := os.OpenFile(cfg.AccessLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		accessSink := zapcore.Lock(zapcore.AddSync(f))
		accessCore := zapcore.NewCore(encoder, accessSink, level)
		accessLogger = zap.New(accessCore)
	}

	return &sugaredLogger{s: logger.Sugar(), access: accessLogger.Sugar()}, nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *sugaredLogger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l *sugaredLogger) Infof(format string, args ...interface{})  { l.s.Infof(format, args...) }
func (l *sugaredLogger) Warnf(format string, args ...interface{})  { l.s.Warnf(format, args...) }
func (l *sugaredLogger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }

func (l *sugaredLogger) With(fields ...zap.Field) Logger {
	return &sugaredLogger{
		s:      l.s.Desugar().With(fields...).Sugar(),
		access: l.access.Desugar().With(fields...).Sugar(),
	}
}

func (l *sugaredLogger) Sync() error { return l.s.Sync() }

// Access emits one §6.6 line. 408s are never logged here; the caller
// (internal/connserve) is responsible for not calling Access for a
// timed-out read, per §6.6 "408s are suppressed".
func (l *sugaredLogger) Access(e AccessEntry) {
	line := "(" + itoa(e.Status) + ") " + e.Method + " " + e.RawTarget
	if e.RoutedTarget != "" && e.RoutedTarget != e.RawTarget {
		line += " -> " + e.RoutedTarget
	}
	if e.UsedBasicAuth {
		line += " (basic auth)"
	}
	line += " (" + e.Host + ")"
	l.access.Infow(line, "connection_id", e.ConnectionID, "status", e.Status)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// NewConnectionID mints a short correlation id for one accepted
// connection, attached to the access line of every request served on it.
func NewConnectionID() string {
	return uuid.NewString()[:8]
}
