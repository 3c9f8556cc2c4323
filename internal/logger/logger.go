package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides leveled, structured logging
type Logger struct {
	*zap.SugaredLogger
}

// New builds a logger for the given environment ("production" emits JSON).
// level is one of ERROR, WARN, INFO, DEBUG; empty keeps the environment default.
func New(serviceName, env, level string) (*Logger, error) {
	cfg := buildConfig(env)
	if lvl, ok := parseLevel(level); ok {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	z, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("cannot init zap logger: %w", err)
	}
	return &Logger{SugaredLogger: z.Named(serviceName).Sugar()}, nil
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func buildConfig(env string) zap.Config {
	var cfg zap.Config

	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production":
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "debug":
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.CallerKey = zapcore.OmitKey
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	return cfg
}

func parseLevel(level string) (zapcore.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "ERROR":
		return zap.ErrorLevel, true
	case "WARN":
		return zap.WarnLevel, true
	case "INFO":
		return zap.InfoLevel, true
	case "DEBUG":
		return zap.DebugLevel, true
	}
	return zap.InfoLevel, false
}

// With returns a child logger carrying the given key/value pairs
func (l *Logger) With(args ...any) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(args...)}
}

// SafeSync flushes buffered entries, ignoring errors from non-syncable outputs
func (l *Logger) SafeSync() {
	if l == nil {
		return
	}
	if err := l.Desugar().Sync(); err != nil {
		s := strings.ToLower(err.Error())
		if !strings.Contains(s, "invalid argument") && !strings.Contains(s, "inappropriate ioctl for device") {
			l.Errorf("log sync error: %v", err)
		}
	}
}

// MaskEmail hides the local part of an address except its first and last character,
// e.g. "user@example.com" -> "u**r@example.com"
func MaskEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return maskToken(email)
	}
	return maskToken(email[:at]) + email[at:]
}

func maskToken(s string) string {
	runes := []rune(s)
	switch n := len(runes); {
	case n < 2:
		return s
	case n == 2:
		return string(runes[0]) + "*"
	default:
		return string(runes[0]) + strings.Repeat("*", n-2) + string(runes[n-1])
	}
}
