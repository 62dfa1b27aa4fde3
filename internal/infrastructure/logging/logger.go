package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger so callers share one type across the server and
// the CLI.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// Config defines logger configuration.
type Config struct {
	Level       string // "debug", "info", "warn", "error"
	Development bool
	OutputPaths []string
}

// DefaultConfig returns production logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:       "info",
		OutputPaths: []string{"stdout"},
	}
}

// DevelopmentConfig returns development logger configuration.
func DevelopmentConfig() Config {
	return Config{
		Level:       "debug",
		Development: true,
		OutputPaths: []string{"stdout"},
	}
}

// New creates a logger with the provided configuration.
func New(cfg Config) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stdout"}
	}

	atom := zap.NewAtomicLevelAt(level)
	zapCfg := zap.Config{
		Level:             atom,
		Development:       cfg.Development,
		Encoding:          encodingFormat(cfg.Development),
		EncoderConfig:     encoderConfig(cfg.Development),
		OutputPaths:       cfg.OutputPaths,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !cfg.Development,
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: logger, level: atom}, nil
}

// NewDefault creates a logger with default configuration.
func NewDefault() *Logger {
	return orNop(New(DefaultConfig()))
}

// NewDevelopment creates a logger with development configuration.
func NewDevelopment() *Logger {
	return orNop(New(DevelopmentConfig()))
}

// FromSettings builds the logger described by the LOG_* settings. An
// invalid level falls back to the mode's default level.
func FromSettings(level string, development bool) *Logger {
	cfg := DefaultConfig()
	if development {
		cfg = DevelopmentConfig()
	}
	if _, err := ParseLevel(level); err == nil && level != "" {
		cfg.Level = level
	}
	return orNop(New(cfg))
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop(), level: zap.NewAtomicLevel()}
}

func orNop(l *Logger, err error) *Logger {
	if err != nil {
		return Nop()
	}
	return l
}

// SetLevel changes the level at runtime.
func (l *Logger) SetLevel(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	l.level.SetLevel(lvl)
	return nil
}

// Level returns the current level name.
func (l *Logger) Level() string { return l.level.Level().String() }

// ParseLevel converts a level name to zapcore.Level.
func ParseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

func encodingFormat(development bool) string {
	if development {
		return "console"
	}
	return "json"
}

func encoderConfig(development bool) zapcore.EncoderConfig {
	if development {
		return zapcore.EncoderConfig{
			TimeKey:        "T",
			LevelKey:       "L",
			NameKey:        "N",
			CallerKey:      "C",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "M",
			StacktraceKey:  "S",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}
	}

	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}
