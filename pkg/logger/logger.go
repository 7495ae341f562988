package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the level and encoding and names the service every entry
// is tagged with.
type Config struct {
	Level string
	// Encoding is "json" for structured output or "console" for local runs.
	Encoding string
	Service  string
	Version  string
}

// New constructs a zap.Logger from cfg.
func New(cfg Config) (*zap.Logger, error) {
	zcfg, err := zapConfig(cfg)
	if err != nil {
		return nil, err
	}
	return zcfg.Build()
}

func zapConfig(cfg Config) (zap.Config, error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		return zap.Config{}, err
	}

	encoding := cfg.Encoding
	encodeLevel := zapcore.LowercaseLevelEncoder
	switch encoding {
	case "", "json":
		encoding = "json"
	case "console":
		encodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return zap.Config{}, fmt.Errorf("unsupported log encoding %q", encoding)
	}

	fields := map[string]any{}
	if cfg.Service != "" {
		fields["service"] = cfg.Service
	}
	if cfg.Version != "" {
		fields["version"] = cfg.Version
	}

	return zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: false,
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    encodeLevel,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields:    fields,
	}, nil
}
