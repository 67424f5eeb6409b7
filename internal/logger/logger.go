// Package logger builds the zap logger shared by the CLI and its
// components.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	Level string
	// Format is console or json.
	Format string
	// Output is stderr, stdout or a file path.
	Output string
}

// New builds a logger from opts. Empty fields select info level, console
// format and stderr.
func New(opts Options) (*zap.Logger, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	return cfg.Build()
}

func buildConfig(opts Options) (zap.Config, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		l, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return zap.Config{}, fmt.Errorf("log level: %w", err)
		}
		level = l
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Sampling = nil
	cfg.DisableStacktrace = level > zapcore.DebugLevel

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.RFC3339TimeEncoder
	enc.EncodeCaller = zapcore.ShortCallerEncoder

	switch strings.ToLower(opts.Format) {
	case "", "console", "text":
		cfg.Encoding = "console"
		cfg.DisableCaller = true
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "json":
		cfg.Encoding = "json"
		enc.EncodeLevel = zapcore.LowercaseLevelEncoder
	default:
		return zap.Config{}, fmt.Errorf("unknown log format %q", opts.Format)
	}
	cfg.EncoderConfig = enc

	out := opts.Output
	if out == "" {
		out = "stderr"
	}
	if out != "stderr" && out != "stdout" {
		// Colour codes only make sense on a terminal.
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
		if cfg.Encoding == "json" {
			enc.EncodeLevel = zapcore.LowercaseLevelEncoder
		}
		cfg.EncoderConfig = enc
	}
	cfg.OutputPaths = []string{out}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg, nil
}
