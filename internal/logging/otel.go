package logging

import (
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// buildCore tees the enabled outputs and applies sampling on top. The OTEL
// output is skipped when no provider is given.
func buildCore(cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	var outputs []zapcore.Core

	if cfg.Output.Stdout {
		core, err := stdoutCore(cfg)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, core)
	}
	if cfg.Output.OTEL && otelProvider != nil {
		outputs = append(outputs, otelzap.NewCore(serviceName(cfg), otelzap.WithLoggerProvider(otelProvider)))
	}

	switch len(outputs) {
	case 0:
		return nil, errors.New("no log output available: stdout is disabled and no OTEL provider was given")
	case 1:
		return newSampledCore(outputs[0], cfg.Sampling), nil
	default:
		return newSampledCore(zapcore.NewTee(outputs...), cfg.Sampling), nil
	}
}

// stdoutCore writes redacted entries to stdout.
func stdoutCore(cfg *Config) (zapcore.Core, error) {
	enc, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
	if err != nil {
		return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
	}
	return zapcore.NewCore(enc, zapcore.Lock(os.Stdout), cfg.Level), nil
}

// newEncoder creates a JSON or console encoder with ISO8601 "ts" timestamps.
func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = encodeLevel

	if format == "console" {
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

// serviceName is the OTEL instrumentation scope for log records.
func serviceName(cfg *Config) string {
	if name := cfg.Fields["service"]; name != "" {
		return name
	}
	return "consultd"
}
