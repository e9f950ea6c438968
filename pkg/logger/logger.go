package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Errors go to stderr and everything below
// to stdout; when logDir is set both streams are also written as JSON to
// errors.log and standard.log inside it.
func New(level, logDir string) (*zap.Logger, error) {
	minLevel := zapcore.InfoLevel
	if level != "" {
		if err := minLevel.Set(strings.ToLower(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel && lvl >= minLevel
	})
	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl < zapcore.ErrorLevel && lvl >= minLevel
	})

	console := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	cores := []zapcore.Core{
		zapcore.NewCore(console, zapcore.Lock(zapcore.AddSync(os.Stderr)), highPriority),
		zapcore.NewCore(console, zapcore.Lock(zapcore.AddSync(os.Stdout)), lowPriority),
	}

	logDir = strings.TrimSpace(logDir)
	if logDir != "" {
		dir, err := homedir.Expand(logDir)
		if err != nil {
			return nil, fmt.Errorf("failed to expand log directory: %w", err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}

		errFile, err := openLogFile(filepath.Join(dir, "errors.log"))
		if err != nil {
			return nil, err
		}
		stdFile, err := openLogFile(filepath.Join(dir, "standard.log"))
		if err != nil {
			return nil, err
		}

		jsonEnc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores,
			zapcore.NewCore(jsonEnc, errFile, highPriority),
			zapcore.NewCore(jsonEnc, stdFile, lowPriority),
		)
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

func openLogFile(path string) (zapcore.WriteSyncer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return zapcore.Lock(zapcore.AddSync(f)), nil
}
