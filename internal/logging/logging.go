// File: internal/logging/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package-scoped structured loggers sharing one sink and one atomic level.

package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Severity names accepted by SetLevel, ordered fatal < error < warning <
// information < trace. Messages below the configured threshold are dropped.
const (
	LevelFatal       = "fatal"
	LevelError       = "error"
	LevelWarning     = "warning"
	LevelInformation = "information"
	LevelTrace       = "trace"
)

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	root  = zap.New(defaultCore())
)

func defaultCore() zapcore.Core {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.Lock(os.Stderr), level)
}

// Logger returns a named logger bound to the shared sink. The returned
// logger follows later SetOutput calls.
func Logger(name string) *zap.Logger {
	return zap.New(&proxyCore{}).Named(name)
}

// ParseLevel maps a severity name onto a zap level.
func ParseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case LevelFatal:
		return zapcore.FatalLevel, nil
	case LevelError:
		return zapcore.ErrorLevel, nil
	case LevelWarning, "warn":
		return zapcore.WarnLevel, nil
	case LevelInformation, "info", "":
		return zapcore.InfoLevel, nil
	case LevelTrace, "debug":
		return zapcore.DebugLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

// SetLevel changes the threshold of every logger.
func SetLevel(name string) error {
	l, err := ParseLevel(name)
	if err != nil {
		return err
	}
	level.SetLevel(l)
	return nil
}

// Level returns the current threshold.
func Level() zapcore.Level { return level.Level() }

// SetOutput replaces the shared sink. The core is wrapped so that the shared
// level still applies. Passing nil restores the stderr JSON sink.
func SetOutput(core zapcore.Core) {
	if core == nil {
		core = defaultCore()
	} else {
		core = &levelCore{Core: core}
	}
	mu.Lock()
	root = zap.New(core)
	mu.Unlock()
}

func current() zapcore.Core {
	mu.RLock()
	defer mu.RUnlock()
	return root.Core()
}

// proxyCore resolves the shared core on every write so that package-level
// loggers created at init time observe SetOutput.
type proxyCore struct {
	fields []zapcore.Field
}

func (p *proxyCore) Enabled(l zapcore.Level) bool { return level.Enabled(l) && current().Enabled(l) }

func (p *proxyCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(p.fields)+len(fields))
	merged = append(merged, p.fields...)
	merged = append(merged, fields...)
	return &proxyCore{fields: merged}
}

func (p *proxyCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if p.Enabled(ent.Level) {
		return ce.AddCore(ent, p)
	}
	return ce
}

func (p *proxyCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	core := current()
	if len(p.fields) > 0 {
		core = core.With(p.fields)
	}
	return core.Write(ent, fields)
}

func (p *proxyCore) Sync() error { return current().Sync() }

type levelCore struct {
	zapcore.Core
}

func (c *levelCore) Enabled(l zapcore.Level) bool { return level.Enabled(l) && c.Core.Enabled(l) }

func (c *levelCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelCore{Core: c.Core.With(fields)}
}

func (c *levelCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}
