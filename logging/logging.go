// Package logging provides levelled, component-scoped console logging for the
// registry and its adapters. Output is line oriented and backed by zap.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var zapLevels = map[Level]zapcore.Level{
	LevelDebug: zapcore.DebugLevel,
	LevelInfo:  zapcore.InfoLevel,
	LevelWarn:  zapcore.WarnLevel,
	LevelError: zapcore.ErrorLevel,
}

// ParseLevel converts a case-insensitive level name into a Level.
// An empty string parses as LevelInfo.
func ParseLevel(s string) (Level, error) {
	if s == "" {
		return LevelInfo, nil
	}
	level := Level(strings.ToUpper(strings.TrimSpace(s)))
	if level == "WARNING" {
		level = LevelWarn
	}
	if _, ok := zapLevels[level]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// Logger writes structured lines: TIMESTAMP LEVEL component message {fields}.
type Logger struct {
	level     zap.AtomicLevel
	output    zapcore.WriteSyncer
	component string
	zl        *zap.Logger
}

// New creates a new Logger writing INFO and above to stdout.
func New() *Logger {
	l := &Logger{
		level:  zap.NewAtomicLevelAt(zapcore.InfoLevel),
		output: zapcore.Lock(os.Stdout),
	}
	l.build()
	return l
}

// Nop returns a logger that discards everything. It is the default for
// components constructed without a logger.
func Nop() *Logger {
	l := &Logger{
		level:  zap.NewAtomicLevelAt(zapcore.FatalLevel),
		output: zapcore.AddSync(io.Discard),
	}
	l.build()
	return l
}

func (l *Logger) build() {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "component",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     utcTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), l.output, l.level)
	zl := zap.New(core)
	if l.component != "" {
		zl = zl.Named(l.component)
	}
	l.zl = zl
}

func utcTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z"))
}

// WithComponent returns a new logger with the given component name.
// The level is shared with the parent.
func (l *Logger) WithComponent(component string) *Logger {
	child := &Logger{
		level:     l.level,
		output:    l.output,
		component: component,
	}
	child.build()
	return child
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	if zl, ok := zapLevels[level]; ok {
		l.level.SetLevel(zl)
	}
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = zapcore.Lock(zapcore.AddSync(w))
	l.build()
}

// Sync flushes buffered output.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(zapcore.DebugLevel, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(zapcore.InfoLevel, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(zapcore.WarnLevel, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(zapcore.ErrorLevel, msg, fields...)
}

func (l *Logger) log(level zapcore.Level, msg string, fields ...map[string]interface{}) {
	ce := l.zl.Check(level, msg)
	if ce == nil {
		return
	}
	var zf []zap.Field
	if len(fields) > 0 && fields[0] != nil {
		zf = toZapFields(fields[0])
	}
	ce.Write(zf...)
}

// toZapFields converts a field map into zap fields in key order so output is stable.
func toZapFields(fields map[string]interface{}) []zap.Field {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			out = append(out, zap.String(k, err.Error()))
			continue
		}
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

// --- Registry lifecycle events ---

// RegistryCreated logs creation of a registry.
func (l *Logger) RegistryCreated(registry string, autoSetup bool) {
	l.Debug("registry_created", map[string]interface{}{
		"registry":   registry,
		"auto_setup": autoSetup,
	})
}

// ItemAdded logs registration of an item.
func (l *Logger) ItemAdded(registry, item string) {
	l.Debug("item_added", map[string]interface{}{
		"registry": registry,
		"item":     item,
	})
}

// ItemRemoved logs removal (tear down) of an item.
func (l *Logger) ItemRemoved(registry, item string) {
	l.Debug("item_removed", map[string]interface{}{
		"registry": registry,
		"item":     item,
	})
}

// SetUpFailed logs an item whose SetUp failed and which is being pruned.
func (l *Logger) SetUpFailed(registry, item string, err error) {
	fields := map[string]interface{}{
		"registry": registry,
		"item":     item,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Warn("setup_failed", fields)
}

// SetUpComplete logs the outcome of a registry SetUp pass.
func (l *Logger) SetUpComplete(registry string, active, pruned int, duration time.Duration) {
	l.Info("setup_complete", map[string]interface{}{
		"registry": registry,
		"active":   active,
		"pruned":   pruned,
		"duration": duration.String(),
	})
}

// CallFailed logs a dispatch that returned an error to its caller.
func (l *Logger) CallFailed(registry, item string, err error) {
	fields := map[string]interface{}{
		"registry": registry,
		"item":     item,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Debug("call_failed", fields)
}
