// Package logger provides component-scoped structured logging.
//
// Every call names the component emitting the line ("dispatcher", "api",
// "whatsapp", ...) and may carry a field map:
//
//	logger.InfoCF("dispatcher", "Message received", map[string]interface{}{
//		"from": jid,
//	})
//
// Output is written through zap. Configure switches between console and JSON
// encoding; SetLevel changes the threshold at runtime.
package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel is the minimum severity that gets written.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "debug"
	case INFO:
		return "info"
	case WARN:
		return "warn"
	case ERROR:
		return "error"
	case FATAL:
		return "fatal"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel maps a level name to a LogLevel. Unknown names return INFO and false.
func ParseLevel(name string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DEBUG, true
	case "info", "":
		return INFO, true
	case "warn", "warning":
		return WARN, true
	case "error":
		return ERROR, true
	case "fatal":
		return FATAL, true
	default:
		return INFO, false
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	case FATAL:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

var (
	mu           sync.RWMutex
	atomicLevel  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	currentLevel = INFO
	base         = newZap("console")
)

func newZap(format string) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(os.Stderr)), atomicLevel)
	return zap.New(core)
}

// Configure sets the level and output format ("console" or "json").
func Configure(level, format string) error {
	lvl, ok := ParseLevel(level)
	if !ok {
		return fmt.Errorf("unknown log level %q", level)
	}
	switch format {
	case "", "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	mu.Lock()
	old := base
	base = newZap(format)
	mu.Unlock()
	_ = old.Sync()

	SetLevel(lvl)
	return nil
}

// SetLevel changes the minimum severity at runtime.
func SetLevel(level LogLevel) {
	mu.Lock()
	currentLevel = level
	mu.Unlock()
	atomicLevel.SetLevel(level.zapLevel())
}

// GetLevel returns the current minimum severity.
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// Sync flushes buffered output.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}

// useCore swaps the zap core and returns a function restoring the previous one.
func useCore(core zapcore.Core) func() {
	mu.Lock()
	old := base
	base = zap.New(core)
	mu.Unlock()
	return func() {
		mu.Lock()
		base = old
		mu.Unlock()
	}
}

func write(level LogLevel, component, msg string, fields map[string]interface{}) {
	mu.RLock()
	l := base
	mu.RUnlock()

	ce := l.Check(level.zapLevel(), msg)
	if ce == nil {
		return
	}

	zf := make([]zap.Field, 0, len(fields)+1)
	if component != "" {
		zf = append(zf, zap.String("component", component))
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err, ok := fields[k].(error); ok {
			zf = append(zf, zap.String(k, err.Error()))
			continue
		}
		zf = append(zf, zap.Any(k, fields[k]))
	}
	ce.Write(zf...)
}

func Debug(msg string) {
	write(DEBUG, "", msg, nil)
}

func DebugC(component, msg string) {
	write(DEBUG, component, msg, nil)
}

func DebugF(msg string, fields map[string]interface{}) {
	write(DEBUG, "", msg, fields)
}

func DebugCF(component, msg string, fields map[string]interface{}) {
	write(DEBUG, component, msg, fields)
}

func Info(msg string) {
	write(INFO, "", msg, nil)
}

func InfoC(component, msg string) {
	write(INFO, component, msg, nil)
}

func InfoF(msg string, fields map[string]interface{}) {
	write(INFO, "", msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	write(INFO, component, msg, fields)
}

func Warn(msg string) {
	write(WARN, "", msg, nil)
}

func WarnC(component, msg string) {
	write(WARN, component, msg, nil)
}

func WarnF(msg string, fields map[string]interface{}) {
	write(WARN, "", msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	write(WARN, component, msg, fields)
}

func Error(msg string) {
	write(ERROR, "", msg, nil)
}

func ErrorC(component, msg string) {
	write(ERROR, component, msg, nil)
}

func ErrorF(msg string, fields map[string]interface{}) {
	write(ERROR, "", msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	write(ERROR, component, msg, fields)
}

// FatalCF logs and exits the process.
func FatalCF(component, msg string, fields map[string]interface{}) {
	write(FATAL, component, msg, fields)
}
