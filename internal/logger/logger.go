package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	levelVar   slog.LevelVar
	loggerMu   sync.RWMutex
	baseLogger *slog.Logger
	output     io.Writer = os.Stdout
	jsonFormat bool
)

func init() {
	levelVar.Set(slog.LevelInfo)
	baseLogger = newLogger(os.Stdout, false)
}

func newLogger(w io.Writer, asJSON bool) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: &levelVar}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func SetOutput(w io.Writer) {
	loggerMu.Lock()
	output = w
	baseLogger = newLogger(w, jsonFormat)
	loggerMu.Unlock()
}

// SetJSON switches the handler between text and JSON lines.
func SetJSON(enabled bool) {
	loggerMu.Lock()
	jsonFormat = enabled
	baseLogger = newLogger(output, enabled)
	loggerMu.Unlock()
}

func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "info":
		levelVar.Set(slog.LevelInfo)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

func activeLogger() *slog.Logger {
	loggerMu.RLock()
	l := baseLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if baseLogger == nil {
		baseLogger = newLogger(os.Stdout, jsonFormat)
	}
	return baseLogger
}

func Debugf(format string, v ...any) {
	activeLogger().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	activeLogger().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	activeLogger().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	activeLogger().Error(fmt.Sprintf(format, v...))
}

func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	for _, line := range strings.Split(block, "\n") {
		Infof("%s", line)
	}
}

// Component 是带 component 属性的日志句柄，供各子系统使用。
type Component struct {
	name  string
	attrs []any
}

// Named returns a handle whose records carry component=name.
func Named(name string) *Component {
	return &Component{name: name}
}

// With returns a copy carrying extra key/value attributes.
func (c *Component) With(kv ...any) *Component {
	if c == nil {
		return nil
	}
	attrs := make([]any, 0, len(c.attrs)+len(kv))
	attrs = append(attrs, c.attrs...)
	attrs = append(attrs, kv...)
	return &Component{name: c.name, attrs: attrs}
}

func (c *Component) slog() *slog.Logger {
	l := activeLogger()
	if c == nil {
		return l
	}
	l = l.With("component", c.name)
	if len(c.attrs) > 0 {
		l = l.With(c.attrs...)
	}
	return l
}

func (c *Component) Debugf(format string, v ...any) {
	c.slog().Debug(fmt.Sprintf(format, v...))
}

func (c *Component) Infof(format string, v ...any) {
	c.slog().Info(fmt.Sprintf(format, v...))
}

func (c *Component) Warnf(format string, v ...any) {
	c.slog().Warn(fmt.Sprintf(format, v...))
}

func (c *Component) Errorf(format string, v ...any) {
	c.slog().Error(fmt.Sprintf(format, v...))
}
