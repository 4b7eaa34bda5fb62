package log

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger is default implementation of the Logger interface.
// It is wrapped zap.SugaredLogger.
type zapLogger struct {
	*zap.SugaredLogger
	root   zapcore.Core
	prefix string
}

func loggerFromCore(root zapcore.Core, prefix string) *zapLogger {
	var core zapcore.Core = root
	if prefix != "" {
		core = &prefixCore{core: root, prefix: prefix}
	}
	return &zapLogger{SugaredLogger: zap.New(core).Sugar(), root: root, prefix: prefix}
}

// NewServiceLogger creates a logger for long-running services,
// debug messages are written only in the verbose mode.
func NewServiceLogger(out io.Writer, verbose bool) Logger {
	level := InfoLevel
	if verbose {
		level = DebugLevel
	}
	encoderCfg := zapcore.EncoderConfig{
		MessageKey:       "message",
		LevelKey:         "level",
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		LineEnding:       zapcore.DefaultLineEnding,
		ConsoleSeparator: " ",
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(writerAdapter{out}),
		level,
	)
	return loggerFromCore(core, "")
}

// NewNopLogger drops all messages.
func NewNopLogger() Logger {
	return loggerFromCore(zapcore.NewNopCore(), "")
}

func (l *zapLogger) AddPrefix(prefix string) Logger {
	return loggerFromCore(l.root, l.prefix+prefix)
}

func (l *zapLogger) DebugWriter() *LevelWriter {
	return &LevelWriter{logger: l, level: DebugLevel}
}

func (l *zapLogger) InfoWriter() *LevelWriter {
	return &LevelWriter{logger: l, level: InfoLevel}
}

func (l *zapLogger) WarnWriter() *LevelWriter {
	return &LevelWriter{logger: l, level: WarnLevel}
}

func (l *zapLogger) ErrorWriter() *LevelWriter {
	return &LevelWriter{logger: l, level: ErrorLevel}
}

// prefixCore prepends a fixed prefix to each message.
type prefixCore struct {
	core   zapcore.Core
	prefix string
}

func (c *prefixCore) Enabled(level zapcore.Level) bool {
	return c.core.Enabled(level)
}

func (c *prefixCore) With(fields []zapcore.Field) zapcore.Core {
	return &prefixCore{core: c.core.With(fields), prefix: c.prefix}
}

func (c *prefixCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *prefixCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = c.prefix + entry.Message
	return c.core.Write(entry, fields)
}

func (c *prefixCore) Sync() error {
	return c.core.Sync()
}

type writerAdapter struct {
	io.Writer
}
