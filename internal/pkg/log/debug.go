package log

import (
	"bufio"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// NewDebugLogger returns logs as string by String() method.
// It is used in the tests.
func NewDebugLogger() DebugLogger {
	buf := &safeBuffer{}
	return &debugLogger{
		zapLogger: loggerFromCore(newDebugCore(buf), ""),
		buf:       buf,
	}
}

type debugLogger struct {
	*zapLogger
	buf *safeBuffer
}

func (l *debugLogger) AddPrefix(prefix string) Logger {
	return &debugLogger{
		zapLogger: loggerFromCore(l.root, l.prefix+prefix),
		buf:       l.buf,
	}
}

func (l *debugLogger) Truncate() {
	l.buf.Truncate()
}

func (l *debugLogger) AllMessages() string {
	return l.messages("")
}

func (l *debugLogger) DebugMessages() string {
	return l.messages("DEBUG")
}

func (l *debugLogger) InfoMessages() string {
	return l.messages("INFO")
}

func (l *debugLogger) WarnMessages() string {
	return l.messages("WARN")
}

func (l *debugLogger) ErrorMessages() string {
	return l.messages("ERROR")
}

func (l *debugLogger) WarnAndErrorMessages() string {
	return l.messages("WARN", "ERROR")
}

func (l *debugLogger) messages(levels ...string) string {
	var out strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(l.buf.String()))
	for scanner.Scan() {
		line := scanner.Text()
		if len(levels) == 0 {
			out.WriteString(line)
			out.WriteString("\n")
			continue
		}
		for _, level := range levels {
			if strings.HasPrefix(line, level+" ") {
				out.WriteString(line)
				out.WriteString("\n")
				break
			}
		}
	}
	return out.String()
}

func newDebugCore(buf *safeBuffer) zapcore.Core {
	encoderCfg := zapcore.EncoderConfig{
		MessageKey:       "message",
		LevelKey:         "level",
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		LineEnding:       zapcore.DefaultLineEnding,
		ConsoleSeparator: " ",
	}
	return zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(buf),
		DebugLevel,
	)
}

type safeBuffer struct {
	lock sync.Mutex
	out  strings.Builder
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.out.Write(p)
}

func (b *safeBuffer) Truncate() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.out.Reset()
}

func (b *safeBuffer) String() string {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.out.String()
}
