package auth

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var _ Logger = (*ZapLogger)(nil)

// ZapLogger adapts a zap logger to Logger. Format verbs are expanded with
// fmt; leftover arguments become zap fields.
type ZapLogger struct {
	l *zap.SugaredLogger
}

// NewZapLogger wraps l, a nil logger falls back to zap.NewNop
func NewZapLogger(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{l: l.Sugar()}
}

func (z *ZapLogger) Debug(format string, args ...any) {
	msg, rest := splitFormat(format, args)
	z.l.Debugw(msg, rest...)
}

func (z *ZapLogger) Info(format string, args ...any) {
	msg, rest := splitFormat(format, args)
	z.l.Infow(msg, rest...)
}

func (z *ZapLogger) Warn(format string, args ...any) {
	msg, rest := splitFormat(format, args)
	z.l.Warnw(msg, rest...)
}

func (z *ZapLogger) Error(format string, args ...any) {
	msg, rest := splitFormat(format, args)
	z.l.Errorw(msg, rest...)
}

// splitFormat consumes as many args as the format has verbs
func splitFormat(format string, args []any) (string, []any) {
	n := countVerbs(format)
	if n > len(args) {
		n = len(args)
	}
	if n == 0 {
		return strings.ReplaceAll(format, "%%", "%"), args
	}
	return fmt.Sprintf(format, args[:n]...), args[n:]
}

func countVerbs(format string) int {
	n := 0
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}
		if i+1 < len(format) && format[i+1] == '%' {
			i++
			continue
		}
		n++
	}
	return n
}
