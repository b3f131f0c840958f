package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the logging interface used across lantern. Library packages
// accept a Logger so hosts can route engine output wherever they like.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	WithGroup(name string) Logger
}

// SlogLogger adapts a *slog.Logger.
type SlogLogger struct {
	logger *slog.Logger
}

// New creates a Logger over handler.
func New(handler slog.Handler) Logger {
	return &SlogLogger{logger: slog.New(handler)}
}

// Default writes text records at info level to stderr.
func Default() Logger {
	return New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// Discard drops everything.
func Discard() Logger {
	return New(slog.DiscardHandler)
}

// JSON writes one JSON object per record.
func JSON(w io.Writer, level slog.Level) Logger {
	return New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	}))
}

// Text writes logfmt-style records.
func Text(w io.Writer, level slog.Level) Logger {
	return New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Pretty writes coloured records for interactive terminals.
func Pretty(w io.Writer, level slog.Level) Logger {
	return New(NewPrettyHandler(w, &slog.HandlerOptions{Level: level}))
}

// Console writes through zerolog's ConsoleWriter. Colour is only used when
// w is a file.
func Console(w io.Writer, level slog.Level) Logger {
	_, isFile := w.(*os.File)
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: !isFile}
	z := zerolog.New(cw).
		Level(zerologLevel(level)).
		With().Timestamp().Logger()
	return &zeroLogger{z: z}
}

// ForFormat picks a Logger by name: pretty, json, text or console.
func ForFormat(format string, w io.Writer, level slog.Level) (Logger, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "pretty":
		return Pretty(w, level), nil
	case "json":
		return JSON(w, level), nil
	case "text":
		return Text(w, level), nil
	case "console":
		return Console(w, level), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want pretty, json, text or console)", format)
	}
}

// FromContext returns the Logger stored in ctx, or Default.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey{}).(Logger); ok {
		return l
	}
	return Default()
}

// WithContext stores l in ctx.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

type loggerKey struct{}

func (l *SlogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *SlogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{logger: l.logger.With(args...)}
}

func (l *SlogLogger) WithGroup(name string) Logger {
	return &SlogLogger{logger: l.logger.WithGroup(name)}
}

// zeroLogger adapts zerolog. zerolog has no groups, so group names become
// dotted key prefixes.
type zeroLogger struct {
	z     zerolog.Logger
	group string
}

func (l *zeroLogger) Debug(msg string, args ...any) { l.emit(l.z.Debug(), msg, args) }
func (l *zeroLogger) Info(msg string, args ...any)  { l.emit(l.z.Info(), msg, args) }
func (l *zeroLogger) Warn(msg string, args ...any)  { l.emit(l.z.Warn(), msg, args) }
func (l *zeroLogger) Error(msg string, args ...any) { l.emit(l.z.Error(), msg, args) }

func (l *zeroLogger) With(args ...any) Logger {
	return &zeroLogger{
		z:     l.z.With().Fields(l.fields(args)).Logger(),
		group: l.group,
	}
}

func (l *zeroLogger) WithGroup(name string) Logger {
	if name == "" {
		return l
	}
	g := name
	if l.group != "" {
		g = l.group + "." + name
	}
	return &zeroLogger{z: l.z, group: g}
}

func (l *zeroLogger) emit(e *zerolog.Event, msg string, args []any) {
	if e == nil {
		return
	}
	e.Fields(l.fields(args)).Msg(msg)
}

func (l *zeroLogger) fields(args []any) map[string]any {
	out := make(map[string]any, len(args)/2)
	for i := 0; i < len(args); i++ {
		switch a := args[i].(type) {
		case slog.Attr:
			out[l.key(a.Key)] = a.Value.Any()
		case string:
			if i+1 < len(args) {
				out[l.key(a)] = args[i+1]
				i++
			} else {
				out[l.key("!BADKEY")] = a
			}
		default:
			out[l.key("!BADKEY")] = a
		}
	}
	return out
}

func (l *zeroLogger) key(k string) string {
	if l.group == "" {
		return k
	}
	return l.group + "." + k
}

func zerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}

// ParseLevel converts a level name to slog.Level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
