package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-lifx/internal/infrastructure/config"
)

// ServiceName is attached to every log entry.
const ServiceName = "graylogic-lifx"

// Logger wraps slog.Logger with the service's default fields.
//
// It satisfies the Logger interfaces of the lifx packages, so one value
// can be handed to the LAN manager, the network context and the bridge.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger

	output     io.Writer
	format     string
	version    string
	components map[string]slog.Level
}

// New creates a new Logger with the specified configuration.
//
// Parameters:
//   - cfg: Logging section of the service configuration
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	return newWithWriter(output, cfg, version)
}

// newWithWriter builds the logger on an explicit writer.
func newWithWriter(output io.Writer, cfg config.LoggingConfig, version string) *Logger {
	l := &Logger{
		output:     output,
		format:     strings.ToLower(cfg.Format),
		version:    version,
		components: make(map[string]slog.Level, len(cfg.Components)),
	}
	for name, level := range cfg.Components {
		l.components[name] = parseLevel(level)
	}
	l.Logger = slog.New(l.handler(parseLevel(cfg.Level)))
	return l
}

func (l *Logger) handler(level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if l.format == "text" {
		h = slog.NewTextHandler(l.output, opts)
	} else {
		h = slog.NewJSONHandler(l.output, opts)
	}
	return h.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", l.version),
	})
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	siteLogger := logger.With("site", "316c69667831")
//	siteLogger.Info("gateway connected") // Includes site=316c69667831
func (l *Logger) With(args ...any) *Logger {
	c := *l
	c.Logger = l.Logger.With(args...)
	return &c
}

// Component returns a logger tagged component=name. A level configured
// under logging.components replaces the global level for it, so the
// chatty LAN layer can run at debug while the rest stays at info.
func (l *Logger) Component(name string) *Logger {
	level, ok := l.components[name]
	if !ok {
		return l.With("component", name)
	}
	c := *l
	c.Logger = slog.New(l.handler(level)).With("component", name)
	return &c
}

// Default creates a default logger for use before configuration is loaded.
// It writes JSON to stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
