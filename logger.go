package labcore

// Logger defines the interface for framework logging. All Manager
// operations (configuration, wiring, lifecycle) log through it with
// structured key-value pairs, so host applications control how
// framework logs appear.
//
// The variadic arguments are key-value pairs, compatible with slog,
// zap's sugared logger and similar structured loggers:
//
//	logger.Info("Activated module", "category", "hardware", "name", "awg")
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}
