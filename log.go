package blockstream

import "log/slog"

// Global logger for all blockstream sessions
var log = slog.Default()

// SetLogger configures the global logger
func SetLogger(l *slog.Logger) {
	log = l
}
