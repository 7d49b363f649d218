package logging

import (
	"log/slog"
)

// SetupServerMode configures logging for the MCP server and installs it as
// the slog default. Records go to the log file only: stdout carries
// JSON-RPC and any stray write corrupts the stream.
func SetupServerMode(dataDir, level string) (*Logger, error) {
	cfg := DefaultConfig(dataDir)
	cfg.Level = level
	cfg.WriteToStderr = false

	l, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l.Logger)
	l.Info("server_logging_initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level))
	return l, nil
}
