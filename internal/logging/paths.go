package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// LogFileName is the active log file name.
const LogFileName = "kbsearch.log"

// LogDir returns the log directory under dataDir.
func LogDir(dataDir string) string {
	return filepath.Join(dataDir, "logs")
}

// LogPath returns the active log file under dataDir.
func LogPath(dataDir string) string {
	return filepath.Join(LogDir(dataDir), LogFileName)
}

// FindLogFile returns explicit when it exists, otherwise the log file under
// dataDir.
func FindLogFile(dataDir, explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("log file not found: %s", explicit)
		}
		return explicit, nil
	}
	p := LogPath(dataDir)
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("no log file at %s; run a command with --debug or start 'kbsearch serve' first", p)
	}
	return p, nil
}
