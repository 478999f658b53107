package log

import (
	"os"
	"path/filepath"
	"runtime"
)

// defaultDir is the per-user log location: Library/Logs on macOS,
// LOCALAPPDATA on Windows, XDG_STATE_HOME elsewhere.
func defaultDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "vchat", "logs"), nil
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Logs", "vchat"), nil
	default:
		if state := os.Getenv("XDG_STATE_HOME"); state != "" {
			return filepath.Join(state, "vchat"), nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(home, "AppData", "Local", "vchat", "logs"), nil
	}
	return filepath.Join(home, ".local", "state", "vchat"), nil
}
