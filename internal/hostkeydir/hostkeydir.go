// Package hostkeydir resolves where this server's host key lives on
// disk, following the env-var-first-then-platform-convention pattern used
// throughout this project's teacher lineage for locating state
// directories.
package hostkeydir

import (
	"os"
	"path/filepath"
	"runtime"
)

// Default returns the default path for the server's persisted host key:
// SFTPD_STATE_DIR/host_key if that environment variable is set, otherwise
// a platform-conventional state directory under the user's home.
func Default() string {
	return filepath.Join(StateDir(), "host_key")
}

// StateDir returns this server's state directory: SFTPD_STATE_DIR if set,
// otherwise XDG_STATE_HOME/sftpd on Linux, ~/Library/Application
// Support/sftpd on macOS, %APPDATA%\sftpd on Windows, and
// ~/.local/state/sftpd as the final fallback.
func StateDir() string {
	if d := os.Getenv("SFTPD_STATE_DIR"); d != "" {
		return d
	}
	home := homeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "sftpd")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "sftpd")
		}
		return filepath.Join(home, "sftpd")
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			return filepath.Join(xdg, "sftpd")
		}
		return filepath.Join(home, ".local", "state", "sftpd")
	}
}

func homeDir() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("HOMEDRIVE") + os.Getenv("HOMEPATH")
	}
	return os.Getenv("HOME")
}
