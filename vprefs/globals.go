package internal

import (
	"log"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

var (
	// DefaultAppName names the preference directories and the config search paths
	DefaultAppName    = "vprefs"
	DefaultConfigPath = filepath.Join(getHomeDir(), ".config", DefaultAppName)

	// Default root locations
	DefaultUserRootDir           = filepath.Join(getHomeDir(), "."+DefaultAppName)
	DefaultSystemRootDir         = filepath.Join("/etc", DefaultAppName)
	DefaultSystemRootFallbackDir = filepath.Join(getInstallDir(), ".systemPrefs")

	// Default storage settings
	DefaultDataFileName        = "prefs.properties"
	DefaultSyncIntervalSeconds = 30
)

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current working directory if home directory is unavailable
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			log.Printf("Unable to get home or working directory, using /tmp: %v", err)
			return "/tmp"
		}
		log.Printf("Unable to get home directory, using current working directory: %v", err)
		return cwd
	}
	return homeDir
}

// getInstallDir is the directory holding the running executable, used for the
// system root when /etc is not available.
func getInstallDir() string {
	exe, err := os.Executable()
	if err != nil {
		return getHomeDir()
	}
	return filepath.Dir(exe)
}

// GetLogger returns a properly configured zerolog logger instance
func GetLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
