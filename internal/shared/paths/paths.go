package paths

import (
	"os"
	"path/filepath"
)

// Directory and file names
const (
	AppDir           = "gazetech"
	SettingsFileName = "settings.yaml"
)

// ConfigDir returns the per-user configuration directory, falling back to
// the system temp directory when the user has none.
func ConfigDir() string {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, AppDir)
}

// SettingsFile returns the default settings file path.
func SettingsFile() string {
	return filepath.Join(ConfigDir(), SettingsFileName)
}

// Resolve expands a leading ~ and makes path absolute. An empty path
// resolves to SettingsFile.
func Resolve(path string) (string, error) {
	if path == "" {
		return SettingsFile(), nil
	}
	if path == "~" || (len(path) > 1 && path[0] == '~' && os.IsPathSeparator(path[1])) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
