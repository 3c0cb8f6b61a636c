// Package paths locates the coordinator's files on disk.
//
// # Layout
//
//	$XDG_CONFIG_HOME/gazetech/   (or the platform equivalent)
//	  └── settings.yaml          (user settings, any of .json/.yaml/.toml)
//
// # Usage
//
//	path, err := paths.Resolve(cfg.Settings.Path) // "" means SettingsFile()
package paths
