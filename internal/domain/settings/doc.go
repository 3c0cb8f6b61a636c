/*
Package settings stores the user preferences shared across tabs.

The coordinator owns a FileStore; agents read through HTTPClient. The file
format follows the extension: .yaml/.yml, .toml, anything else is JSON.
Partial files decode over the defaults.

	store := settings.NewFileStore("/var/lib/gazetech/settings.yaml")
	merged, err := store.Set(ctx, settings.Values{"gazeSensitivity": 7})
*/
package settings
