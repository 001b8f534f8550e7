// Package config manages the user configuration file for camscan.
//
// The configuration stores user-defined metadata for discovered devices
// (nicknames, last-seen addresses, notes) and scan preferences (session
// timeout, cache freshness window, target segment, serve-mode settings).
// It lives in the platform config directory as YAML and is written
// atomically.
//
// The discovery engine never reads this file: it takes its settings as
// plain parameters. The registry exists purely for the CLI layer.
package config
