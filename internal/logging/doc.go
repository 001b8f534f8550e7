// Package logging builds the zap loggers injected into every component.
//
// Verbosity comes from an explicit level string or the CAMSCAN_LOG_LEVEL
// environment variable; with neither set, logging is fully silent so CLI
// output stays clean. Components never reach for a global logger - the
// engine, cache and servers all take a *zap.Logger at construction.
package logging
