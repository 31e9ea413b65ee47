// Package logging provides structured logging for daliserver, built on
// log/slog with JSON and text output formats.
package logging
