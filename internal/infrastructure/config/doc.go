// Package config loads daliserver configuration from YAML with
// environment variable overrides and validation.
//
// The daemon runs with sensible defaults when no config file exists;
// the file and DALISERVER_* environment variables refine them.
package config
