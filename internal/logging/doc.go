// Package logging builds the slog loggers shared by the desktop app, the CLI
// and the conversion pipeline.
//
// Two output formats are supported: "console" renders one human-readable
// line per record with the component name up front, "json" emits one JSON
// object per line for machine consumption.
package logging
