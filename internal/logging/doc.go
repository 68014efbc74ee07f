// Package logging configures log/slog for vecsync.
//
// Records are JSON, written to a size-rotated file under ~/.vecsync/logs/ and,
// outside of MCP mode, mirrored to stderr. stdout is never used so that the
// MCP stdio transport stays clean.
package logging
