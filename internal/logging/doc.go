// Package logging configures structured slog output for kbsearch.
//
// Logs are JSON lines written to a size-rotated file under the data
// directory (<data.dir>/logs/kbsearch.log). CLI commands may also mirror
// them to stderr; the MCP server never does, because stdout and stderr
// belong to the protocol stream.
package logging
