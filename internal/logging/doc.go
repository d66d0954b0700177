// Package logging builds the process-wide zap logger. The logger fans out to
// an ordered list of sinks (debug stream, console, Elasticsearch), each
// isolated so that a failing sink never affects the others or the caller.
// Entries are enriched with the environment name, structured error details,
// and request-scoped fields carried by context.Context.
package logging
