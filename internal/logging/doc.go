// Package logging provides the leveled logger shared by every part of the
// gallery agent.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information (stream parts, cache cycles)
//   - INFO: General operational messages
//   - WARN: Degraded behaviour (count request failures, blocked cache deletes)
//   - ERROR: Error conditions surfaced to the view
//   - FATAL: Fatal errors that terminate the application
//
// The log level is configured via the LOG_LEVEL environment variable, or
// forced to debug with DEBUG=1.
//
// Subsystems obtain a component logger with For, which prefixes every line
// with the component name:
//
//	var log = logging.For("controller")
//	log.Info("mounted session %s", id)
//	// [INFO] [controller] mounted session 5f0c...
package logging
