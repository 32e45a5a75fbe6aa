/*
Package log provides structured logging for the data-plane core using
zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with request-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support
filtering by severity level for production debugging.

# Usage

Initializing the logger:

	import "github.com/cuemby/dataplane/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("data-plane starting")
	log.Error("catalogue unreachable")

Structured logging:

	log.Logger.Info().
		Str("tenant", "acme").
		Int("row_count", 512).
		Msg("dataset committed")

Context loggers:

	svcLog := log.WithComponent("dataplane")

	reqLog := log.WithRequestID(log.WithTenant(svcLog, "acme"), requestID)
	reqLog.Info().Msg("request accepted")

	reqLog = log.WithObjectID(reqLog, objectID.String())
	reqLog.Info().Msg("request committed")

# Design

A single package-level Logger is configured once via Init. Every long-lived
collaborator (the tenant registry, the dataplane service) is constructed
with its own WithComponent child; each request handler in pkg/dataplane
then derives a further child of that component logger carrying tenant,
request_id, and (once resolved) object_id fields for the life of the
request, rather than reaching back to the package-level Logger.

Never log secrets, bearer tokens, or row-level data; log the catalogue
selectors and counts that identify a request, not its payload.
*/
package log
