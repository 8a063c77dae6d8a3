// Package observability provides logging and metrics support for the search
// indexing agent.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//
// Components derive child loggers and add record or paper fields:
//
//	logger = logger.With().Str("component", "processor").Logger()
//	recLogger := observability.WithRecordContext(logger, shard, position)
//	recLogger.Warn().Msg("skipping record")
//
// # Metrics
//
//	metrics := observability.NewMetrics("search_agent")
//	metrics.RecordRecordProcessed(shard, observability.OutcomeIndexed)
//	metrics.RecordCheckpoint("MetadataIsAvailable", shard, position)
//
// # Standard Fields
//
//   - component: emitting component (processor, stream, metadata, index, http)
//   - stream: change-stream name
//   - shard: stream partition
//   - position: record offset within the shard
//   - paper_id: arXiv identifier, without version affix
//   - request_id: admin API request identifier
//
// All components are safe for concurrent use from multiple goroutines.
package observability
