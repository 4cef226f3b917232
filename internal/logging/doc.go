// Package logging provides structured logging for signald.
//
// It wraps Zap with:
//   - a Trace level below Debug
//   - stdout and OpenTelemetry outputs
//   - automatic context fields (trace_id, span_id, job.name, run.id, resource)
//   - key and pattern based secret redaction
//   - sampling below error level (errors are never sampled)
//
// Scheduled loops tag their context so every line they emit is attributable:
//
//	ctx = logging.WithJob(ctx, "discovery")
//	ctx = logging.WithRunID(ctx, runID)
//	logger.Info(ctx, "cycle complete", zap.Int("promoted", n))
//
// Components that only need a *zap.Logger receive Logger.Underlying().
package logging
