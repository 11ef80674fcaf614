// Package runs allocates the isolated storage namespace of one execution.
//
// A run lives at <runs_dir>/<run_id> and holds:
//
//	decisions.jsonl            one decision record per pipeline execution
//	enforcement_actions.jsonl  one action record per executed block
//	run_meta.json              {run_id, created_at, ...extra}
//	metrics.prom               Prometheus textfile written after each execution
//	memory/                    case memory (unless overridden)
//
// CRITICAL PATTERNS:
//
// Idempotent preparation: preparing an existing run without Clean never
// truncates its logs and never rewrites its metadata. Preparing a new run,
// or any run with Clean, starts from empty logs and fresh metadata.
//
// Single writer per file: the Manager hands out one *jsonl.Writer per path,
// so executions in one process that share a run id serialize their appends
// instead of interleaving partial lines.
package runs
