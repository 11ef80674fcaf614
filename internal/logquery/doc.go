// Package logquery implements the read-only search engine over episode logs.
//
// ARCHITECTURE:
//
// A Request is compiled into an ordered list of sealed Predicates and then
// evaluated against every event of the selected source:
//
//	[Request] → Compile → [TimeRange, FieldEquals..., TagsAny, TagsAll, Query] → scan
//
// Predicates are evaluated in that order and short-circuit on the first
// failure. Only TimeRange can fail with an error (unparsable event
// timestamp).
//
// SOURCES:
//
// With an episode id, exactly one file (episode_%03d.jsonl) is read and a
// missing file is NOT_FOUND. Without one, every episode_*.jsonl file in the
// logs directory is scanned in lexicographic file name order. Results keep
// scan order (file order, then line order); nothing is re-sorted.
//
// AGGREGATION:
//
//   - count: number of matching events
//   - top_k: most frequent values of a field, ties broken by first-seen
//     order. Go maps do not iterate in insertion order, so the counter keeps
//     a side list of first-seen keys.
//
// The engine holds no mutable state and is safe for unlimited concurrent
// readers.
package logquery
