// Package memory is the case-memory store: a persistent, append-only list of
// labeled cases plus a similarity index over their texts.
//
// ARCHITECTURE:
//
//	memoryDir/cases.jsonl   one model.Case per line (source of truth)
//	memoryDir/index.db      SQLite table of unit-norm vectors, one row per case
//
// Similarity is cosine similarity computed as the inner product of
// unit-normalized vectors (a flat exhaustive scan, like an IndexFlatIP).
// Vectors come from an Embedder; HashingEmbedder is the deterministic
// default and needs no model files.
//
// CRITICAL PATTERNS:
//
// Lockstep: case i of cases.jsonl always has position i in the index, and
// len(index) == len(cases). On open the persisted index is loaded only when
// it exists, the case log is non-empty and both agree on count, ids and
// dimension; otherwise the index is rebuilt from the case log and persisted.
//
// Single writer: AddCase holds the store mutex across id assignment, case
// append and index append, so case ids never repeat or skip for one store
// instance. Separate Store instances over the same directory do not
// coordinate; callers share one handle per directory.
//
// Embed before write: AddCase embeds the text before touching either file,
// so an embedding failure leaves case log and index untouched.
package memory
