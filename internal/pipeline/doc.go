// Package pipeline implements the decision pipeline: the fixed stage
// sequence that turns one episode's event log into an audited, possibly
// human-gated containment decision.
//
// ARCHITECTURE:
//
//	Observe -> Normalize -> Enrich -> RetrieveMemory -> Correlate -> Decide -> Act -> Audit
//
// Every stage is a function over one *State accumulator. Stages run strictly
// in order; none is skipped and there are no edges between them other than
// "next". Branching lives only inside a stage's outputs (the decision, the
// gating result), never in the stage graph.
//
// Collaborators are injected through Deps and owned by the caller: the log
// engine, asset directory, case memory, approver, action executor and audit
// sink of one run. Nothing is cached process-wide.
//
// CRITICAL PATTERNS:
//
// Decision precedence (first match wins):
//
//  1. no detection event             -> no_block 0.20
//  2. allowlisted_user/service_account tag -> no_block 0.95
//  3. top memory hit FP, score >= 0.82 -> no_block 0.88
//     top memory hit TP, score >= 0.90 -> block_ip 0.90
//     a weaker top hit falls through
//  4. high severity on high/medium criticality -> block_ip 0.90 (2 signals) or 0.80
//     medium severity with 2 signals -> block_ip 0.75
//     otherwise -> escalate 0.60
//
// Gating: a block_ip below the gating threshold in interactive mode suspends
// on the Approver. Rejection or cancellation downgrades to escalate and no
// action runs. An approved block without src_ip or t_detect also downgrades
// to escalate (missing_ip_or_time). These outcomes are recorded in the audit
// reason, never returned as errors.
//
// Failures: NOT_FOUND, PARSE_ERROR and DEPENDENCY_ERROR abort the execution
// at the failing stage with no retry. The caller may re-run the whole
// pipeline.
package pipeline
