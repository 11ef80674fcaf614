// Package model holds the record types shared by every triage component.
//
// This package contains type definitions only. All other internal packages
// import model; model imports nothing internal.
//
// Key design constraints:
//   - Events are immutable once written to an episode file
//   - Optional event fields are pointers; normalization turns missing values
//     into explicit nulls and empty lists, never absent keys
//   - All JSON tags use snake_case and match the on-disk log formats
//   - Timestamps are ISO-8601 UTC strings ("2026-02-19T10:28:31Z") so that
//     string order equals time order
package model
