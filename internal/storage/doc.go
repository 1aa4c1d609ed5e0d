// Package storage persists meetings, divisions, the audit log and notifier dedup state.
//
// Every driver serializes read-modify-write cycles (UpdateMeetings, UpdateDivisions)
// behind one exclusive lock, so a scheduler tick and an operator edit never overwrite
// each other.
//
// Drivers:
//   - file: a JSON document compatible with the legacy data.json, plus JSON Lines
//     files for the audit log and the dedup journal
//   - sqlite: a single SQLite database file (modernc.org/sqlite, pure Go)
//   - postgres: a shared PostgreSQL database (pgx); several processes may use it
package storage
