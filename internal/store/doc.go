// Package store keeps a SQLite history of validation runs.
//
// Each completed run is one row in runs plus one row per phase in phases.
// Reports stay on disk; the history keeps the counts, the verdict, and a
// digest of the report bytes so a report file can be checked against the run
// that produced it.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads while a run is being recorded
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON: phases are deleted with their run
package store
