// Package sqlite persists tracking records and run metadata in SQLite.
//
// The schema lives in migrations/ and is embedded into the binary; Open
// applies any pending migrations before returning. Records are insert-only:
// a row once written is never updated, so an abrupt stop loses at most the
// record being written. Absent detection slots are stored as SQL NULL.
//
// All SQL for the time-of-flight pipeline belongs here rather than in the
// layer packages (L1-L5).
package sqlite
