// Package storage owns the on-disk DuckDB database for the livedata
// collector: schema lifecycle, the write and query paths, and automated
// retention enforcement.
//
// The database file is exclusively owned by this package. All other
// components reach it through the Service's narrow interface; nothing else
// opens the file directly.
//
// Concurrency model: the log writer and the process-metric writer each hold
// a dedicated connection from the shared pool so unrelated write paths do
// not serialize behind one handle. Query traffic uses the pool directly.
// The cleanup scheduler runs on its own connection and is never interrupted
// mid-cycle. DuckDB's transaction isolation provides the actual mutual
// exclusion for conflicting writes.
package storage
