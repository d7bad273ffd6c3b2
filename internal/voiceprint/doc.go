// Package voiceprint owns the durable voice print library: one centroid per
// (speaker, backend), built from the speaker's ledger samples and persisted
// per backend as a Snapshot.
//
// Store is the only writer. Builds are deterministic (samples are averaged in
// a canonical order) and replace a print atomically under a per-backend lock
// that covers both goroutines in this process and other voiceid processes.
// Snapshots from different backends are never merged: each backend has its
// own file, table rows or key range, and its own dimension.
//
// Persistence sits behind Repository with JSON, SQLite and Badger
// implementations selected by store.format.
package voiceprint
