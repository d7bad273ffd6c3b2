// Package ledger reads the externally owned record of voice samples: which
// speaker each clip belongs to, when it was recorded and how long it runs.
//
// The ledger is read-only from voiceid's point of view. Three readers are
// provided: the application's SQLite database (voice_samples joined to
// episodes), a directory of per-speaker audio folders, and an in-memory
// ledger used by tests and callers that already hold their records.
package ledger
