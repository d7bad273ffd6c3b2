// Package rebuildqueue persists requests to rebuild a speaker's voice print
// and drains them with a single worker.
//
// New samples do not rebuild prints directly. Whoever records a sample (or
// notices drift) enqueues a request; the worker later calls the store's
// synchronous Build with the speaker's current ledger samples. At most one
// pending request exists per (speaker, backend), so repeated events collapse
// into one rebuild.
package rebuildqueue
