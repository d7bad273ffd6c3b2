// Package main hosts the voiceid CLI.
//
// Commands build voice prints from the sample ledger, identify diarized
// speakers in an episode, compare embedding backends side by side, report
// drift and drain the rebuild queue. The command context resolves
// configuration once and opens the backends, store and ledger lazily so
// commands that need none of them (config init) stay cheap.
package main
