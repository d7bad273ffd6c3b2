// Package services holds the error taxonomy and context annotations shared by
// every voiceid component.
//
// Errors are tagged with one of the exported markers via Wrap so callers can
// branch with errors.Is while the message keeps the component, operation and
// cause. Context helpers carry the speaker, backend, diarization label and a
// correlation id so log lines emitted deep inside a batch can be traced back
// to the unit of work that produced them.
package services
