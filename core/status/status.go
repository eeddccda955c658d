// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package status defines the lifecycle vocabulary shared by job and model
// rows. The string values are stored verbatim and read by workers written
// against earlier schema versions, so they must never change.
package status

// Status represents a row's position in its lifecycle.
type Status string

const (
	// NotStarted is the admission status of a queued job or model.
	NotStarted Status = "notStarted"

	// Starting marks a row the scheduler has picked up but whose workers
	// have not reported in yet.
	Starting Status = "starting"

	// TestMode keeps a row invisible to the scheduler; standalone workers
	// drive such rows directly.
	TestMode Status = "testMode"

	// Running marks a row with active workers.
	Running Status = "running"

	// Completed is terminal. The completion reason says how it ended.
	Completed Status = "completed"
)

// String returns a string representation of the Status.
func (s Status) String() string {
	return string(s)
}

// CompletionReason records why a row reached the Completed status.
type CompletionReason string

const (
	ReasonSuccess   CompletionReason = "success"
	ReasonCancelled CompletionReason = "cancel"
	ReasonKilled    CompletionReason = "killed"
	ReasonError     CompletionReason = "error"
	ReasonEOF       CompletionReason = "eof"
	ReasonStopped   CompletionReason = "stopped"
	ReasonOrphan    CompletionReason = "orphan"
)

// StopReason is a request, written by the scheduler and polled by workers,
// for a model to stop.
type StopReason string

const (
	StopKilled  StopReason = "killed"
	StopStopped StopReason = "stopped"
)
