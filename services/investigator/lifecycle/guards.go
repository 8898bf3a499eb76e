// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lifecycle

import "fmt"

// GuardResult represents the outcome of a guard evaluation.
type GuardResult struct {
	Allowed bool
	Reason  string
}

// Error converts the guard result to an error if not allowed.
// The error is always a *TransitionError so handlers can map it to 409.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	return &TransitionError{Reason: r.Reason}
}

func denied(format string, args ...any) GuardResult {
	return GuardResult{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// CanStart evaluates whether an investigation can begin executing.
// Rules:
// - Status must be "pending"
func CanStart(status Status) GuardResult {
	if status != StatusPending {
		return denied("can only start pending investigations (current status: %s)", status)
	}
	return GuardResult{Allowed: true}
}

// CanPause evaluates whether an investigation can be paused.
// Rules:
// - Status must be "running"
func CanPause(status Status) GuardResult {
	if status != StatusRunning {
		return denied("can only pause running investigations (current status: %s)", status)
	}
	return GuardResult{Allowed: true}
}

// CanResume evaluates whether an investigation can be resumed.
// Rules:
// - Status must be "paused"
func CanResume(status Status) GuardResult {
	if status != StatusPaused {
		return denied("can only resume paused investigations (current status: %s)", status)
	}
	return GuardResult{Allowed: true}
}

// CanRedirect evaluates whether an investigation's focus can be redirected.
// Rules:
// - Status must be "running" (pause first if you want to redirect a paused one)
func CanRedirect(status Status) GuardResult {
	if status != StatusRunning {
		return denied("can only redirect running investigations (current status: %s)", status)
	}
	return GuardResult{Allowed: true}
}

// CanCancel evaluates whether an investigation can be canceled.
// Rules:
// - Status must not be terminal
func CanCancel(status Status) GuardResult {
	if status.Terminal() {
		return denied("investigation already %s", status)
	}
	return GuardResult{Allowed: true}
}

// CanComplete evaluates whether an investigation can be marked completed.
// Rules:
// - Status must be "running" (a paused investigation must be resumed first)
func CanComplete(status Status) GuardResult {
	if status != StatusRunning {
		return denied("can only complete running investigations (current status: %s)", status)
	}
	return GuardResult{Allowed: true}
}

// CanFail evaluates whether an investigation can be marked failed.
// Rules:
// - Status must not be terminal
func CanFail(status Status) GuardResult {
	if status.Terminal() {
		return denied("investigation already %s", status)
	}
	return GuardResult{Allowed: true}
}

// CanAdvancePhase evaluates whether the phase pointer can move from one
// phase to the next.
// Rules:
// - Target phase must not be behind the current phase (monotonic pipeline)
// - Both phases must be known
func CanAdvancePhase(current, target Phase) GuardResult {
	if !current.Valid() {
		return denied("unknown phase %q", current)
	}
	if !target.Valid() {
		return denied("unknown phase %q", target)
	}
	if target.Before(current) {
		return denied("phase cannot move backward (%s -> %s)", current, target)
	}
	return GuardResult{Allowed: true}
}

// CanClaimTask evaluates whether a worker may take ownership of a subtask.
// Rules:
// - Task status must be "pending"
// - Owning investigation must be "running"
func CanClaimTask(task TaskStatus, investigation Status) GuardResult {
	if task != TaskPending {
		return denied("task is not pending (current status: %s)", task)
	}
	if investigation != StatusRunning {
		return denied("investigation is not running (current status: %s)", investigation)
	}
	return GuardResult{Allowed: true}
}
