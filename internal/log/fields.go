// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldHandle    = "handle"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPID       = "pid"
	FieldExitCode  = "exit_code"
	FieldAttempt   = "attempt"

	// State fields
	FieldOldState   = "old_state"
	FieldNewState   = "new_state"
	FieldGeneration = "generation"

	// Stream fields
	FieldInputURI  = "input_uri"
	FieldOutputURI = "output_uri"
	FieldSourceURI = "source_uri"
	FieldBackend   = "backend"

	// Camera fields
	FieldBaseURL   = "base_url"
	FieldOperation = "operation"
	FieldStatus    = "status"
)
