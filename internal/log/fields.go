package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldJobID      = "job_id"
	FieldAttemptID  = "attempt_id"
	FieldDispatchID = "dispatch_id"
	FieldPlatform   = "platform"
	FieldNonce      = "nonce"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldAction    = "action"
	FieldReason    = "reason"

	// State fields
	FieldState     = "state"
	FieldFromState = "from_state"
	FieldToState   = "to_state"

	// Path fields
	FieldPath       = "path"
	FieldBundlePath = "bundle_path"
	FieldPlanPath   = "plan_path"
)
