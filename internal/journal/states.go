package journal

// Job states. The happy path runs DISCOVERED through COMPLETED; FAIL_* states
// are terminal unless the retry budget lets the controller start another
// attempt from them.
const (
	StateDiscovered        = "DISCOVERED"
	StateValidated         = "VALIDATED"
	StateRunning           = "RUNNING"
	StateOutputsPresent    = "OUTPUTS_PRESENT"
	StateLineageReady      = "LINEAGE_READY"
	StateVerified          = "VERIFIED"
	StateCompleted         = "COMPLETED"
	StateFailValidate      = "FAIL_VALIDATE"
	StateFailMissingInputs = "FAIL_MISSING_INPUTS"
	StateFailWorker        = "FAIL_WORKER"
	StateFailOutputs       = "FAIL_OUTPUTS"
	StateFailVerify        = "FAIL_VERIFY"
	StateFailQuality       = "FAIL_QUALITY"
)

// Event names appearing in events.ndjson.
const (
	EventDiscovered       = "DISCOVERED"
	EventValidated        = "VALIDATED"
	EventJobIDMismatch    = "JOB_ID_MISMATCH"
	EventOutputsPartial   = "OUTPUTS_PARTIAL"
	EventInputsMissing    = "INPUTS_MISSING"
	EventAttemptStart     = "ATTEMPT_START"
	EventWorkerFailed     = "WORKER_FAILED"
	EventOutputsMissing   = "OUTPUTS_MISSING"
	EventOutputsPresent   = "OUTPUTS_PRESENT"
	EventLineageReady     = "LINEAGE_READY"
	EventLineageFailed    = "LINEAGE_FAILED"
	EventLineageOK        = "LINEAGE_OK"
	EventQualityDecision  = "QUALITY_DECISION"
	EventQualityRetry     = "QUALITY_RETRY"
	EventQualityEscalated = "QUALITY_ESCALATED"
	EventCompleted        = "COMPLETED"
)
