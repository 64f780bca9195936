package controller

import (
	"github.com/ManuGH/caf/internal/fsm"
	"github.com/ManuGH/caf/internal/journal"
)

// transitions is the complete job state machine. Every journal event appears
// exactly once per legal source state; an event fired from any other state is
// a controller bug and aborts the run.
func transitions() []fsm.Transition[string, string] {
	return []fsm.Transition[string, string]{
		{From: "", Event: journal.EventDiscovered, To: journal.StateDiscovered},
		{From: journal.StateDiscovered, Event: journal.EventValidated, To: journal.StateValidated},

		// Advisory events that do not move the job.
		{From: journal.StateValidated, Event: journal.EventJobIDMismatch, To: journal.StateValidated},
		{From: journal.StateValidated, Event: journal.EventOutputsPartial, To: journal.StateValidated},

		// The input check runs after the pre-existing-output probe, so it can
		// fire from the re-entry failure states as well.
		{From: journal.StateValidated, Event: journal.EventInputsMissing, To: journal.StateFailMissingInputs},
		{From: journal.StateFailVerify, Event: journal.EventInputsMissing, To: journal.StateFailMissingInputs},
		{From: journal.StateFailQuality, Event: journal.EventInputsMissing, To: journal.StateFailMissingInputs},

		// Pre-existing outputs skip the worker entirely.
		{From: journal.StateValidated, Event: journal.EventOutputsPresent, To: journal.StateOutputsPresent},

		// Attempts start from VALIDATED or from any retryable failure.
		{From: journal.StateValidated, Event: journal.EventAttemptStart, To: journal.StateRunning},
		{From: journal.StateFailQuality, Event: journal.EventAttemptStart, To: journal.StateRunning},
		{From: journal.StateFailWorker, Event: journal.EventAttemptStart, To: journal.StateRunning},
		{From: journal.StateFailOutputs, Event: journal.EventAttemptStart, To: journal.StateRunning},
		{From: journal.StateFailVerify, Event: journal.EventAttemptStart, To: journal.StateRunning},

		{From: journal.StateRunning, Event: journal.EventWorkerFailed, To: journal.StateFailWorker},
		{From: journal.StateRunning, Event: journal.EventOutputsMissing, To: journal.StateFailOutputs},
		{From: journal.StateRunning, Event: journal.EventOutputsPresent, To: journal.StateOutputsPresent},

		{From: journal.StateOutputsPresent, Event: journal.EventLineageReady, To: journal.StateLineageReady},
		{From: journal.StateLineageReady, Event: journal.EventLineageFailed, To: journal.StateFailVerify},
		{From: journal.StateLineageReady, Event: journal.EventLineageOK, To: journal.StateVerified},

		{From: journal.StateVerified, Event: journal.EventQualityDecision, To: journal.StateVerified},
		{From: journal.StateVerified, Event: journal.EventQualityRetry, To: journal.StateFailQuality},
		{From: journal.StateVerified, Event: journal.EventQualityEscalated, To: journal.StateFailQuality},
		{From: journal.StateVerified, Event: journal.EventCompleted, To: journal.StateCompleted},
	}
}

func newMachine() (*fsm.Machine[string, string], error) {
	return fsm.New("", transitions())
}
