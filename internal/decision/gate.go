package decision

import (
	"github.com/rs/zerolog"

	"github.com/ManuGH/caf/internal/fsutil"
)

// LoadGate reads the finalize-gate artifact. The gate is advisory, so a
// missing or malformed file is treated as no gate; malformed is logged.
func LoadGate(path string, logger zerolog.Logger) *Gate {
	var g Gate
	ok, err := fsutil.ReadJSONLenient(path, &g, logger)
	if err != nil || !ok {
		return nil
	}
	return &g
}

// ApplyGate re-checks the gate after the decision was computed and downgrades
// a finalize to an escalation when the gate forbids it. It never upgrades a
// retry or escalation. Returns true when the document was changed.
func ApplyGate(doc *Document, gate *Gate) bool {
	if gate == nil || gate.Gate.AllowFinalize {
		return false
	}
	if doc.Decision.Action != ActionProceedFinalize {
		return false
	}
	doc.Decision = DocumentVerdict{Action: ActionEscalateHITL, Reason: ReasonGateBlocked}
	return true
}
