package decision

// Class buckets an action by how the controller reacts to it.
type Class string

const (
	ClassRetry    Class = "retry"
	ClassEscalate Class = "escalate"
	ClassFinalize Class = "finalize"
)

// Classify maps an action to its controller branch. Retries re-enter the
// attempt loop, escalations terminate with failure, everything else
// completes the job.
func Classify(a Action) Class {
	switch a {
	case ActionRetryMotion, ActionRetryRecast:
		return ClassRetry
	case ActionBlockForCostume, ActionEscalateHITL:
		return ClassEscalate
	default:
		return ClassFinalize
	}
}

// RetryType names the retry flavor for the worker's plan, empty for
// non-retry actions.
func RetryType(a Action) string {
	switch a {
	case ActionRetryMotion:
		return "motion"
	case ActionRetryRecast:
		return "recast"
	default:
		return ""
	}
}
