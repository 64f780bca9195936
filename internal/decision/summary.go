package decision

// Summary is the log-friendly view of a decision document.
type Summary struct {
	Action        string
	Reason        string
	Class         string
	RetryAttempt  int
	MaxRetries    int
	FailedMetrics []string
	SegmentMode   string
}

func (d Document) Summary() Summary {
	mode := ""
	if d.SegmentPlan != nil {
		mode = d.SegmentPlan.Mode
	}

	failed := make([]string, len(d.Inputs.FailedMetrics))
	copy(failed, d.Inputs.FailedMetrics)

	return Summary{
		Action:        string(d.Decision.Action),
		Reason:        string(d.Decision.Reason),
		Class:         string(Classify(d.Decision.Action)),
		RetryAttempt:  d.Policy.RetryAttempt,
		MaxRetries:    d.Policy.MaxRetries,
		FailedMetrics: failed,
		SegmentMode:   mode,
	}
}
