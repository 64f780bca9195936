// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across both binaries.
const (
	// Job lifecycle attributes
	JobIDKey       = "job.id"
	JobStateKey    = "job.state"
	JobAttemptsKey = "job.attempts"
	AttemptIDKey   = "job.attempt_id"

	// Quality decision attributes
	DecisionActionKey = "decision.action"
	DecisionReasonKey = "decision.reason"
	DecisionClassKey  = "decision.class"

	// Dispatch attributes
	DispatchIDKey       = "dispatch.id"
	DispatchPlatformKey = "dispatch.platform"
	DispatchNonceKey    = "dispatch.nonce"
	DispatchStatusKey   = "dispatch.status"

	// Bundle attributes
	BundlePlatformKey = "bundle.platform"
	BundleClipsKey    = "bundle.clips"
	BundleFilesKey    = "bundle.files"

	// Collaborator tool attributes
	CollaboratorNameKey = "collaborator.name"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// JobAttributes creates job-lifecycle span attributes.
func JobAttributes(jobID, state, attemptID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if jobID != "" {
		attrs = append(attrs, attribute.String(JobIDKey, jobID))
	}
	if state != "" {
		attrs = append(attrs, attribute.String(JobStateKey, state))
	}
	if attemptID != "" {
		attrs = append(attrs, attribute.String(AttemptIDKey, attemptID))
	}
	return attrs
}

// DecisionAttributes creates quality-decision span attributes.
func DecisionAttributes(action, reason, class string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(DecisionActionKey, action),
		attribute.String(DecisionReasonKey, reason),
		attribute.String(DecisionClassKey, class),
	}
}

// DispatchAttributes creates approval-dispatch span attributes.
func DispatchAttributes(dispatchID, platform, nonce, status string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	if dispatchID != "" {
		attrs = append(attrs, attribute.String(DispatchIDKey, dispatchID))
	}
	if platform != "" {
		attrs = append(attrs, attribute.String(DispatchPlatformKey, platform))
	}
	if nonce != "" {
		attrs = append(attrs, attribute.String(DispatchNonceKey, nonce))
	}
	if status != "" {
		attrs = append(attrs, attribute.String(DispatchStatusKey, status))
	}
	return attrs
}

// BundleAttributes creates bundle-build span attributes.
func BundleAttributes(platform string, clips, files int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(BundlePlatformKey, platform),
		attribute.Int(BundleClipsKey, clips),
		attribute.Int(BundleFilesKey, files),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
