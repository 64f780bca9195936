// Package dispatch watches the sandbox inbox for approval artifacts and
// turns each approved one into a platform bundle. One poll loop, one
// approval at a time; idempotency lives in the per-(job, platform) state
// documents, so the loop itself can stay stateless and restartable.
package dispatch

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Approval is the operator drop-in that authorizes distributing one job to
// one platform. Extra fields are tolerated; the idempotency key is
// (job_id, platform, nonce).
type Approval struct {
	JobID    string `json:"job_id"`
	Platform string `json:"platform"`
	Nonce    string `json:"nonce"`
	Approved bool   `json:"approved"`
}

var (
	// Both identifiers end up as path components of the platform-state
	// document, so they are validated as single path-safe tokens before
	// anything touches the filesystem.
	approvalJobIDPattern    = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	approvalPlatformPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// parseApproval reads and validates one approval file. Malformed approvals
// (unreadable, unparseable, missing or path-unsafe identity fields) are
// rejected here, before any path is derived from their contents.
func parseApproval(path string) (*Approval, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dispatch: read approval: %w", err)
	}

	var approval Approval
	if err := json.Unmarshal(data, &approval); err != nil {
		return nil, fmt.Errorf("dispatch: parse approval: %w", err)
	}

	if approval.JobID == "" || approval.Platform == "" || approval.Nonce == "" {
		return nil, fmt.Errorf("dispatch: approval missing job_id, platform or nonce")
	}
	if !approvalJobIDPattern.MatchString(approval.JobID) || strings.Contains(approval.JobID, "..") {
		return nil, fmt.Errorf("dispatch: approval job_id %q is not path-safe", approval.JobID)
	}
	if !approvalPlatformPattern.MatchString(approval.Platform) {
		return nil, fmt.Errorf("dispatch: approval platform %q is not path-safe", approval.Platform)
	}
	return &approval, nil
}
