package dispatch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeApprovalFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParseApproval(t *testing.T) {
	dir := t.TempDir()
	path := writeApprovalFile(t, dir, "approve-job-000001-youtube.json", `{
		"job_id": "job-000001",
		"platform": "youtube",
		"nonce": "n-2026-04-01",
		"approved": true,
		"reviewer": "ops@example.com"
	}`)

	approval, err := parseApproval(path)
	require.NoError(t, err)
	assert.Equal(t, "job-000001", approval.JobID)
	assert.Equal(t, "youtube", approval.Platform)
	assert.Equal(t, "n-2026-04-01", approval.Nonce)
	assert.True(t, approval.Approved)
}

func TestParseApprovalRejections(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "not json",
			body:    `{approved yes}`,
			wantErr: "parse approval",
		},
		{
			name:    "missing job_id",
			body:    `{"platform": "youtube", "nonce": "n1", "approved": true}`,
			wantErr: "missing job_id, platform or nonce",
		},
		{
			name:    "missing platform",
			body:    `{"job_id": "job-000001", "nonce": "n1", "approved": true}`,
			wantErr: "missing job_id, platform or nonce",
		},
		{
			name:    "missing nonce",
			body:    `{"job_id": "job-000001", "platform": "youtube", "approved": true}`,
			wantErr: "missing job_id, platform or nonce",
		},
		{
			name:    "job_id with separator",
			body:    `{"job_id": "job/000001", "platform": "youtube", "nonce": "n1", "approved": true}`,
			wantErr: "not path-safe",
		},
		{
			name:    "job_id with dotdot",
			body:    `{"job_id": "a..b", "platform": "youtube", "nonce": "n1", "approved": true}`,
			wantErr: "not path-safe",
		},
		{
			name:    "platform with separator",
			body:    `{"job_id": "job-000001", "platform": "you/tube", "nonce": "n1", "approved": true}`,
			wantErr: "not path-safe",
		},
		{
			name:    "platform with dot",
			body:    `{"job_id": "job-000001", "platform": "..", "nonce": "n1", "approved": true}`,
			wantErr: "not path-safe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeApprovalFile(t, t.TempDir(), "approve-x.json", tt.body)
			_, err := parseApproval(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseApprovalMissingFile(t *testing.T) {
	_, err := parseApproval(filepath.Join(t.TempDir(), "approve-nope.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read approval")
}
