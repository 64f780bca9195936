package dispatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "youtube.state.json")

	in := PlatformState{
		JobID:    "job-000001",
		Platform: "youtube",
		Nonce:    "n1",
		Status:   StatusBundleGenerated,
	}
	require.NoError(t, writeState(path, in))

	out := readState(path, zerolog.Nop())
	require.NotNil(t, out)
	assert.Equal(t, in.JobID, out.JobID)
	assert.Equal(t, in.Platform, out.Platform)
	assert.Equal(t, in.Nonce, out.Nonce)
	assert.Equal(t, in.Status, out.Status)
	assert.Empty(t, out.Error)

	_, err := time.Parse(timeFormat, out.UpdatedAt)
	assert.NoError(t, err, "updated_at must use the pipeline timestamp format")
}

func TestReadStateAbsentIsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.state.json")
	assert.Nil(t, readState(path, zerolog.Nop()))
}

func TestReadStateCorruptIsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "youtube.state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	assert.Nil(t, readState(path, zerolog.Nop()))
}

func TestWriteStateKeepsExplicitTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.state.json")
	in := PlatformState{
		JobID:     "job-000001",
		Platform:  "x",
		Nonce:     "n1",
		Status:    StatusPosted,
		UpdatedAt: "2026-01-02T03:04:05Z",
	}
	require.NoError(t, writeState(path, in))

	out := readState(path, zerolog.Nop())
	require.NotNil(t, out)
	assert.Equal(t, "2026-01-02T03:04:05Z", out.UpdatedAt)
}
