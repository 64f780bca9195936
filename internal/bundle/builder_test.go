package bundle

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/caf/internal/sandbox"
)

const testJobID = "job-000042"

func newBundleEnv(t *testing.T) (sandbox.Layout, *Builder) {
	t.Helper()
	layout, err := sandbox.New(t.TempDir())
	require.NoError(t, err)
	return layout, NewBuilder(layout, zerolog.Nop())
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// writeSources drops a final.mp4 (plus optional final.srt) for the job and
// one audio asset under assets/.
func writeSources(t *testing.T, layout sandbox.Layout, withSubtitles bool) {
	t.Helper()
	writeTestFile(t, layout.FinalVideoPath(testJobID), "fake mp4 bytes")
	if withSubtitles {
		writeTestFile(t, layout.FinalSubtitlePath(testJobID), "1\n00:00:00,000 --> 00:00:01,000\nhi\n")
	}
	writeTestFile(t, filepath.Join(layout.AssetsDir(), "audio", "rain_bed.wav"), "fake wav bytes")
}

func loadTestPlan(t *testing.T, layout sandbox.Layout, body string) *Plan {
	t.Helper()
	path := layout.PublishPlanPath(testJobID)
	writeTestFile(t, path, body)
	plan, err := LoadPlan(path)
	require.NoError(t, err)
	return plan
}

const youtubePlanJSON = `{
  "job_id": "job-000042",
  "platform_plans": {
    "youtube": {
      "title": {"en": "Autumn Loop"},
      "description": {"en": "A quiet scene."},
      "tags": ["rain", "loop"],
      "publish_time": "2026-04-01T18:00:00Z",
      "clips": [
        {
          "id": "clip-a",
          "video_path": "output/job-000042/final.mp4",
          "caption": {"en": "Clip caption."},
          "audio_plan": {"bed": "rain_bed.wav", "lufs": -14},
          "audio_notes": "Duck music under voiceover.",
          "audio_assets": ["assets/audio/rain_bed.wav"]
        }
      ]
    }
  }
}`

func TestBuild_HappyPath(t *testing.T) {
	layout, b := newBundleEnv(t)
	writeSources(t, layout, true)
	plan := loadTestPlan(t, layout, youtubePlanJSON)

	path, err := b.Build(context.Background(), testJobID, "youtube", plan, "1. Check title\n", layout.DistRoot())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(layout.BundlesDir(testJobID, "youtube"), "v1"), path)

	clipDir := filepath.Join(path, "clips", "clip-a")

	video, err := os.ReadFile(filepath.Join(clipDir, "video", "final.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "fake mp4 bytes", string(video))

	_, err = os.Stat(filepath.Join(clipDir, "captions", "final.srt"))
	require.NoError(t, err)

	enCopy, err := os.ReadFile(filepath.Join(clipDir, "copy", "copy.en.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(enCopy), "TITLE: Autumn Loop")
	assert.Contains(t, string(enCopy), "Clip caption.")
	assert.Contains(t, string(enCopy), "#rain #loop")

	_, err = os.Stat(filepath.Join(clipDir, "copy", "copy.zh-Hans.txt"))
	require.NoError(t, err)

	audioPlan, err := os.ReadFile(filepath.Join(clipDir, "audio", "audio_plan.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"bed": "rain_bed.wav", "lufs": -14}`, string(audioPlan))

	notes, err := os.ReadFile(filepath.Join(clipDir, "audio", "audio_notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Duck music under voiceover.", string(notes))

	asset, err := os.ReadFile(filepath.Join(clipDir, "audio", "assets", "rain_bed.wav"))
	require.NoError(t, err)
	assert.Equal(t, "fake wav bytes", string(asset))

	checklist, err := os.ReadFile(filepath.Join(path, "checklists", "posting_checklist_youtube.txt"))
	require.NoError(t, err)
	assert.Equal(t, "1. Check title\n", string(checklist))

	assertNoSwapLeftovers(t, layout, "youtube")
}

func TestBuild_ManifestCoversTree(t *testing.T) {
	layout, b := newBundleEnv(t)
	writeSources(t, layout, true)
	plan := loadTestPlan(t, layout, youtubePlanJSON)

	path, err := b.Build(context.Background(), testJobID, "youtube", plan, "check\n", layout.DistRoot())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(path, manifestName))
	require.NoError(t, err)

	var manifest Manifest
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.Equal(t, ManifestVersion, manifest.Version)

	wantPaths := []string{
		"checklists/posting_checklist_youtube.txt",
		"clips/clip-a/audio/assets/rain_bed.wav",
		"clips/clip-a/audio/audio_notes.txt",
		"clips/clip-a/audio/audio_plan.json",
		"clips/clip-a/captions/final.srt",
		"clips/clip-a/copy/copy.en.txt",
		"clips/clip-a/copy/copy.zh-Hans.txt",
		"clips/clip-a/video/final.mp4",
	}
	var gotPaths []string
	for _, f := range manifest.Files {
		gotPaths = append(gotPaths, f.Path)
	}
	assert.Equal(t, wantPaths, gotPaths, "manifest paths must be sorted and complete")

	for _, f := range manifest.Files {
		digest, size, err := blake3Sum(filepath.Join(path, filepath.FromSlash(f.Path)))
		require.NoError(t, err)
		assert.Equal(t, f.Blake3, digest, "digest mismatch for %s", f.Path)
		assert.Equal(t, f.Size, size, "size mismatch for %s", f.Path)
	}
}

func TestBuild_DeterministicModuloNonce(t *testing.T) {
	layout, b := newBundleEnv(t)
	writeSources(t, layout, true)
	plan := loadTestPlan(t, layout, youtubePlanJSON)
	ctx := context.Background()

	path, err := b.Build(ctx, testJobID, "youtube", plan, "check\n", layout.DistRoot())
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(path, manifestName))
	require.NoError(t, err)

	path, err = b.Build(ctx, testJobID, "youtube", plan, "check\n", layout.DistRoot())
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(path, manifestName))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestBuild_ReplacesPreviousBundle(t *testing.T) {
	layout, b := newBundleEnv(t)
	writeSources(t, layout, false)
	plan := loadTestPlan(t, layout, youtubePlanJSON)
	ctx := context.Background()

	path, err := b.Build(ctx, testJobID, "youtube", plan, "v1 checklist\n", layout.DistRoot())
	require.NoError(t, err)

	// A stale file inside v1/ must not survive the rebuild.
	sentinel := filepath.Join(path, "stale.txt")
	writeTestFile(t, sentinel, "old")

	_, err = b.Build(ctx, testJobID, "youtube", plan, "v2 checklist\n", layout.DistRoot())
	require.NoError(t, err)

	_, err = os.Stat(sentinel)
	assert.True(t, os.IsNotExist(err), "stale file survived the swap")

	checklist, err := os.ReadFile(filepath.Join(path, "checklists", "posting_checklist_youtube.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2 checklist\n", string(checklist))

	assertNoSwapLeftovers(t, layout, "youtube")
}

func TestBuild_NoPlatformSlice(t *testing.T) {
	layout, b := newBundleEnv(t)
	writeSources(t, layout, false)
	plan := loadTestPlan(t, layout, youtubePlanJSON)

	_, err := b.Build(context.Background(), testJobID, "tiktok", plan, "check\n", layout.DistRoot())
	require.ErrorIs(t, err, ErrNoPlatformSlice)
	assertNoBundle(t, layout, "tiktok")
}

func TestBuild_EmptyClipsFailsHard(t *testing.T) {
	layout, b := newBundleEnv(t)
	plan := loadTestPlan(t, layout, `{
  "job_id": "job-000042",
  "platform_plans": {"youtube": {"clips": []}}
}`)

	_, err := b.Build(context.Background(), testJobID, "youtube", plan, "check\n", layout.DistRoot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no clips")
	assertNoBundle(t, layout, "youtube")
}

func TestBuild_SecretKeyFailsHard(t *testing.T) {
	layout, b := newBundleEnv(t)
	writeSources(t, layout, false)
	plan := loadTestPlan(t, layout, `{
  "job_id": "job-000042",
  "platform_plans": {
    "youtube": {
      "clips": [
        {
          "video_path": "output/job-000042/final.mp4",
          "audio_plan": {"bed": "x.wav", "Upload_Token": "abc123"},
          "audio_notes": "n"
        }
      ]
    }
  }
}`)

	_, err := b.Build(context.Background(), testJobID, "youtube", plan, "check\n", layout.DistRoot())
	require.ErrorIs(t, err, ErrSecretKey)
	assertNoBundle(t, layout, "youtube")
}

func TestBuild_VideoOutsideJobOutputFailsHard(t *testing.T) {
	layout, b := newBundleEnv(t)
	writeSources(t, layout, false)
	// A real file, but under another job's output directory.
	writeTestFile(t, layout.FinalVideoPath("job-other"), "foreign bytes")

	plan := loadTestPlan(t, layout, `{
  "job_id": "job-000042",
  "platform_plans": {
    "youtube": {
      "clips": [
        {
          "video_path": "output/job-other/final.mp4",
          "audio_plan": {"bed": "x.wav"},
          "audio_notes": "n"
        }
      ]
    }
  }
}`)

	_, err := b.Build(context.Background(), testJobID, "youtube", plan, "check\n", layout.DistRoot())
	require.Error(t, err)
	assertNoBundle(t, layout, "youtube")
	assertNoSwapLeftovers(t, layout, "youtube")
}

func TestBuild_MissingAudioAssetFailsHard(t *testing.T) {
	layout, b := newBundleEnv(t)
	writeSources(t, layout, false)
	plan := loadTestPlan(t, layout, `{
  "job_id": "job-000042",
  "platform_plans": {
    "youtube": {
      "clips": [
        {
          "video_path": "output/job-000042/final.mp4",
          "audio_plan": {"bed": "x.wav"},
          "audio_notes": "n",
          "audio_assets": ["assets/audio/not_there.wav"]
        }
      ]
    }
  }
}`)

	_, err := b.Build(context.Background(), testJobID, "youtube", plan, "check\n", layout.DistRoot())
	require.Error(t, err)
	assertNoBundle(t, layout, "youtube")
	assertNoSwapLeftovers(t, layout, "youtube")
}

func TestBuild_RequiredAudioFields(t *testing.T) {
	tests := []struct {
		name string
		clip string
		want string
	}{
		{
			name: "missing audio_plan",
			clip: `{"video_path": "output/job-000042/final.mp4", "audio_notes": "n"}`,
			want: "audio_plan is required",
		},
		{
			name: "null audio_plan",
			clip: `{"video_path": "output/job-000042/final.mp4", "audio_plan": null, "audio_notes": "n"}`,
			want: "audio_plan is required",
		},
		{
			name: "missing audio_notes",
			clip: `{"video_path": "output/job-000042/final.mp4", "audio_plan": {"bed": "x.wav"}}`,
			want: "audio_notes is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layout, b := newBundleEnv(t)
			writeSources(t, layout, false)
			plan := loadTestPlan(t, layout, `{
  "job_id": "job-000042",
  "platform_plans": {"youtube": {"clips": [`+tt.clip+`]}}
}`)

			_, err := b.Build(context.Background(), testJobID, "youtube", plan, "check\n", layout.DistRoot())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assertNoBundle(t, layout, "youtube")
		})
	}
}

func TestBuild_RejectsUnsafeJobID(t *testing.T) {
	layout, b := newBundleEnv(t)
	plan := &Plan{PlatformPlans: map[string]PlatformPlan{}}

	for _, jobID := range []string{"", "job/42", "job\\42", "..", "a..b", "job 42"} {
		_, err := b.Build(context.Background(), jobID, "youtube", plan, "check\n", layout.DistRoot())
		require.Error(t, err, "job id %q must be rejected", jobID)
		assert.Contains(t, err.Error(), "not path-safe")
	}
}

func TestBuild_RejectsForeignDistRoot(t *testing.T) {
	layout, b := newBundleEnv(t)
	plan := loadTestPlan(t, layout, youtubePlanJSON)

	_, err := b.Build(context.Background(), testJobID, "youtube", plan, "check\n", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dist root")
}

func TestBuild_CancelledContext(t *testing.T) {
	layout, b := newBundleEnv(t)
	writeSources(t, layout, false)
	plan := loadTestPlan(t, layout, youtubePlanJSON)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Build(ctx, testJobID, "youtube", plan, "check\n", layout.DistRoot())
	require.ErrorIs(t, err, context.Canceled)
	assertNoBundle(t, layout, "youtube")
	assertNoSwapLeftovers(t, layout, "youtube")
}

func TestBuild_NoSubtitlesMeansNoCaptionsDir(t *testing.T) {
	layout, b := newBundleEnv(t)
	writeSources(t, layout, false)
	plan := loadTestPlan(t, layout, youtubePlanJSON)

	path, err := b.Build(context.Background(), testJobID, "youtube", plan, "check\n", layout.DistRoot())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(path, "clips", "clip-a", "captions"))
	assert.True(t, os.IsNotExist(err))
}

func TestClipDirName(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		index int
		want  string
	}{
		{"safe id", "clip-a", 1, "clip-a"},
		{"dotted id", "v2.final", 3, "v2.final"},
		{"empty id", "", 1, "clip-001"},
		{"id with slash", "a/b", 2, "clip-002"},
		{"id with space", "a b", 7, "clip-007"},
		{"dot", ".", 4, "clip-004"},
		{"dotdot", "..", 12, "clip-012"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clipDirName(tt.id, tt.index))
		})
	}
}

// assertNoBundle verifies no v1/ was published for the platform.
func assertNoBundle(t *testing.T, layout sandbox.Layout, platform string) {
	t.Helper()
	_, err := os.Stat(filepath.Join(layout.BundlesDir(testJobID, platform), "v1"))
	assert.True(t, os.IsNotExist(err), "unexpected v1 bundle present")
}

// assertNoSwapLeftovers verifies neither temp nor set-aside trees survived.
func assertNoSwapLeftovers(t *testing.T, layout sandbox.Layout, platform string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(layout.BundlesDir(testJobID, platform), "v1.__*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "swap leftovers present: %v", matches)
}
