package bundle

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"

	"github.com/ManuGH/caf/internal/copyfmt"
	"github.com/ManuGH/caf/internal/fsutil"
	"github.com/ManuGH/caf/internal/metrics"
	"github.com/ManuGH/caf/internal/sandbox"
	"github.com/ManuGH/caf/internal/telemetry"
)

var (
	jobIDPattern   = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
	clipDirPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// Builder materializes platform bundles under the sandbox dist root.
type Builder struct {
	layout sandbox.Layout
	log    zerolog.Logger
}

// NewBuilder returns a Builder bound to one sandbox layout.
func NewBuilder(layout sandbox.Layout, logger zerolog.Logger) *Builder {
	return &Builder{layout: layout, log: logger}
}

type buildStats struct {
	clips int
	files int
}

// Build converts the platform's slice of plan into
// dist_artifacts/<jobID>/bundles/<platform>/v1/ and returns the final
// bundle path. It returns ErrNoPlatformSlice when the plan has no slice
// for platform; every other failure leaves the previous v1/ (if any)
// untouched.
func (b *Builder) Build(ctx context.Context, jobID, platform string, plan *Plan, checklist string, distRoot string) (string, error) {
	tracer := telemetry.Tracer("caf.bundle")
	ctx, span := tracer.Start(ctx, "caf.bundle.build")
	defer span.End()

	start := time.Now()
	path, stats, err := b.build(ctx, jobID, platform, plan, checklist, distRoot)
	metrics.ObserveBundleBuild(time.Since(start))

	span.SetAttributes(telemetry.BundleAttributes(platform, stats.clips, stats.files)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetStatus(codes.Ok, "")

	b.log.Info().
		Str("event", "bundle.published").
		Str("job_id", jobID).
		Str("platform", platform).
		Int("clips", stats.clips).
		Int("files", stats.files).
		Str("path", path).
		Dur("duration", time.Since(start)).
		Msg("bundle published")
	return path, nil
}

func (b *Builder) build(ctx context.Context, jobID, platform string, plan *Plan, checklist string, distRoot string) (string, buildStats, error) {
	var stats buildStats

	if !jobIDPattern.MatchString(jobID) || strings.Contains(jobID, "..") {
		return "", stats, fmt.Errorf("bundle: job id %q is not path-safe", jobID)
	}
	if err := b.checkDistRoot(distRoot); err != nil {
		return "", stats, err
	}
	if err := plan.ScanForSecrets(); err != nil {
		return "", stats, err
	}

	slice, ok := plan.PlatformPlans[platform]
	if !ok {
		return "", stats, fmt.Errorf("%w: %s", ErrNoPlatformSlice, platform)
	}
	if len(slice.Clips) == 0 {
		return "", stats, fmt.Errorf("bundle: platform %s slice has no clips", platform)
	}
	stats.clips = len(slice.Clips)

	platformDir := b.layout.BundlesDir(jobID, platform)
	if err := os.MkdirAll(platformDir, 0o755); err != nil {
		return "", stats, fmt.Errorf("bundle: create %s: %w", platformDir, err)
	}

	tmp := filepath.Join(platformDir, "v1.__tmp__"+newNonce())
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return "", stats, fmt.Errorf("bundle: create temp tree: %w", err)
	}
	defer func() {
		// After a successful swap the temp path no longer exists and this
		// is a no-op; after a failure it clears the partial tree.
		if err := os.RemoveAll(tmp); err != nil {
			b.log.Warn().Err(err).Str("event", "bundle.tmp_cleanup_failed").Str("path", tmp).
				Msg("temp bundle tree left behind")
		}
	}()

	for i, clip := range slice.Clips {
		if err := ctx.Err(); err != nil {
			return "", stats, err
		}
		if err := b.buildClip(ctx, tmp, jobID, platform, slice, clip, i+1); err != nil {
			return "", stats, err
		}
	}

	checklistPath := filepath.Join(tmp, "checklists", "posting_checklist_"+platform+".txt")
	if err := os.MkdirAll(filepath.Dir(checklistPath), 0o755); err != nil {
		return "", stats, fmt.Errorf("bundle: create checklists dir: %w", err)
	}
	if err := os.WriteFile(checklistPath, []byte(checklist), 0o644); err != nil {
		return "", stats, fmt.Errorf("bundle: write checklist: %w", err)
	}

	files, err := writeManifest(tmp)
	if err != nil {
		return "", stats, err
	}
	stats.files = files

	final := filepath.Join(platformDir, "v1")
	if err := b.swap(tmp, final); err != nil {
		return "", stats, err
	}
	return final, stats, nil
}

// swap publishes tmp as final. The previous bundle is set aside first and
// restored best-effort if the publish rename fails.
func (b *Builder) swap(tmp, final string) error {
	var oldPath string
	if _, err := os.Lstat(final); err == nil {
		oldPath = final + ".__old__" + newNonce()
		if err := os.Rename(final, oldPath); err != nil {
			return fmt.Errorf("bundle: set aside previous bundle: %w", err)
		}
	}

	if err := os.Rename(tmp, final); err != nil {
		if oldPath != "" {
			if rerr := os.Rename(oldPath, final); rerr != nil {
				b.log.Error().Err(rerr).Str("event", "bundle.restore_failed").Str("path", oldPath).
					Msg("could not restore previous bundle after failed swap")
			}
		}
		return fmt.Errorf("bundle: publish %s: %w", final, err)
	}

	if oldPath != "" {
		if err := os.RemoveAll(oldPath); err != nil {
			b.log.Warn().Err(err).Str("event", "bundle.old_cleanup_failed").Str("path", oldPath).
				Msg("previous bundle left behind")
		}
	}
	return nil
}

func (b *Builder) buildClip(ctx context.Context, root, jobID, platform string, pp PlatformPlan, clip Clip, index int) error {
	name := clipDirName(clip.ID, index)
	dir := filepath.Join(root, "clips", name)

	src, err := b.resolveVideo(jobID, clip.VideoPath)
	if err != nil {
		return fmt.Errorf("bundle: clip %s: %w", name, err)
	}
	if err := fsutil.CopyFile(ctx, filepath.Join(dir, "video", "final.mp4"), src); err != nil {
		return fmt.Errorf("bundle: clip %s: copy video: %w", name, err)
	}

	// Subtitles ride along only when the worker produced them.
	srt := filepath.Join(filepath.Dir(src), "final.srt")
	if fsutil.IsRegularFile(srt) == nil {
		if err := fsutil.CopyFile(ctx, filepath.Join(dir, "captions", "final.srt"), srt); err != nil {
			return fmt.Errorf("bundle: clip %s: copy subtitles: %w", name, err)
		}
	}

	text := copyfmt.Source{
		Titles:       pp.Title,
		Descriptions: pp.Description,
		Captions:     clip.Caption,
		Tags:         pp.Tags,
		PublishTime:  pp.PublishTime,
	}
	copyDir := filepath.Join(dir, "copy")
	if err := os.MkdirAll(copyDir, 0o755); err != nil {
		return fmt.Errorf("bundle: clip %s: %w", name, err)
	}
	for _, lang := range copyfmt.Languages() {
		rendered := copyfmt.Format(platform, lang, text)
		copyPath := filepath.Join(copyDir, "copy."+lang.String()+".txt")
		if err := os.WriteFile(copyPath, []byte(rendered), 0o644); err != nil {
			return fmt.Errorf("bundle: clip %s: write copy: %w", name, err)
		}
	}

	return b.writeAudio(ctx, dir, name, clip)
}

func (b *Builder) writeAudio(ctx context.Context, dir, name string, clip Clip) error {
	if len(clip.AudioPlan) == 0 || string(clip.AudioPlan) == "null" {
		return fmt.Errorf("bundle: clip %s: audio_plan is required", name)
	}
	if clip.AudioNotes == "" {
		return fmt.Errorf("bundle: clip %s: audio_notes is required", name)
	}

	audioDir := filepath.Join(dir, "audio")
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		return fmt.Errorf("bundle: clip %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(audioDir, "audio_plan.json"), clip.AudioPlan, 0o644); err != nil {
		return fmt.Errorf("bundle: clip %s: write audio plan: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(audioDir, "audio_notes.txt"), []byte(clip.AudioNotes), 0o644); err != nil {
		return fmt.Errorf("bundle: clip %s: write audio notes: %w", name, err)
	}

	for _, asset := range clip.AudioAssets {
		resolved, err := b.resolveSource(b.layout.Root(), asset)
		if err != nil {
			return fmt.Errorf("bundle: clip %s: audio asset %q: %w", name, asset, err)
		}
		if err := fsutil.CopyFile(ctx, filepath.Join(audioDir, "assets", filepath.Base(resolved)), resolved); err != nil {
			return fmt.Errorf("bundle: clip %s: copy audio asset: %w", name, err)
		}
	}
	return nil
}

// resolveVideo confines the clip's source video to output/<jobID>/ before
// any byte is read.
func (b *Builder) resolveVideo(jobID, videoPath string) (string, error) {
	if videoPath == "" {
		return "", fmt.Errorf("video_path is required")
	}
	resolved, err := b.resolveSource(b.layout.Root(), videoPath)
	if err != nil {
		return "", err
	}
	confined, err := fsutil.ResolveAbs(b.layout.OutputDir(jobID), resolved)
	if err != nil {
		return "", fmt.Errorf("video %q must live under the job output dir: %w", videoPath, err)
	}
	if err := fsutil.IsRegularFile(confined); err != nil {
		return "", err
	}
	return confined, nil
}

// resolveSource accepts both absolute and sandbox-relative plan paths and
// confines either form to root.
func (b *Builder) resolveSource(root, p string) (string, error) {
	if filepath.IsAbs(p) {
		return fsutil.ResolveAbs(root, p)
	}
	return fsutil.Resolve(root, p)
}

// clipDirName prefers the clip's own id when it is a single safe path
// component; "." and ".." pass the character class but are still
// rejected.
func clipDirName(id string, index int) string {
	if id != "" && id != "." && id != ".." && clipDirPattern.MatchString(id) {
		return id
	}
	return fmt.Sprintf("clip-%03d", index)
}

func (b *Builder) checkDistRoot(distRoot string) error {
	want := b.layout.DistRoot()
	same, err := fsutil.SamePath(distRoot, want)
	if err != nil {
		return fmt.Errorf("bundle: resolve dist root %q: %w", distRoot, err)
	}
	if !same {
		return fmt.Errorf("bundle: dist root %q does not resolve to %s", distRoot, want)
	}
	return nil
}

func newNonce() string {
	id := uuid.New()
	return hex.EncodeToString(id[:4])
}
