package decision

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/caf/internal/fsutil"
	"github.com/ManuGH/caf/internal/sandbox"
)

// SourcePointers are the contract-declared artifact locations, already
// resolved to absolute paths by the contract parser. Empty means the job
// carries no such pointer.
type SourcePointers struct {
	QualityTarget  string
	ContinuityPack string
	SegmentStitch  string
}

// LoadInput gathers every decision input from the sandbox. Reports that are
// missing or unparseable degrade to absent with a warning; the two contract
// artifacts keep their present/invalid distinction because the rule table
// escalates on a malformed contract instead of ignoring it.
func LoadInput(layout sandbox.Layout, jobID string, maxRetries int, ptrs SourcePointers, logger zerolog.Logger) (Input, error) {
	in := Input{
		JobID:      jobID,
		MaxRetries: maxRetries,
		Now:        time.Now(),
	}

	var quality QualityReport
	ok, err := fsutil.ReadJSONLenient(layout.QualityReportPath(jobID), &quality, logger)
	if err != nil {
		return Input{}, err
	}
	if ok {
		in.Quality = &quality
		in.Sources.QualityReport = relpath(layout, layout.QualityReportPath(jobID))
	}

	var costume CostumeReport
	ok, err = fsutil.ReadJSONLenient(layout.CostumeReportPath(jobID), &costume, logger)
	if err != nil {
		return Input{}, err
	}
	if ok {
		in.Costume = &costume
		in.Sources.CostumeReport = relpath(layout, layout.CostumeReportPath(jobID))
	}

	var twoPass TwoPass
	ok, err = fsutil.ReadJSONLenient(layout.TwoPassPath(jobID), &twoPass, logger)
	if err != nil {
		return Input{}, err
	}
	if ok {
		in.TwoPass = &twoPass
		in.Sources.TwoPass = relpath(layout, layout.TwoPassPath(jobID))
	}

	stitchPath := ptrs.SegmentStitch
	if stitchPath == "" {
		stitchPath = layout.StitchReportPath(jobID)
	}
	var stitch StitchReport
	ok, err = fsutil.ReadJSONLenient(stitchPath, &stitch, logger)
	if err != nil {
		return Input{}, err
	}
	if ok {
		in.Stitch = &stitch
		in.Sources.SegmentStitch = relpath(layout, stitchPath)
	}

	in.Target = loadContract[TargetContract](ptrs.QualityTarget)
	if in.Target.Present {
		in.Sources.QualityTarget = relpath(layout, ptrs.QualityTarget)
	}
	in.Continuity = loadContract[ContinuityPack](ptrs.ContinuityPack)
	if in.Continuity.Present {
		in.Sources.ContinuityPack = relpath(layout, ptrs.ContinuityPack)
	}

	var prior Document
	ok, err = fsutil.ReadJSONLenient(layout.DecisionPath(jobID), &prior, logger)
	if err != nil {
		return Input{}, err
	}
	if ok {
		in.Prior = &prior
		in.Sources.PriorDecision = relpath(layout, layout.DecisionPath(jobID))
	}

	in.Gate = LoadGate(layout.GatePath(jobID), logger)

	return in, nil
}

// loadContract reads an optional contract artifact. A missing pointer or
// missing file is absent; anything unreadable or unparseable is present and
// invalid so rules 1 and 2 can escalate on it.
func loadContract[T any](path string) Artifact[T] {
	if path == "" {
		return Artifact[T]{}
	}
	var value T
	ok, err := fsutil.ReadJSONIfExists(path, &value)
	if err != nil {
		return Artifact[T]{Present: true, Invalid: true}
	}
	if !ok {
		return Artifact[T]{}
	}
	return Artifact[T]{Present: true, Value: value}
}

func relpath(layout sandbox.Layout, path string) string {
	rel, err := fsutil.SafeRelPath(path, layout.Root())
	if err != nil {
		return path
	}
	return rel
}
