// Package contract parses and validates planner-written job contracts. The
// contract's job_id is authoritative everywhere, including over the filename
// it arrived under.
package contract

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ManuGH/caf/internal/fsutil"
	"github.com/ManuGH/caf/internal/sandbox"
)

// jobIDPattern keeps job ids usable as directory names across filesystems.
var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{6,}$`)

// Contract is the immutable job description. The controller only ever reads
// it; the planner writes it once via write-temp-then-rename.
type Contract struct {
	JobID    string            `json:"job_id"`
	Output   Output            `json:"output"`
	Video    Video             `json:"video"`
	Shots    []Shot            `json:"shots"`
	Captions map[string]string `json:"captions,omitempty"`
	Hashtags []string          `json:"hashtags,omitempty"`
	Render   Render            `json:"render"`

	QualityTarget    *Pointer `json:"quality_target,omitempty"`
	ContinuityPack   *Pointer `json:"continuity_pack,omitempty"`
	MotionContract   *Pointer `json:"motion_contract,omitempty"`
	SegmentStitch    *Pointer `json:"segment_stitch,omitempty"`
	GenerationPolicy *Pointer `json:"generation_policy,omitempty"`
}

type Output struct {
	Basename string `json:"basename"`
}

type Video struct {
	LengthSec  float64 `json:"length_sec"`
	Aspect     string  `json:"aspect"`
	FPS        int     `json:"fps"`
	Resolution string  `json:"resolution"`
}

type Shot struct {
	ShotID  string  `json:"shot_id"`
	T       float64 `json:"t"`
	Visual  string  `json:"visual"`
	Action  string  `json:"action"`
	Caption string  `json:"caption"`
}

type Render struct {
	BackgroundAsset string `json:"background_asset"`
}

// Pointer references another contract artifact by sandbox-relative path,
// always rooted at the repo/ tree.
type Pointer struct {
	Relpath string `json:"relpath"`
}

// Load reads and parses the contract at path.
func Load(path string) (*Contract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contract: %w", err)
	}
	return Parse(data)
}

// Parse decodes a contract and applies the structural checks that do not
// need filesystem access.
func Parse(data []byte) (*Contract, error) {
	var c Contract
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse contract: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate applies the invariants a contract must hold before any directory
// is derived from it.
func (c *Contract) Validate() error {
	if !jobIDPattern.MatchString(c.JobID) {
		return fmt.Errorf("job_id %q is not a slug of at least 6 filesystem-safe characters", c.JobID)
	}
	if strings.Contains(c.JobID, "..") {
		return fmt.Errorf("job_id %q must not contain '..'", c.JobID)
	}
	if c.Render.BackgroundAsset == "" {
		return fmt.Errorf("render.background_asset is required")
	}
	if len(c.Shots) == 0 {
		return fmt.Errorf("contract declares no shots")
	}
	for i, s := range c.Shots {
		if s.ShotID == "" {
			return fmt.Errorf("shot %d has no shot_id", i)
		}
	}
	return nil
}

// MatchesStem reports whether the contract's job_id agrees with the filename
// stem it was loaded from. A mismatch is a warning for the caller, never an
// error: the contract wins.
func (c *Contract) MatchesStem(path string) bool {
	stem := filepath.Base(path)
	stem = strings.TrimSuffix(stem, filepath.Ext(stem))
	stem = strings.TrimSuffix(stem, ".job")
	return stem == c.JobID
}

// ResolvePointer resolves a contract-declared artifact relpath. Pointers may
// only reference the shared repo/ tree and must stay inside the sandbox.
func ResolvePointer(layout sandbox.Layout, rel string) (string, error) {
	norm := filepath.ToSlash(filepath.Clean(rel))
	if norm != "repo" && !strings.HasPrefix(norm, "repo/") {
		return "", fmt.Errorf("contract pointer %q must reference the repo/ tree", rel)
	}
	return fsutil.Resolve(layout.Root(), rel)
}

// Resolve resolves the pointer under the sandbox root. A nil or empty
// pointer resolves to "" so absent optional contracts stay absent.
func (p *Pointer) Resolve(layout sandbox.Layout) (string, error) {
	if p == nil || p.Relpath == "" {
		return "", nil
	}
	return ResolvePointer(layout, p.Relpath)
}

// ResolveBackgroundAsset resolves the render input and requires it to live
// under the sandbox assets/ tree.
func (c *Contract) ResolveBackgroundAsset(layout sandbox.Layout) (string, error) {
	abs, err := fsutil.Resolve(layout.Root(), c.Render.BackgroundAsset)
	if err != nil {
		return "", err
	}
	if !fsutil.EnsureUnder(abs, layout.AssetsDir()) {
		return "", fmt.Errorf("%w: background asset %q is outside assets/", fsutil.ErrPathEscape, c.Render.BackgroundAsset)
	}
	return abs, nil
}
