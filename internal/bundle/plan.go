// Package bundle materializes one platform slice of a publish plan into a
// self-contained, versioned export directory. Builds are atomic: a reader
// of bundles/<platform>/v1/ sees either the previous complete bundle or
// the new complete bundle, never a mix.
package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoPlatformSlice signals that the publish plan carries no slice for
// the requested platform. Dispatch records it as SKIPPED, not as a
// failure.
var ErrNoPlatformSlice = errors.New("bundle: publish plan has no slice for platform")

// ErrSecretKey marks a publish plan carrying a key that looks like a
// credential. Bundles are handed to external posting tools, so a leaked
// key would leave the sandbox.
var ErrSecretKey = errors.New("bundle: publish plan contains a potential secret")

// secretKeyFragments flags any object key containing one of these
// substrings, case-insensitively, anywhere in the plan document.
var secretKeyFragments = []string{
	"api_key",
	"token",
	"cookie",
	"authorization",
	"secret",
	"password",
	"bearer",
}

// Plan is the publish plan dropped at dist_artifacts/<job_id>/publish_plan.json.
// Unknown fields are tolerated for forward compatibility but still
// participate in the secret scan.
type Plan struct {
	JobID         string                  `json:"job_id"`
	PlatformPlans map[string]PlatformPlan `json:"platform_plans"`

	// raw holds the generically decoded document so the secret scan sees
	// every key, including ones the typed struct does not model.
	raw any
}

// PlatformPlan is one platform's slice: shared copy text plus the clips to
// export. Title, description and caption maps are keyed by language tag.
type PlatformPlan struct {
	Title       map[string]string `json:"title"`
	Description map[string]string `json:"description"`
	Tags        []string          `json:"tags"`
	PublishTime string            `json:"publish_time"`
	Clips       []Clip            `json:"clips"`
}

// Clip names the source video and its audio companions. AudioPlan is kept
// raw and copied into the bundle verbatim.
type Clip struct {
	ID          string            `json:"id"`
	VideoPath   string            `json:"video_path"`
	Caption     map[string]string `json:"caption"`
	AudioPlan   json.RawMessage   `json:"audio_plan"`
	AudioNotes  string            `json:"audio_notes"`
	AudioAssets []string          `json:"audio_assets"`
}

// LoadPlan reads and decodes a publish plan. A missing or malformed plan
// is the caller's problem to classify; no leniency here.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: read plan %s: %w", path, err)
	}

	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("bundle: parse plan %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &plan.raw); err != nil {
		return nil, fmt.Errorf("bundle: parse plan %s: %w", path, err)
	}
	return &plan, nil
}

// ScanForSecrets walks every object key in the plan document and fails on
// the first credential-looking one.
func (p *Plan) ScanForSecrets() error {
	doc := p.raw
	if doc == nil {
		// Plans assembled in code have no raw document; scan the typed
		// fields through a JSON round trip instead.
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("bundle: marshal plan for scan: %w", err)
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("bundle: decode plan for scan: %w", err)
		}
	}

	if key, found := findSecretKey(doc); found {
		return fmt.Errorf("%w: key %q", ErrSecretKey, key)
	}
	return nil
}

func findSecretKey(v any) (string, bool) {
	switch node := v.(type) {
	case map[string]any:
		for key, child := range node {
			lower := strings.ToLower(key)
			for _, fragment := range secretKeyFragments {
				if strings.Contains(lower, fragment) {
					return key, true
				}
			}
			if hit, found := findSecretKey(child); found {
				return hit, true
			}
		}
	case []any:
		for _, child := range node {
			if hit, found := findSecretKey(child); found {
				return hit, true
			}
		}
	}
	return "", false
}
