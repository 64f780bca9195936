package dispatch

import (
	"context"

	"github.com/ManuGH/caf/internal/bundle"
	"github.com/ManuGH/caf/internal/copyfmt"
)

// Adapter turns an approved publish plan into one platform's export.
// GenerateBundle returns the bundle path, bundle.ErrNoPlatformSlice when
// the plan has nothing for this platform, or an error.
type Adapter interface {
	GenerateBundle(ctx context.Context, jobID, planPath, distRoot string) (string, error)
}

// NewRegistry wires one bundle-backed adapter per known platform.
func NewRegistry(builder *bundle.Builder, checklists *ChecklistSet) map[string]Adapter {
	adapters := make(map[string]Adapter, len(copyfmt.KnownPlatforms()))
	for _, platform := range copyfmt.KnownPlatforms() {
		adapters[platform] = &bundleAdapter{
			platform:   platform,
			builder:    builder,
			checklists: checklists,
		}
	}
	return adapters
}

type bundleAdapter struct {
	platform   string
	builder    *bundle.Builder
	checklists *ChecklistSet
}

func (a *bundleAdapter) GenerateBundle(ctx context.Context, jobID, planPath, distRoot string) (string, error) {
	plan, err := bundle.LoadPlan(planPath)
	if err != nil {
		return "", err
	}
	return a.builder.Build(ctx, jobID, a.platform, plan, a.checklists.For(a.platform), distRoot)
}
