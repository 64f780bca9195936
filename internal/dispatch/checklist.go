package dispatch

import (
	"embed"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

//go:embed checklists/*.txt
var defaultChecklists embed.FS

// ChecklistSet resolves the posting checklist shipped inside each bundle.
// Operator-provided files in dir win over the embedded defaults, so teams
// can adjust their process without a rebuild.
type ChecklistSet struct {
	dir string
	log zerolog.Logger
}

// NewChecklistSet returns a ChecklistSet reading overrides from dir. An
// empty dir serves the embedded defaults only.
func NewChecklistSet(dir string, logger zerolog.Logger) *ChecklistSet {
	return &ChecklistSet{dir: dir, log: logger}
}

// For returns the checklist text for platform. Unknown platforms get an
// empty checklist rather than an error; the adapter registry keeps them
// out of real dispatches anyway.
func (c *ChecklistSet) For(platform string) string {
	name := "posting_checklist_" + platform + ".txt"

	if c.dir != "" {
		data, err := os.ReadFile(filepath.Join(c.dir, name))
		if err == nil {
			return string(data)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			c.log.Warn().Err(err).Str("event", "dispatch.checklist_unreadable").Str("platform", platform).
				Msg("falling back to embedded checklist")
		}
	}

	data, err := defaultChecklists.ReadFile("checklists/" + name)
	if err != nil {
		return ""
	}
	return string(data)
}
