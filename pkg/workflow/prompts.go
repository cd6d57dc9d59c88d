package workflow

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/retail-insights/pkg/workflow/prompts"
)

// Prompts holds the system prompts loaded from the embedded files.
type Prompts struct {
	Resolve string // {{SCHEMA}} is replaced with the table catalog
	Failed  string
	Warning string
	Summary string
	Answer  string
}

func LoadPrompts() (*Prompts, error) {
	p := &Prompts{}
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"RESOLVE.md", &p.Resolve},
		{"FAILED.md", &p.Failed},
		{"WARNING.md", &p.Warning},
		{"SUMMARY.md", &p.Summary},
		{"ANSWER.md", &p.Answer},
	} {
		data, err := prompts.FS.ReadFile(f.name)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f.name, err)
		}
		*f.dst = strings.TrimSpace(string(data))
	}
	return p, nil
}
