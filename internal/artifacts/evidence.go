package artifacts

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"adjudicator/internal/config"
	"adjudicator/internal/domain"
)

// Evidence is everything the gate reads from a task directory, already decoded.
// A nil field means the artifact is absent or could not be decoded.
type Evidence struct {
	Diff        *domain.DiffSummary
	Lint        *domain.LintSummary
	Tests       *domain.TestSummary
	Coverage    *domain.CoverageSummary
	Content     *domain.ContentScan
	Links       *domain.LinkStatuses
	URLSet      *domain.URLSet
	Schema      *domain.SchemaResult
	FunctionMap *domain.FunctionMap
	// Present holds artifact types with at least one satisfying file in the index.
	Present  map[string]bool
	Warnings []string
}

// HasArtifact reports whether an artifact type is present in the index.
func (e Evidence) HasArtifact(kind string) bool {
	return e.Present[kind]
}

// PresentTypes returns the present artifact types in sorted order.
func (e Evidence) PresentTypes() []string {
	out := make([]string, 0, len(e.Present))
	for k, ok := range e.Present {
		if ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// LoadEvidence decodes the evidence named by the index from the files under
// TaskDir. The summary stored in the index is ignored. Decoding failures are
// logged and leave the field nil.
func LoadEvidence(idx domain.ArtifactIndex, logger *slog.Logger) Evidence {
	if logger == nil {
		logger = slog.Default()
	}
	sum := summarize(idx.TaskDir, idx, logger)
	ev := Evidence{
		Diff:     sum.Diff,
		Lint:     sum.Lint,
		Tests:    sum.Tests,
		Coverage: sum.Coverage,
		Present:  presentTypes(idx),
	}
	ev.Warnings = append(ev.Warnings, sum.Warnings...)

	load := func(rel string, v any) bool {
		if _, ok := idx.Lookup(rel); !ok {
			return false
		}
		if err := readJSON(filepath.Join(idx.TaskDir, filepath.FromSlash(rel)), v); err != nil {
			ev.Warnings = append(ev.Warnings, fmt.Sprintf("%s: %v", rel, err))
			logger.Warn("evidence artifact ignored", "file", rel, "error", err)
			return false
		}
		return true
	}

	var content domain.ContentScan
	if load(config.ContentScanFile, &content) {
		ev.Content = &content
	}
	var links domain.LinkStatuses
	if load(config.LinkStatusesFile, &links) {
		ev.Links = &links
	}
	var urls domain.URLSet
	if load(config.URLSetFile, &urls) {
		ev.URLSet = &urls
	}
	var schema domain.SchemaResult
	if load(config.SchemaResultFile, &schema) {
		ev.Schema = &schema
	}
	var fm domain.FunctionMap
	if load(config.FunctionMapFile, &fm) {
		ev.FunctionMap = &fm
	}
	return ev
}

func presentTypes(idx domain.ArtifactIndex) map[string]bool {
	present := map[string]bool{}
	for _, kind := range config.ArtifactTypes() {
		for _, rel := range config.ArtifactPaths(kind) {
			if _, ok := idx.Lookup(rel); ok {
				present[kind] = true
				break
			}
		}
	}
	return present
}

// MissingArtifacts returns the required artifact types with no satisfying file in the index.
func MissingArtifacts(idx domain.ArtifactIndex, required []string) []string {
	present := presentTypes(idx)
	var missing []string
	for _, kind := range required {
		if !present[kind] {
			missing = append(missing, kind)
		}
	}
	return missing
}
