package config

// Well-known evidence filenames under a task directory.
const (
	DiffFile         = "diff.json"
	DiffPatchFile    = "diff.patch"
	LintFile         = "lint.json"
	TestsFile        = "tests.json"
	CoverageFile     = "coverage.json"
	ClaimFile        = "claim.json"
	CommitmentFile   = "commitment.json"
	VerdictFile      = "verdict.json"
	ChecksumsFile    = "checksums.sha256"
	IndexFile        = "artifacts.json"
	URLSetFile       = "links/urlset.json"
	LinkStatusesFile = "links/statuses.json"
	ContentScanFile  = "content/scan.json"
	SchemaResultFile = "api/schema_result.json"
	FunctionMapFile  = "function_map.json"
)

// StateDir holds the workspace database. It is never evidence.
const StateDir = ".adjudicator"

// artifactFiles maps an artifact type to the files that satisfy it, in preference order.
var artifactFiles = map[string][]string{
	"diff":         {DiffFile, DiffPatchFile},
	"lint":         {LintFile},
	"tests":        {TestsFile},
	"coverage":     {CoverageFile},
	"links":        {LinkStatusesFile},
	"content":      {ContentScanFile},
	"api_schema":   {SchemaResultFile},
	"function_map": {FunctionMapFile},
}

// KnownArtifact reports whether kind is a recognised artifact type.
func KnownArtifact(kind string) bool {
	_, ok := artifactFiles[kind]
	return ok
}

// ArtifactPaths returns the task-relative files that satisfy an artifact type.
func ArtifactPaths(kind string) []string {
	return append([]string(nil), artifactFiles[kind]...)
}

// ArtifactTypes returns every recognised artifact type in sorted order.
func ArtifactTypes() []string {
	return sortedKeys(artifactFiles)
}
