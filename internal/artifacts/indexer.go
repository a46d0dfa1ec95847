// Package artifacts indexes a task's evidence directory and verifies it has not
// been altered since capture.
package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sourcegraph/go-diff/diff"

	"adjudicator/internal/config"
	"adjudicator/internal/domain"
)

var (
	// ErrInvalidRoot is returned when the task directory cannot be walked.
	ErrInvalidRoot = errors.New("invalid task directory")
)

// selfFiles are written by indexing, integrity capture and the gate itself; they are never evidence.
var selfFiles = map[string]struct{}{
	config.IndexFile:     {},
	config.ChecksumsFile: {},
	config.VerdictFile:   {},
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets the logger used for best-effort parse warnings.
func WithLogger(l *slog.Logger) IndexerOption {
	return func(ix *Indexer) {
		ix.logger = l
	}
}

// WithClock overrides the generation timestamp source.
func WithClock(now func() time.Time) IndexerOption {
	return func(ix *Indexer) {
		ix.now = now
	}
}

// Indexer builds ArtifactIndex values. The index is always rebuilt from scratch.
type Indexer struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewIndexer creates an Indexer with the given options.
func NewIndexer(opts ...IndexerOption) *Indexer {
	ix := &Indexer{now: time.Now}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.logger == nil {
		ix.logger = slog.Default()
	}
	return ix
}

// Index walks dir recursively, hashing every regular file and summarising the
// well-known artifacts. Summary parse failures never fail the index.
func (ix *Indexer) Index(dir string) (domain.ArtifactIndex, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return domain.ArtifactIndex{}, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return domain.ArtifactIndex{}, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	if !info.IsDir() {
		return domain.ArtifactIndex{}, fmt.Errorf("%w: %s is not a directory", ErrInvalidRoot, dir)
	}

	idx := domain.ArtifactIndex{
		TaskDir:     absDir,
		GeneratedAt: ix.now().UTC().Format(time.RFC3339),
		Artifacts:   []domain.ArtifactRecord{},
	}
	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() && path != absDir && d.Name() == config.StateDir {
			return filepath.SkipDir
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(absDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if _, skip := selfFiles[rel]; skip {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		sum, err := HashFile(path)
		if err != nil {
			return err
		}
		idx.Artifacts = append(idx.Artifacts, domain.ArtifactRecord{
			Path:     rel,
			Size:     fi.Size(),
			Modified: fi.ModTime().UTC().Format(time.RFC3339),
			Checksum: sum,
		})
		return nil
	})
	if err != nil {
		return domain.ArtifactIndex{}, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Slice(idx.Artifacts, func(i, j int) bool { return idx.Artifacts[i].Path < idx.Artifacts[j].Path })
	idx.Summary = summarize(absDir, idx, ix.logger)
	return idx, nil
}

// summarize parses the well-known artifacts listed in idx from the files under dir.
func summarize(dir string, idx domain.ArtifactIndex, logger *slog.Logger) domain.ArtifactSummary {
	var s domain.ArtifactSummary
	note := func(file string, err error) {
		msg := fmt.Sprintf("%s: %v", file, err)
		s.Warnings = append(s.Warnings, msg)
		logger.Warn("artifact summary skipped", "file", file, "error", err)
	}
	has := func(rel string) bool {
		_, ok := idx.Lookup(rel)
		return ok
	}

	if has(config.DiffFile) {
		if d, err := parseDiffJSON(filepath.Join(dir, config.DiffFile)); err != nil {
			note(config.DiffFile, err)
		} else {
			s.Diff = d
		}
	}
	if s.Diff == nil && has(config.DiffPatchFile) {
		if d, err := parseUnifiedDiff(filepath.Join(dir, config.DiffPatchFile)); err != nil {
			note(config.DiffPatchFile, err)
		} else {
			s.Diff = d
		}
	}
	if has(config.LintFile) {
		var l domain.LintSummary
		if err := readJSON(filepath.Join(dir, config.LintFile), &l); err != nil {
			note(config.LintFile, err)
		} else {
			s.Lint = &l
		}
	}
	if has(config.TestsFile) {
		if t, err := parseTests(filepath.Join(dir, config.TestsFile)); err != nil {
			note(config.TestsFile, err)
		} else {
			s.Tests = t
		}
	}
	if has(config.CoverageFile) {
		if c, err := parseCoverage(filepath.Join(dir, config.CoverageFile)); err != nil {
			note(config.CoverageFile, err)
		} else {
			s.Coverage = c
		}
	}
	return s
}

// HashFile returns the hex SHA-256 of a file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteIndex writes the index to <dir>/artifacts.json.
func WriteIndex(dir string, idx domain.ArtifactIndex) (string, error) {
	path := filepath.Join(dir, config.IndexFile)
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return "", err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return "", err
	}
	return path, os.Rename(tmp, path)
}

// LoadIndex reads an index file. A relative TaskDir is resolved against the index location.
func LoadIndex(path string) (domain.ArtifactIndex, error) {
	var idx domain.ArtifactIndex
	if err := readJSON(path, &idx); err != nil {
		return idx, fmt.Errorf("load index %s: %w", path, err)
	}
	if idx.TaskDir == "" || !filepath.IsAbs(idx.TaskDir) {
		base, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return idx, err
		}
		if idx.TaskDir != "" {
			base = filepath.Join(base, idx.TaskDir)
		}
		idx.TaskDir = base
	}
	return idx, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("malformed json: %w", err)
	}
	return nil
}

func parseDiffJSON(path string) (*domain.DiffSummary, error) {
	var raw struct {
		Files []struct {
			Path      string `json:"path"`
			Additions int    `json:"additions"`
			Deletions int    `json:"deletions"`
		} `json:"files"`
	}
	if err := readJSON(path, &raw); err != nil {
		return nil, err
	}
	d := &domain.DiffSummary{FilesChanged: len(raw.Files)}
	for _, f := range raw.Files {
		d.LinesAdded += f.Additions
		d.LinesRemoved += f.Deletions
		d.Files = append(d.Files, f.Path)
	}
	return d, nil
}

func parseUnifiedDiff(path string) (*domain.DiffSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fileDiffs, err := diff.ParseMultiFileDiff(data)
	if err != nil {
		return nil, fmt.Errorf("malformed patch: %w", err)
	}
	d := &domain.DiffSummary{FilesChanged: len(fileDiffs)}
	for _, fd := range fileDiffs {
		name := fd.NewName
		if name == "" || name == "/dev/null" {
			name = fd.OrigName
		}
		d.Files = append(d.Files, trimDiffPrefix(name))
		stat := fd.Stat()
		d.LinesAdded += int(stat.Added + stat.Changed)
		d.LinesRemoved += int(stat.Deleted + stat.Changed)
	}
	return d, nil
}

func trimDiffPrefix(name string) string {
	if len(name) > 2 && (name[:2] == "a/" || name[:2] == "b/") {
		return name[2:]
	}
	return name
}

func parseTests(path string) (*domain.TestSummary, error) {
	var t domain.TestSummary
	if err := readJSON(path, &t); err != nil {
		return nil, err
	}
	if t.Total == 0 {
		t.Total = t.Passed + t.Failed + t.Skipped
	}
	return &t, nil
}

func parseCoverage(path string) (*domain.CoverageSummary, error) {
	var raw struct {
		Percentage *float64 `json:"percentage"`
		Pct        *float64 `json:"pct"`
		Total      struct {
			Lines struct {
				Pct *float64 `json:"pct"`
			} `json:"lines"`
		} `json:"total"`
	}
	if err := readJSON(path, &raw); err != nil {
		return nil, err
	}
	switch {
	case raw.Percentage != nil:
		return &domain.CoverageSummary{Percentage: *raw.Percentage}, nil
	case raw.Pct != nil:
		return &domain.CoverageSummary{Percentage: *raw.Pct}, nil
	case raw.Total.Lines.Pct != nil:
		return &domain.CoverageSummary{Percentage: *raw.Total.Lines.Pct}, nil
	}
	return nil, errors.New("no coverage percentage found")
}
