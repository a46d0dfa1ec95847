package artifacts

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"adjudicator/internal/config"
	"adjudicator/internal/domain"
)

// IntegrityReport is the outcome of checking recorded checksums against file contents.
type IntegrityReport struct {
	OK       bool        `json:"ok"`
	Skipped  bool        `json:"skipped"`
	Files    []FileCheck `json:"files"`
	Failures []string    `json:"failures"`
}

// FileCheck is the per-file comparison. Indexed is empty when the index does not know the path.
type FileCheck struct {
	Path     string `json:"path"`
	Expected string `json:"expected"`
	Indexed  string `json:"indexed,omitempty"`
	Actual   string `json:"actual,omitempty"`
	OK       bool   `json:"ok"`
	Reason   string `json:"reason,omitempty"`
}

type checksumEntry struct {
	line int
	sum  string
	path string
	err  string
}

// VerifyIntegrity recomputes SHA-256 for every file named in checksums.sha256 and
// compares it with the manifest and, when present, the index. Without a manifest
// the check passes trivially.
func VerifyIntegrity(dir string, idx *domain.ArtifactIndex) (IntegrityReport, error) {
	manifest := filepath.Join(dir, config.ChecksumsFile)
	entries, err := readChecksums(manifest)
	if errors.Is(err, os.ErrNotExist) {
		return IntegrityReport{OK: true, Skipped: true, Files: []FileCheck{}, Failures: []string{}}, nil
	}
	if err != nil {
		return IntegrityReport{}, err
	}

	report := IntegrityReport{OK: true, Files: []FileCheck{}, Failures: []string{}}
	fail := func(fc FileCheck) {
		fc.OK = false
		report.OK = false
		report.Files = append(report.Files, fc)
		report.Failures = append(report.Failures, fmt.Sprintf("%s: %s", fc.Path, fc.Reason))
	}
	for _, e := range entries {
		fc := FileCheck{Path: e.path, Expected: e.sum}
		if e.err != "" {
			fc.Path = fmt.Sprintf("%s:%d", config.ChecksumsFile, e.line)
			fc.Reason = e.err
			fail(fc)
			continue
		}
		if idx != nil {
			if rec, ok := idx.Lookup(e.path); ok {
				fc.Indexed = rec.Checksum
			}
		}
		actual, err := HashFile(filepath.Join(dir, filepath.FromSlash(e.path)))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				fc.Reason = "file missing"
			} else {
				fc.Reason = fmt.Sprintf("unreadable: %v", err)
			}
			fail(fc)
			continue
		}
		fc.Actual = actual
		switch {
		case !strings.EqualFold(actual, e.sum):
			fc.Reason = "checksum does not match manifest"
			fail(fc)
		case fc.Indexed != "" && !strings.EqualFold(actual, fc.Indexed):
			fc.Reason = "checksum does not match artifact index"
			fail(fc)
		default:
			fc.OK = true
			report.Files = append(report.Files, fc)
		}
	}
	return report, nil
}

// readChecksums parses sha256sum-style lines: "<hex>  <path>" or "<hex> *<path>".
func readChecksums(path string) ([]checksumEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var entries []checksumEntry
	scanner := bufio.NewScanner(f)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 || !isSHA256Hex(fields[0]) {
			entries = append(entries, checksumEntry{line: n, err: "malformed checksum line"})
			continue
		}
		p := strings.TrimLeft(fields[1], " ")
		p = strings.TrimPrefix(p, "*")
		p = strings.TrimPrefix(filepath.ToSlash(p), "./")
		if p == "" {
			entries = append(entries, checksumEntry{line: n, err: "malformed checksum line"})
			continue
		}
		if !withinTask(p) {
			entries = append(entries, checksumEntry{line: n, err: fmt.Sprintf("path %q escapes the task directory", p)})
			continue
		}
		entries = append(entries, checksumEntry{line: n, sum: strings.ToLower(fields[0]), path: p})
	}
	return entries, scanner.Err()
}

// withinTask reports whether a slash-separated manifest path stays under the task directory.
func withinTask(p string) bool {
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") || filepath.VolumeName(p) != "" {
		return false
	}
	clean := path.Clean(p)
	return clean != ".." && !strings.HasPrefix(clean, "../")
}

func isSHA256Hex(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// WriteChecksums records the current index as checksums.sha256 so later runs can detect tampering.
func WriteChecksums(dir string, idx domain.ArtifactIndex) (string, error) {
	var b strings.Builder
	for _, a := range idx.Artifacts {
		fmt.Fprintf(&b, "%s  %s\n", a.Checksum, a.Path)
	}
	path := filepath.Join(dir, config.ChecksumsFile)
	return path, os.WriteFile(path, []byte(b.String()), 0o644)
}

// CompareIndex lists the differences between a recorded index and one rebuilt
// from the same directory. Only failing files are returned, recorded paths first.
func CompareIndex(recorded, current domain.ArtifactIndex) []FileCheck {
	var out []FileCheck
	seen := map[string]bool{}
	for _, rec := range recorded.Artifacts {
		if _, self := selfFiles[rec.Path]; self {
			continue
		}
		seen[rec.Path] = true
		cur, ok := current.Lookup(rec.Path)
		switch {
		case !ok:
			out = append(out, FileCheck{Path: rec.Path, Indexed: rec.Checksum, Reason: "file missing"})
		case !strings.EqualFold(cur.Checksum, rec.Checksum):
			out = append(out, FileCheck{Path: rec.Path, Indexed: rec.Checksum, Actual: cur.Checksum, Reason: "checksum does not match artifact index"})
		}
	}
	for _, cur := range current.Artifacts {
		if !seen[cur.Path] {
			out = append(out, FileCheck{Path: cur.Path, Actual: cur.Checksum, Reason: "not in artifact index"})
		}
	}
	return out
}

// Recheck rebuilds the index for idx.TaskDir and verifies the recorded evidence
// against it and against checksums.sha256 when one exists. The rebuilt index is
// returned so callers never evaluate stored summaries.
func Recheck(idx domain.ArtifactIndex, opts ...IndexerOption) (domain.ArtifactIndex, IntegrityReport, error) {
	current, err := NewIndexer(opts...).Index(idx.TaskDir)
	if err != nil {
		return domain.ArtifactIndex{}, IntegrityReport{}, err
	}
	report, err := VerifyIntegrity(current.TaskDir, &idx)
	if err != nil {
		return current, IntegrityReport{}, err
	}
	drift := CompareIndex(idx, current)
	if len(drift) == 0 {
		return current, report, nil
	}
	merged := IntegrityReport{OK: false, Skipped: report.Skipped, Files: []FileCheck{}, Failures: []string{}}
	for _, fc := range drift {
		merged.Files = append(merged.Files, fc)
		merged.Failures = append(merged.Failures, fmt.Sprintf("%s: %s", fc.Path, fc.Reason))
	}
	merged.Files = append(merged.Files, report.Files...)
	merged.Failures = append(merged.Failures, report.Failures...)
	return current, merged, nil
}
