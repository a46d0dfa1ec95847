// Package capability maps capability names such as "links:check" to the adapter
// entrypoint that produces them.
package capability

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"adjudicator/internal/domain"
)

// ManifestFile is the manifest filename inside each adapter directory.
const ManifestFile = "manifest.json"

// ErrNoAdapter is returned when no manifest declares the requested capability.
var ErrNoAdapter = errors.New("no adapter for capability")

var capabilityPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*:[a-z0-9][a-z0-9_-]*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("capability", func(fl validator.FieldLevel) bool {
		return capabilityPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("relpath", func(fl validator.FieldLevel) bool {
		p := fl.Field().String()
		if p == "" || filepath.IsAbs(p) {
			return false
		}
		clean := filepath.ToSlash(filepath.Clean(p))
		return clean != ".." && !strings.HasPrefix(clean, "../")
	})
	return v
}

// Binding records which adapter serves a capability.
type Binding struct {
	Capability string `json:"capability"`
	Adapter    string `json:"adapter"`
	Entry      string `json:"entry"`
}

// Skipped records an adapter directory that could not be loaded.
type Skipped struct {
	Adapter string `json:"adapter"`
	Reason  string `json:"reason"`
}

// Option configures a Registry scan.
type Option func(*scanOptions)

type scanOptions struct {
	priority []string
	logger   *slog.Logger
}

// WithPriority makes the named adapters win ties over unlisted ones, earlier names first.
func WithPriority(adapters ...string) Option {
	return func(o *scanOptions) {
		o.priority = append(o.priority, adapters...)
	}
}

// WithLogger sets the logger for skipped manifests.
func WithLogger(l *slog.Logger) Option {
	return func(o *scanOptions) {
		o.logger = l
	}
}

// Registry is an immutable capability -> entrypoint map built by a single scan.
type Registry struct {
	root     string
	bindings map[string]Binding
	skipped  []Skipped
}

// Scan reads <root>/<adapter>/manifest.json for every adapter directory. Entries are
// visited in lexicographic order; on a tie the later adapter wins unless a priority
// list says otherwise.
func Scan(root string, opts ...Option) (*Registry, error) {
	o := scanOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(absRoot)
	if err != nil {
		return nil, fmt.Errorf("read adapters dir %s: %w", root, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	rank := map[string]int{}
	for i, name := range o.priority {
		if _, dup := rank[name]; !dup {
			rank[name] = len(o.priority) - i
		}
	}

	reg := &Registry{root: absRoot, bindings: map[string]Binding{}}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		m, err := readManifest(filepath.Join(absRoot, name, ManifestFile))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			reg.skipped = append(reg.skipped, Skipped{Adapter: name, Reason: err.Error()})
			o.logger.Warn("adapter manifest skipped", "adapter", name, "error", err)
			continue
		}
		for _, c := range m.Capabilities {
			if prev, ok := reg.bindings[c]; ok && rank[prev.Adapter] > rank[name] {
				continue
			}
			reg.bindings[c] = Binding{
				Capability: c,
				Adapter:    name,
				Entry:      filepath.Join(absRoot, name, filepath.FromSlash(m.Entry)),
			}
		}
	}
	return reg, nil
}

func readManifest(path string) (domain.AdapterManifest, error) {
	var m domain.AdapterManifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("malformed manifest: %w", err)
	}
	if err := validate.Struct(m); err != nil {
		return m, fmt.Errorf("invalid manifest: %w", err)
	}
	return m, nil
}

// Resolve returns the absolute entrypoint for an exactly matching capability.
func (r *Registry) Resolve(capability string) (string, error) {
	b, ok := r.bindings[capability]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoAdapter, capability)
	}
	return b.Entry, nil
}

// Lookup returns the full binding for a capability.
func (r *Registry) Lookup(capability string) (Binding, bool) {
	b, ok := r.bindings[capability]
	return b, ok
}

// Bindings lists every binding sorted by capability.
func (r *Registry) Bindings() []Binding {
	out := make([]Binding, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Capability < out[j].Capability })
	return out
}

// Skipped lists adapter directories whose manifest could not be used.
func (r *Registry) Skipped() []Skipped {
	return append([]Skipped(nil), r.skipped...)
}

// Root returns the scanned adapters directory.
func (r *Registry) Root() string {
	return r.root
}
