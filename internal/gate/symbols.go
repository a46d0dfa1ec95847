package gate

import (
	"regexp"
	"strings"
)

var (
	endpointUnit = regexp.MustCompile(`^(GET|POST|PUT|PATCH|DELETE|HEAD|OPTIONS)\s+/\S*$`)
	// Name followed by an argument list: "parseConfig()", "pkg.Type.Method(ctx)".
	callUnit = regexp.MustCompile(`^[A-Za-z_$][\w$]*(\.[A-Za-z_$][\w$]*)*\s*\(.*\)$`)
	// Declaration keyword followed by a name: "func Load", "def handler", "function render".
	declUnit = regexp.MustCompile(`^(func|def|function|fn|method)\s+[A-Za-z_$][\w$.]*`)
)

// looksLikeSymbol reports whether a claimed unit names a function or an endpoint
// rather than a file or prose.
func looksLikeSymbol(unit string) bool {
	u := strings.TrimSpace(unit)
	if u == "" {
		return false
	}
	return endpointUnit.MatchString(u) || callUnit.MatchString(u) || declUnit.MatchString(u)
}

func countSymbolUnits(units []string) int {
	n := 0
	for _, u := range units {
		if looksLikeSymbol(u) {
			n++
		}
	}
	return n
}
