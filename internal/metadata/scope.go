package metadata

import (
	"fmt"
	"strings"
)

// Scope selects what a strip operation removes.
type Scope int

const (
	ScopeAll Scope = iota
	ScopeGPSOnly
)

func (s Scope) String() string {
	if s == ScopeGPSOnly {
		return "gps-only"
	}
	return "all"
}

// ParseScope accepts "all", "gps-only" and "gps".
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return ScopeAll, nil
	case "gps", "gps-only", "gps_only":
		return ScopeGPSOnly, nil
	}
	return ScopeAll, fmt.Errorf("metadata: unknown scope %q", s)
}
