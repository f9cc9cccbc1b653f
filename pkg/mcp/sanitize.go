package mcp

import (
	"fmt"
	"strings"
)

// SanitizeToolName maps a qualified tool name onto the identifier alphabet
// model runtimes accept: alphanumerics pass through, every other character
// becomes '_', and a name starting with a digit gains a "t_" prefix.
func SanitizeToolName(name string) string {
	if name == "" {
		return name
	}

	var b strings.Builder
	b.Grow(len(name) + 2)
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := b.String()
	if out[0] >= '0' && out[0] <= '9' {
		out = "t_" + out
	}
	return out
}

// assignExposedNames fills in ExposedName for every descriptor, resolving
// collisions with _2, _3, ... suffixes. The input must already be sorted by
// qualified name so a fixed tool set gets the same assignment on every
// refresh.
func assignExposedNames(descriptors []ToolDescriptor) {
	taken := make(map[string]bool, len(descriptors))
	for i := range descriptors {
		base := SanitizeToolName(descriptors[i].QualifiedName)
		name := base
		for n := 2; taken[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		taken[name] = true
		descriptors[i].ExposedName = name
	}
}
