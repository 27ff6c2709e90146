package fabric

import (
	"fmt"
	"strings"
)

// DefaultHostnamePattern yields names such as "dc1-spine-01".
const DefaultHostnamePattern = "$region-$datacenter-$pod-$role-##"

// HostnameVars are the values substituted into a hostname pattern.
type HostnameVars struct {
	Region     string
	Datacenter string
	Hall       string
	Pod        string
	Role       string
	Index      int // 1-based
}

// ResolveHostname expands $region, $datacenter, $hall, $pod and $role in
// pattern and replaces each run of '#' with Index, zero padded to the run
// length. A pattern without '#' gets "-#" appended so names stay unique.
// Empty tokens leave no stray separators behind.
func ResolveHostname(pattern string, v HostnameVars) string {
	if !strings.Contains(pattern, "#") {
		pattern += "-#"
	}

	name := strings.NewReplacer(
		"$region", v.Region,
		"$datacenter", v.Datacenter,
		"$hall", v.Hall,
		"$pod", v.Pod,
		"$role", v.Role,
	).Replace(pattern)

	var b strings.Builder
	for i := 0; i < len(name); {
		if name[i] != '#' {
			b.WriteByte(name[i])
			i++
			continue
		}
		run := 0
		for i < len(name) && name[i] == '#' {
			run++
			i++
		}
		fmt.Fprintf(&b, "%0*d", run, v.Index)
	}

	return cleanSeparators(b.String())
}

func isSeparator(c byte) bool {
	return c == '-' || c == '_' || c == '.'
}

// cleanSeparators trims separators from both ends and keeps only the first
// of any run of separators.
func cleanSeparators(s string) string {
	var b strings.Builder
	prevSep := true
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isSeparator(c) {
			if prevSep {
				continue
			}
			prevSep = true
		} else {
			prevSep = false
		}
		b.WriteByte(c)
	}
	out := b.String()
	for len(out) > 0 && isSeparator(out[len(out)-1]) {
		out = out[:len(out)-1]
	}
	return out
}
