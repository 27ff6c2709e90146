package fabric

import "testing"

func TestResolveHostname(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		vars    HostnameVars
		want    string
	}{
		{
			name:    "all tokens",
			pattern: "$region-$datacenter-$hall-$pod-$role-##",
			vars:    HostnameVars{Region: "eu", Datacenter: "ams1", Hall: "hall1", Pod: "pod2", Role: "leaf", Index: 7},
			want:    "eu-ams1-hall1-pod2-leaf-07",
		},
		{
			name:    "empty tokens collapse",
			pattern: "$region-$datacenter-$pod-$role-##",
			vars:    HostnameVars{Role: "spine", Index: 1},
			want:    "spine-01",
		},
		{
			name:    "no hash appends index",
			pattern: "$role",
			vars:    HostnameVars{Role: "core", Index: 3},
			want:    "core-3",
		},
		{
			name:    "hash run wider than index",
			pattern: "sw###.$datacenter",
			vars:    HostnameVars{Datacenter: "lon", Index: 12},
			want:    "sw012.lon",
		},
		{
			name:    "index wider than run",
			pattern: "$role#",
			vars:    HostnameVars{Role: "leaf", Index: 123},
			want:    "leaf123",
		},
		{
			name:    "mixed separators collapse to the first",
			pattern: "_$region_.-$role__##..",
			vars:    HostnameVars{Role: "spine", Index: 2},
			want:    "spine_02",
		},
		{
			name:    "two index runs",
			pattern: "$role-#-r##",
			vars:    HostnameVars{Role: "leaf", Index: 4},
			want:    "leaf-4-r04",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveHostname(tt.pattern, tt.vars); got != tt.want {
				t.Errorf("ResolveHostname(%q) = %q, want %q", tt.pattern, got, tt.want)
			}
		})
	}
}
