package version

import (
	"strings"
	"testing"
)

func TestVersionString(t *testing.T) {
	v := Version{Major: "1", Minor: "2", Patch: "3", Metadata: "dev", Build: "abc"}
	if s := v.String(); s != "Version: 1.2.3-dev\nBuild: abc" {
		t.Fatalf("unexpected version string %q", s)
	}
	if !strings.HasPrefix(AgentVersion.String(), "Version: 0.3.0") {
		t.Fatalf("unexpected agent version %q", AgentVersion.String())
	}
}
