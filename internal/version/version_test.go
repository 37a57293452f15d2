package version

import "testing"

func TestString(t *testing.T) {
	orig := Version
	defer func() { Version = orig }()

	Version = "1.2.0"
	if got, want := String("tracefeatures"), "tracefeatures 1.2.0 (unknown) built unknown"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
