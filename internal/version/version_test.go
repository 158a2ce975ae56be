package version

import "testing"

func TestString(t *testing.T) {
	want := "pagerag dev (commit unknown, built unknown)"
	if got := String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got := Get(); got.Version != "dev" || got.Commit != "unknown" {
		t.Errorf("Get() = %+v", got)
	}
}
