package version

import (
	"strings"
	"testing"
)

func TestParseSemVer(t *testing.T) {
	t.Parallel()

	v, err := ParseSemVer("v1.2.3")
	if err != nil {
		t.Fatalf("ParseSemVer returned error: %v", err)
	}
	if v != (SemVer{Major: 1, Minor: 2, Patch: 3}) {
		t.Fatalf("ParseSemVer parsed wrong value: %#v", v)
	}
}

func TestParseSemVerRejectsInvalidFormat(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "v", "1", "1.2", "1.2.3.4", "1.2.x", ">=1.2.3", "1.2.3-beta", "1.-2.3"} {
		if _, err := ParseSemVer(raw); err == nil {
			t.Fatalf("expected parse error for %q", raw)
		}
	}
}

func TestCompare(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
		want int
	}{
		{"1.2.3", "1.2.3", 0},
		{"1.2.3", "1.2.4", -1},
		{"1.3.0", "1.2.9", 1},
		{"0.9.9", "1.0.0", -1},
	}
	for _, tc := range cases {
		a, _ := ParseSemVer(tc.a)
		b, _ := ParseSemVer(tc.b)
		if got := Compare(a, b); got != tc.want {
			t.Fatalf("Compare(%s, %s) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestEnsureCompatible(t *testing.T) {
	t.Parallel()

	current, err := ParseSemVer(Version)
	if err != nil {
		t.Fatalf("parse current version: %v", err)
	}

	if err := EnsureCompatible(""); err != nil {
		t.Fatalf("empty version should be accepted, got: %v", err)
	}
	if err := EnsureCompatible(current.String()); err != nil {
		t.Fatalf("current version should be compatible, got: %v", err)
	}

	newerPatch := SemVer{Major: current.Major, Minor: current.Minor, Patch: current.Patch + 1}
	if err := EnsureCompatible(newerPatch.String()); err == nil {
		t.Fatalf("expected incompatibility for newer version %q", newerPatch)
	}

	nextMajor := SemVer{Major: current.Major + 1}
	if err := EnsureCompatible(nextMajor.String()); err == nil {
		t.Fatalf("expected incompatibility for major mismatch %q", nextMajor)
	}
}

func TestLong(t *testing.T) {
	t.Parallel()

	if got := Long(); !strings.HasPrefix(got, "plugindb "+Version) {
		t.Fatalf("Long() = %q", got)
	}
}
