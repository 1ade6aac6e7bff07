package platform

import "testing"

func TestMajorVersion(t *testing.T) {
	cases := map[string]int{
		"14.5":     14,
		"15.0":     15,
		"10.15.7":  10,
		"26.0":     26,
	}
	for input, want := range cases {
		got, err := majorVersion(input)
		if err != nil {
			t.Fatalf("majorVersion(%q): %v", input, err)
		}
		if got != want {
			t.Errorf("majorVersion(%q) = %d, want %d", input, got, want)
		}
	}
}

func TestMajorVersionMalformed(t *testing.T) {
	if _, err := majorVersion("not-a-version"); err == nil {
		t.Fatal("expected error for malformed product version")
	}
}

func TestArch(t *testing.T) {
	arch, err := Arch()
	if err != nil {
		// Only arm64 and amd64 are supported; the test binary itself runs on
		// one of the two in CI, so an error here would mean Arch is broken.
		t.Fatalf("Arch(): %v", err)
	}
	if arch != "arm64" && arch != "x86_64" {
		t.Errorf("Arch() = %q, want arm64 or x86_64", arch)
	}
}
