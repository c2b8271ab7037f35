package apl

import "testing"

func TestVersion(t *testing.T) {
	t.Parallel()

	if Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestGetVersion(t *testing.T) {
	t.Parallel()

	if v := GetVersion(); v != Version {
		t.Errorf("GetVersion() = %s, want %s", v, Version)
	}
}

func TestGenerator(t *testing.T) {
	t.Parallel()

	if Generator != "apl/"+Version {
		t.Errorf("Generator = %s, want apl/%s", Generator, Version)
	}
}
