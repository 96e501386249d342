package cachepath

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestForKeyMapsSeparators(t *testing.T) {
	got := ForKey("/cache", "photos/2024/trip.jpg")
	want := filepath.Join("/cache", "photos", "2024", "trip.jpg")
	if got != want {
		t.Errorf("ForKey = %q, want %q", got, want)
	}
}

func TestForKeyReplacesInvalidCharacters(t *testing.T) {
	got := ForKey("/cache", `docs/a:b*c?.txt`)
	if strings.ContainsAny(got, `:*?"<>|`) {
		t.Errorf("Invalid characters survived: %q", got)
	}
	if !strings.HasPrefix(got, filepath.Join("/cache", "docs")) {
		t.Errorf("Directory structure lost: %q", got)
	}
}

func TestForKeyCannotEscapeRoot(t *testing.T) {
	cases := []string{
		"../../etc/passwd",
		"a/../../b",
		"..",
		"./../x",
	}
	root := filepath.Join("/cache")
	for _, key := range cases {
		got := ForKey(root, key)
		if !strings.HasPrefix(got, root+string(filepath.Separator)) {
			t.Errorf("Key %q escaped the root: %q", key, got)
		}
		if strings.Contains(got, "..") {
			t.Errorf("Key %q left a dot-dot segment: %q", key, got)
		}
	}
}

func TestForKeyEmptyAndSlashOnly(t *testing.T) {
	for _, key := range []string{"", "/", "///"} {
		got := ForKey("/cache", key)
		if got == "/cache" {
			t.Errorf("Key %q must not resolve to the cache root itself", key)
		}
		if !strings.HasPrefix(got, "/cache") {
			t.Errorf("Key %q resolved outside the root: %q", key, got)
		}
	}
}

func TestForKeyFolderMarker(t *testing.T) {
	got := ForKey("/cache", "photos/")
	want := filepath.Join("/cache", "photos")
	if got != want {
		t.Errorf("ForKey = %q, want %q", got, want)
	}
}
