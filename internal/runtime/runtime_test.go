package runtime

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestImageTag(t *testing.T) {
	tag := imageTag("/some/archive.tar")

	if !strings.HasPrefix(tag, "import/") || !strings.HasSuffix(tag, ":latest") {
		t.Fatalf("tag %q, want import/<hash>:latest", tag)
	}
	if imageTag("/some/archive.tar") != tag {
		t.Fatal("imageTag is not deterministic")
	}
	if imageTag("/other/archive.tar") == tag {
		t.Fatal("different paths produced the same tag")
	}
}

func TestDefaultPlatform(t *testing.T) {
	parts := strings.Split(DefaultPlatform(), "/")
	if len(parts) != 2 || parts[0] != "linux" || parts[1] == "" {
		t.Fatalf("DefaultPlatform() = %q, want linux/<arch>", DefaultPlatform())
	}
}

func TestIsArchive(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "base.tar")
	if err := os.WriteFile(archive, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "dir.tar"), 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		ref  string
		want bool
	}{
		{archive, true},
		{filepath.Join(dir, "missing.tar"), false},
		{filepath.Join(dir, "dir.tar"), false},
		{"docker.io/library/ubuntu:22.04", false},
		{"ubuntu", false},
	}

	for _, tt := range tests {
		if got := isArchive(tt.ref); got != tt.want {
			t.Errorf("isArchive(%q) = %v, want %v", tt.ref, got, tt.want)
		}
	}
}
