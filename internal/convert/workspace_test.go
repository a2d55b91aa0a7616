package convert

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOutputName(t *testing.T) {
	cases := map[string]string{
		"/videos/talk.mov":        "talk_reels.mp4",
		"/videos/my.clip.mp4":     "my.clip_reels.mp4",
		"/videos/.mp4":            "video_reels.mp4",
		"C:/Users/me/demo v2.mkv": "demo v2_reels.mp4",
	}
	for in, want := range cases {
		if got := OutputName(in); got != want {
			t.Fatalf("OutputName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDeliverPicksFreeName(t *testing.T) {
	fs := osFileSystem()
	workDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "clip_reels.mp4"), []byte("old"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	artifact := filepath.Join(workDir, "output.mp4")
	if err := os.WriteFile(artifact, []byte("new"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := fs.deliver(artifact, outDir, "/videos/clip.mp4")
	if err != nil {
		t.Fatalf("deliver() error = %v", err)
	}
	if got != filepath.Join(outDir, "clip_reels_1.mp4") {
		t.Fatalf("deliver() = %s", got)
	}
	data, err := os.ReadFile(got)
	if err != nil || string(data) != "new" {
		t.Fatalf("delivered content = %q, %v", data, err)
	}
	if _, err := os.Stat(artifact); !os.IsNotExist(err) {
		t.Fatalf("artifact should have moved, stat err = %v", err)
	}
}

func TestDeliverFallsBackToCopy(t *testing.T) {
	fs := osFileSystem()
	fs.rename = func(string, string) error { return errors.New("invalid cross-device link") }

	artifact := filepath.Join(t.TempDir(), "output.mp4")
	if err := os.WriteFile(artifact, []byte("frames"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	outDir := filepath.Join(t.TempDir(), "exports")

	got, err := fs.deliver(artifact, outDir, "/videos/clip.mp4")
	if err != nil {
		t.Fatalf("deliver() error = %v", err)
	}
	data, err := os.ReadFile(got)
	if err != nil || string(data) != "frames" {
		t.Fatalf("copied content = %q, %v", data, err)
	}
	if _, err := os.Stat(artifact); !os.IsNotExist(err) {
		t.Fatalf("artifact should be removed after copy, stat err = %v", err)
	}
}

func TestCreateWorkDirIsUniquePerJob(t *testing.T) {
	fs := osFileSystem()
	root := filepath.Join(t.TempDir(), "work")

	a, err := fs.createWorkDir(root, "0123456789abcdef")
	if err != nil {
		t.Fatalf("createWorkDir() error = %v", err)
	}
	b, err := fs.createWorkDir(root, "0123456789abcdef")
	if err != nil {
		t.Fatalf("createWorkDir() error = %v", err)
	}
	if a == b {
		t.Fatal("workspaces must be distinct")
	}
	if filepath.Dir(a) != root {
		t.Fatalf("workspace %s not under %s", a, root)
	}
}
