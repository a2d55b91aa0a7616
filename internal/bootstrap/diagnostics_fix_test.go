package bootstrap

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"reels-studio/internal/diagnostics"
	"reels-studio/internal/domain"
)

// TestInstallOrFixDirCreatesDirectory ensures directory fixes create missing paths.
func TestInstallOrFixDirCreatesDirectory(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "nested", "reels")

	fixed, changed, err := installOrFixDir(outputDir, "/unused")
	if err != nil {
		t.Fatalf("fix output dir: %v", err)
	}
	if changed {
		t.Fatal("expected setting to remain unchanged")
	}
	if fixed != outputDir {
		t.Fatalf("dir = %s, want %s", fixed, outputDir)
	}
	if _, err := os.Stat(outputDir); err != nil {
		t.Fatalf("stat output dir: %v", err)
	}
}

// TestInstallOrFixDirFallsBackToDefault ensures empty settings get the default.
func TestInstallOrFixDirFallsBackToDefault(t *testing.T) {
	fallback := filepath.Join(t.TempDir(), "work")

	fixed, changed, err := installOrFixDir("  ", fallback)
	if err != nil {
		t.Fatalf("fix work root: %v", err)
	}
	if !changed || fixed != fallback {
		t.Fatalf("fixed = %s changed = %v, want %s true", fixed, changed, fallback)
	}
}

// TestInstallOrFixDiagnosticSavesWorkRoot checks a directory fix is persisted and rechecked.
func TestInstallOrFixDiagnosticSavesWorkRoot(t *testing.T) {
	app, store := newTestApp(t, &fakeEncoder{})
	app.checker = diagnostics.NewCheckerForTests(
		func(configured, name string) (string, error) { return "/usr/bin/" + name, nil },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)
	store.settings.WorkRoot = filepath.Join(t.TempDir(), "scratch")

	report, err := app.InstallOrFixDiagnostic(diagnostics.ItemWorkRoot)
	if err != nil {
		t.Fatalf("fix: %v", err)
	}
	item, ok := diagnostics.Item(report, diagnostics.ItemWorkRoot)
	if !ok || item.Status != domain.DiagnosticStatusPass {
		t.Fatalf("work root item = %+v", item)
	}
	if len(store.saved) != 0 {
		t.Fatalf("unchanged setting should not be saved, got %+v", store.saved)
	}
}

// TestInstallOrFixDiagnosticRejectsUnknownItem checks unsupported ids.
func TestInstallOrFixDiagnosticRejectsUnknownItem(t *testing.T) {
	app, _ := newTestApp(t, &fakeEncoder{})
	if _, err := app.InstallOrFixDiagnostic("model_path"); err == nil {
		t.Fatal("expected unsupported item error")
	}
	if _, err := app.InstallOrFixDiagnostic(" "); err == nil {
		t.Fatal("expected missing item error")
	}
}

// TestSelectYtDlpAssetPerPlatform validates standalone build matching.
func TestSelectYtDlpAssetPerPlatform(t *testing.T) {
	release := githubRelease{
		TagName: "2025.01.01",
		Assets: []githubAsset{
			{Name: "yt-dlp", URL: "https://example.com/yt-dlp"},
			{Name: "yt-dlp.exe", URL: "https://example.com/yt-dlp.exe"},
			{Name: "yt-dlp_macos", URL: "https://example.com/yt-dlp_macos"},
			{Name: "yt-dlp_linux", URL: "https://example.com/yt-dlp_linux"},
			{Name: "SHA2-256SUMS", URL: "https://example.com/sums"},
		},
	}

	cases := []struct {
		goos, goarch, want string
	}{
		{"windows", "amd64", "yt-dlp.exe"},
		{"darwin", "arm64", "yt-dlp_macos"},
		{"linux", "amd64", "yt-dlp_linux"},
		{"linux", "arm64", "yt-dlp"},
	}
	for _, tc := range cases {
		_, name, err := selectYtDlpAsset(release, tc.goos, tc.goarch)
		if err != nil {
			t.Fatalf("%s/%s: %v", tc.goos, tc.goarch, err)
		}
		if name != tc.want {
			t.Fatalf("%s/%s asset = %s, want %s", tc.goos, tc.goarch, name, tc.want)
		}
	}
}

// TestSelectYtDlpAssetRequiresMatch validates the no-match error.
func TestSelectYtDlpAssetRequiresMatch(t *testing.T) {
	release := githubRelease{TagName: "v1", Assets: []githubAsset{{Name: "yt-dlp.tar.gz", URL: "https://example.com/src"}}}
	if _, _, err := selectYtDlpAsset(release, "windows", "amd64"); err == nil {
		t.Fatal("expected missing asset error")
	}
	if _, _, err := selectYtDlpAsset(githubRelease{TagName: "v1"}, "linux", "amd64"); err == nil {
		t.Fatal("expected empty release error")
	}
}

// TestExtractExecutablesFlattensArchive checks nested binaries are unpacked by name.
func TestExtractExecutablesFlattensArchive(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "ffmpeg.zip")
	writeZip(t, zipPath, map[string]string{
		"ffmpeg-6.1.1-full_build/bin/ffmpeg.exe":  "ffmpeg",
		"ffmpeg-6.1.1-full_build/bin/ffprobe.exe": "ffprobe",
		"ffmpeg-6.1.1-full_build/README.txt":      "readme",
	})

	extractDir := filepath.Join(dir, "tools")
	found, err := extractExecutables(zipPath, extractDir, "ffmpeg.exe", "ffprobe.exe")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if found["ffmpeg.exe"] != filepath.Join(extractDir, "ffmpeg.exe") {
		t.Fatalf("ffmpeg path = %s", found["ffmpeg.exe"])
	}
	data, err := os.ReadFile(found["ffprobe.exe"])
	if err != nil || string(data) != "ffprobe" {
		t.Fatalf("ffprobe content = %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(extractDir, "README.txt")); !os.IsNotExist(err) {
		t.Fatalf("unrequested files should be skipped, stat err = %v", err)
	}
}

// TestExtractExecutablesReportsMissing checks an incomplete archive is rejected.
func TestExtractExecutablesReportsMissing(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "ffmpeg.zip")
	writeZip(t, zipPath, map[string]string{"bin/ffmpeg.exe": "ffmpeg"})

	if _, err := extractExecutables(zipPath, filepath.Join(dir, "out"), "ffmpeg.exe", "ffprobe.exe"); err == nil {
		t.Fatal("expected missing ffprobe error")
	}
}

// TestIsWithinBaseDirRejectsTraversal validates archive path traversal guard.
func TestIsWithinBaseDirRejectsTraversal(t *testing.T) {
	base := filepath.Join(t.TempDir(), "root")
	if isWithinBaseDir(base, filepath.Join(base, "..", "escape.txt")) {
		t.Fatal("expected traversal target to be rejected")
	}
	if !isWithinBaseDir(base, filepath.Join(base, "ffmpeg.exe")) {
		t.Fatal("expected nested target to be accepted")
	}
}

// TestFFmpegInstallOptionsPerOS checks every platform has a package manager route.
func TestFFmpegInstallOptionsPerOS(t *testing.T) {
	for _, goos := range []string{"windows", "darwin", "linux"} {
		if len(ffmpegInstallOptions(goos)) == 0 {
			t.Fatalf("no install options for %s", goos)
		}
	}
	if ytDlpBinaryName("windows") != "yt-dlp.exe" || ytDlpBinaryName("linux") != "yt-dlp" {
		t.Fatal("unexpected yt-dlp binary names")
	}
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	zw := zip.NewWriter(out)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip entry: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
}
