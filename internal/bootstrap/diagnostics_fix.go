package bootstrap

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"reels-studio/internal/config"
	"reels-studio/internal/diagnostics"
	"reels-studio/internal/domain"
	"reels-studio/internal/logging"
)

const (
	windowsFFmpegArchiveURL = "https://github.com/GyanD/codexffmpeg/releases/download/6.1.1/ffmpeg-6.1.1-full_build.zip"
	ytDlpLatestReleaseURL   = "https://api.github.com/repos/yt-dlp/yt-dlp/releases/latest"

	installCommandTimeout = 45 * time.Minute
	downloadToolTimeout   = 30 * time.Minute
)

type installOption struct {
	manager  string
	commands [][]string
}

// InstallOrFixDiagnostic applies an OS-specific remediation for one failed diagnostic item.
func (a *App) InstallOrFixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, fmt.Errorf("settings store is not configured")
	}

	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	settings = config.Normalize(settings)

	settingsChanged := false
	var fixErr error

	switch id {
	case diagnostics.ItemFFmpeg, diagnostics.ItemFFprobe:
		settings, settingsChanged, fixErr = installFFmpegForCurrentOS(settings)
	case diagnostics.ItemYtDlp:
		settings, settingsChanged, fixErr = installYtDlp(settings)
	case diagnostics.ItemOutputDir:
		settings.OutputDir, settingsChanged, fixErr = installOrFixDir(settings.OutputDir, config.DefaultSettings().OutputDir)
	case diagnostics.ItemWorkRoot:
		settings.WorkRoot, settingsChanged, fixErr = installOrFixDir(settings.WorkRoot, config.DefaultSettings().WorkRoot)
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	if settingsChanged {
		if saveErr := a.Store.Save(settings); saveErr != nil {
			report := a.refreshDiagnosticsFromSettings(settings)
			return report, fmt.Errorf("save settings after fix: %w", saveErr)
		}
	}

	report := a.refreshDiagnosticsFromSettings(settings)
	if fixErr != nil {
		a.log().Warn("diagnostic fix failed",
			logging.String("item", id),
			logging.Error(fixErr),
		)
		return report, fixErr
	}
	return report, nil
}

func (a *App) refreshDiagnosticsFromSettings(settings domain.Settings) domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(settings)
	}
	return a.Diagnostics
}

func ensureLocalBinOnPATH(homeDir string) error {
	binDir := localBinDir(homeDir)
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	current := os.Getenv("PATH")
	for _, entry := range filepath.SplitList(current) {
		if filepath.Clean(entry) == filepath.Clean(binDir) {
			return nil
		}
	}

	if current == "" {
		return os.Setenv("PATH", binDir)
	}
	return os.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
}

func localBinDir(homeDir string) string {
	return filepath.Join(config.AppDir(homeDir), "bin")
}

func localToolsDir(homeDir string) string {
	return filepath.Join(config.AppDir(homeDir), "tools")
}

// installFFmpegForCurrentOS installs ffmpeg and ffprobe through a package
// manager. On Windows a release archive is unpacked under the app directory
// when no manager succeeds, and the settings are pointed at it.
func installFFmpegForCurrentOS(settings domain.Settings) (domain.Settings, bool, error) {
	options := ffmpegInstallOptions(goruntime.GOOS)

	installErr := runFirstSuccessfulInstall(options)
	if installErr == nil {
		if err := requireToolsOnPath("ffmpeg", "ffprobe"); err == nil {
			return settings, false, nil
		}
	}

	if goruntime.GOOS != "windows" {
		if installErr != nil {
			return settings, false, fmt.Errorf("install ffmpeg/ffprobe: %w", installErr)
		}
		return settings, false, fmt.Errorf("verify ffmpeg/ffprobe on PATH: %w", requireToolsOnPath("ffmpeg", "ffprobe"))
	}

	ffmpeg, ffprobe, err := installFFmpegWindowsArchive()
	if err != nil {
		if installErr != nil {
			return settings, false, fmt.Errorf("install ffmpeg/ffprobe: %v | archive fallback: %w", installErr, err)
		}
		return settings, false, fmt.Errorf("archive fallback: %w", err)
	}

	changed := settings.FFmpegPath != ffmpeg || settings.FFprobePath != ffprobe
	settings.FFmpegPath = ffmpeg
	settings.FFprobePath = ffprobe
	return settings, changed, nil
}

func ffmpegInstallOptions(goos string) []installOption {
	switch goos {
	case "windows":
		return []installOption{
			{manager: "winget", commands: [][]string{
				{"winget", "install", "--id", "Gyan.FFmpeg", "--exact", "--accept-source-agreements", "--accept-package-agreements"},
			}},
			{manager: "choco", commands: [][]string{{"choco", "install", "ffmpeg", "-y"}}},
			{manager: "scoop", commands: [][]string{{"scoop", "install", "ffmpeg"}}},
		}
	case "darwin":
		return []installOption{
			{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
		}
	default:
		return []installOption{
			{manager: "apt-get", commands: [][]string{
				{"apt-get", "update"},
				{"apt-get", "install", "-y", "ffmpeg"},
			}},
			{manager: "dnf", commands: [][]string{{"dnf", "install", "-y", "ffmpeg"}}},
			{manager: "pacman", commands: [][]string{{"pacman", "-Sy", "--noconfirm", "ffmpeg"}}},
			{manager: "zypper", commands: [][]string{{"zypper", "install", "-y", "ffmpeg"}}},
			{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
		}
	}
}

func installFFmpegWindowsArchive() (ffmpeg string, ffprobe string, err error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("resolve user home: %w", err)
	}

	installDir := filepath.Join(localToolsDir(homeDir), "ffmpeg")
	zipPath := filepath.Join(installDir, "ffmpeg-full_build.zip")
	if err := downloadURLToFile(zipPath, windowsFFmpegArchiveURL, downloadToolTimeout); err != nil {
		return "", "", fmt.Errorf("download ffmpeg archive: %w", err)
	}
	defer os.Remove(zipPath)

	found, err := extractExecutables(zipPath, installDir, "ffmpeg.exe", "ffprobe.exe")
	if err != nil {
		return "", "", fmt.Errorf("extract ffmpeg archive: %w", err)
	}
	return found["ffmpeg.exe"], found["ffprobe.exe"], nil
}

// installYtDlp downloads the standalone yt-dlp build for this platform into
// the app's bin directory and points the settings at it.
func installYtDlp(settings domain.Settings) (domain.Settings, bool, error) {
	release, err := fetchGithubRelease(ytDlpLatestReleaseURL)
	if err != nil {
		return settings, false, fmt.Errorf("fetch latest yt-dlp release metadata: %w", err)
	}

	assetURL, _, err := selectYtDlpAsset(release, goruntime.GOOS, goruntime.GOARCH)
	if err != nil {
		return settings, false, err
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return settings, false, fmt.Errorf("resolve user home: %w", err)
	}
	target := filepath.Join(localBinDir(homeDir), ytDlpBinaryName(goruntime.GOOS))
	if err := downloadURLToFile(target, assetURL, downloadToolTimeout); err != nil {
		return settings, false, fmt.Errorf("download yt-dlp: %w", err)
	}
	if err := os.Chmod(target, 0o755); err != nil {
		return settings, false, fmt.Errorf("mark yt-dlp executable: %w", err)
	}

	changed := settings.YtDlpPath != target
	settings.YtDlpPath = target
	return settings, changed, nil
}

func ytDlpBinaryName(goos string) string {
	if goos == "windows" {
		return "yt-dlp.exe"
	}
	return "yt-dlp"
}

func runFirstSuccessfulInstall(options []installOption) error {
	if len(options) == 0 {
		return fmt.Errorf("no install commands configured for OS %s", goruntime.GOOS)
	}

	errorsByManager := make([]string, 0, len(options))
	atLeastOneManager := false

	for _, option := range options {
		if !commandAvailable(option.manager) {
			continue
		}
		atLeastOneManager = true
		err := runInstallCommands(option.commands)
		if err == nil {
			return nil
		}
		errorsByManager = append(errorsByManager, fmt.Sprintf("%s: %v", option.manager, err))
	}

	if !atLeastOneManager {
		return fmt.Errorf("no supported package manager found for %s", goruntime.GOOS)
	}
	return errors.New(strings.Join(errorsByManager, " | "))
}

func runInstallCommands(commands [][]string) error {
	for _, command := range commands {
		if err := runCommandWithPossibleElevation(command); err != nil {
			return err
		}
	}
	return nil
}

func runCommandWithPossibleElevation(command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty command")
	}

	candidates := [][]string{command}
	if goruntime.GOOS == "linux" && requiresElevation(command[0]) {
		if commandAvailable("pkexec") {
			candidates = append(candidates, append([]string{"pkexec"}, command...))
		}
		if commandAvailable("sudo") {
			candidates = append(candidates, append([]string{"sudo", "-n"}, command...))
		}
	}

	attemptErrors := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		err := runCommand(candidate[0], candidate[1:]...)
		if err == nil {
			return nil
		}
		attemptErrors = append(attemptErrors, err.Error())
	}
	return errors.New(strings.Join(attemptErrors, " | "))
}

func runCommand(name string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), installCommandTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", formatCommand(name, args), installCommandTimeout)
	}

	trimmed := strings.TrimSpace(string(output))
	if len(trimmed) > 500 {
		trimmed = trimmed[:500] + "..."
	}
	if trimmed == "" {
		return fmt.Errorf("%s failed: %w", formatCommand(name, args), err)
	}
	return fmt.Errorf("%s failed: %w (%s)", formatCommand(name, args), err, trimmed)
}

func formatCommand(name string, args []string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

func requiresElevation(manager string) bool {
	switch manager {
	case "apt-get", "dnf", "pacman", "zypper":
		return true
	default:
		return false
	}
}

func commandAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func requireToolsOnPath(names ...string) error {
	missing := make([]string, 0, len(names))
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing tools on PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}

type githubAsset struct {
	Name string `json:"name"`
	URL  string `json:"browser_download_url"`
}

type githubRelease struct {
	TagName string        `json:"tag_name"`
	Assets  []githubAsset `json:"assets"`
}

func fetchGithubRelease(url string) (githubRelease, error) {
	ctx, cancel := context.WithTimeout(context.Background(), downloadToolTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return githubRelease{}, fmt.Errorf("build release metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "reels-studio")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return githubRelease{}, fmt.Errorf("request release metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return githubRelease{}, fmt.Errorf("release metadata request returned %s", resp.Status)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return githubRelease{}, fmt.Errorf("decode release metadata: %w", err)
	}
	if strings.TrimSpace(release.TagName) == "" {
		return githubRelease{}, fmt.Errorf("release metadata did not include a tag name")
	}
	return release, nil
}

// selectYtDlpAsset picks the standalone yt-dlp build for goos/goarch,
// falling back to the platform-independent zipapp on unix systems.
func selectYtDlpAsset(release githubRelease, goos, goarch string) (url string, name string, err error) {
	if len(release.Assets) == 0 {
		return "", "", fmt.Errorf("release %s has no assets", release.TagName)
	}

	var preferred []string
	switch goos {
	case "windows":
		if goarch == "386" {
			preferred = []string{"yt-dlp_x86.exe", "yt-dlp.exe"}
		} else {
			preferred = []string{"yt-dlp.exe"}
		}
	case "darwin":
		preferred = []string{"yt-dlp_macos", "yt-dlp"}
	default:
		if goarch == "arm64" {
			preferred = []string{"yt-dlp_linux_aarch64", "yt-dlp"}
		} else {
			preferred = []string{"yt-dlp_linux", "yt-dlp"}
		}
	}

	for _, want := range preferred {
		for _, asset := range release.Assets {
			if strings.EqualFold(strings.TrimSpace(asset.Name), want) && strings.TrimSpace(asset.URL) != "" {
				return asset.URL, asset.Name, nil
			}
		}
	}
	return "", "", fmt.Errorf("release %s has no yt-dlp build for %s/%s", release.TagName, goos, goarch)
}

func downloadURLToFile(destinationPath string, sourceURL string, timeout time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return fmt.Errorf("prepare destination directory: %w", err)
	}

	tmpPath := destinationPath + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale temp file: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "reels-studio")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	written, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write destination file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close destination file: %w", closeErr)
	}
	if written == 0 {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("downloaded file is empty")
	}

	if err := os.Remove(destinationPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("remove old destination file: %w", err)
	}
	if err := os.Rename(tmpPath, destinationPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move downloaded file into place: %w", err)
	}
	return nil
}

// extractExecutables unpacks the named files from a zip archive, flattening
// any directory structure, and returns their extracted paths by base name.
func extractExecutables(zipPath string, extractDir string, names ...string) (map[string]string, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[strings.ToLower(name)] = true
	}

	found := make(map[string]string, len(names))
	for _, file := range reader.File {
		if file == nil || file.FileInfo().IsDir() {
			continue
		}
		base := strings.ToLower(filepath.Base(filepath.Clean(file.Name)))
		if !wanted[base] {
			continue
		}

		targetPath := filepath.Join(extractDir, base)
		if !isWithinBaseDir(extractDir, targetPath) {
			return nil, fmt.Errorf("zip contains invalid path: %s", file.Name)
		}
		if err := extractZipFile(file, targetPath); err != nil {
			return nil, err
		}
		found[base] = targetPath
	}

	for name := range wanted {
		if found[name] == "" {
			return nil, fmt.Errorf("archive does not contain %s", name)
		}
	}
	return found, nil
}

func extractZipFile(file *zip.File, targetPath string) error {
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return err
	}
	dst, err := os.OpenFile(targetPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		_ = src.Close()
		return err
	}

	_, copyErr := io.Copy(dst, src)
	srcCloseErr := src.Close()
	dstCloseErr := dst.Close()
	if copyErr != nil {
		return copyErr
	}
	if srcCloseErr != nil {
		return srcCloseErr
	}
	return dstCloseErr
}

func isWithinBaseDir(baseDir string, targetPath string) bool {
	relative, err := filepath.Rel(filepath.Clean(baseDir), filepath.Clean(targetPath))
	if err != nil {
		return false
	}
	return relative == "." || (!strings.HasPrefix(relative, "..") && relative != "")
}

// installOrFixDir falls back to the default when dir is empty and creates
// the directory. changed reports whether the setting must be saved.
func installOrFixDir(dir string, fallback string) (string, bool, error) {
	changed := false
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = fallback
		changed = true
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dir, changed, fmt.Errorf("create directory %s: %w", dir, err)
	}
	return dir, changed, nil
}
