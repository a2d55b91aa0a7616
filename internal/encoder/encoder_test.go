package encoder

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"reels-studio/internal/domain"
	"reels-studio/internal/pipeline"
)

type fakeCall struct {
	name string
	args []string
}

type fakeRunner struct {
	calls       []fakeCall
	stdoutLines []string
	result      commandResult
	err         error
	block       bool
	// respond, when set, overrides result and err per call.
	respond func(args []string) (commandResult, error)
}

// Run records invocations and replays configured output.
func (f *fakeRunner) Run(
	ctx context.Context,
	onStdoutLine func(string),
	name string,
	args ...string,
) (commandResult, error) {
	f.calls = append(f.calls, fakeCall{name: name, args: append([]string(nil), args...)})
	for _, line := range f.stdoutLines {
		if onStdoutLine != nil {
			onStdoutLine(line)
		}
	}
	if f.block {
		<-ctx.Done()
		return commandResult{ExitCode: -1}, ctx.Err()
	}
	if f.respond != nil {
		return f.respond(args)
	}
	return f.result, f.err
}

func usesCodec(args []string, codec string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "-c:v" && args[i+1] == codec {
			return true
		}
	}
	return false
}

// nvencBroken lists h264_nvenc but fails every encode that uses it.
func nvencBroken(args []string) (commandResult, error) {
	if slices.Contains(args, "-encoders") {
		return commandResult{Stdout: " V....D h264_nvenc  NVIDIA NVENC H.264 encoder"}, nil
	}
	if usesCodec(args, CodecNVENC) {
		return commandResult{
			ExitCode: 1,
			Stderr:   "Cannot load libcuda.so.1\nError while opening encoder for output stream #0:0",
		}, errors.New("exit status 1")
	}
	return commandResult{}, nil
}

func contentStage(t *testing.T) pipeline.Stage {
	t.Helper()
	recipe, err := pipeline.Plan(domain.QualityLow, "/videos/in.mp4")
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	return recipe.Stages[0]
}

func TestInvokeBuildsStageArgs(t *testing.T) {
	runner := &fakeRunner{}
	adapter := NewForTests(Options{Binary: "/opt/ffmpeg"}, runner)

	if _, err := adapter.Invoke(context.Background(), contentStage(t), "/work/job", nil); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(runner.calls))
	}
	call := runner.calls[0]
	if call.name != "/opt/ffmpeg" {
		t.Fatalf("binary = %s", call.name)
	}
	joined := strings.Join(call.args, " ")
	for _, want := range []string{
		"-i /videos/in.mp4",
		"-vf crop=iw*0.66:ih:0:0",
		"-c:v libx264 -preset ultrafast -crf 28",
		"-progress pipe:1",
		"-an",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args missing %q: %s", want, joined)
		}
	}
	if last := call.args[len(call.args)-1]; last != filepath.Join("/work/job", pipeline.ContentFile) {
		t.Fatalf("output arg = %s", last)
	}
}

func TestInvokeReportsProgress(t *testing.T) {
	runner := &fakeRunner{stdoutLines: []string{
		"frame=10",
		"out_time_us=1500000",
		"progress=continue",
		"out_time_us=3000000",
		"progress=end",
	}}
	adapter := NewForTests(Options{}, runner)

	var got []time.Duration
	_, err := adapter.Invoke(context.Background(), contentStage(t), "/work", func(d time.Duration) {
		got = append(got, d)
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	want := []time.Duration{1500 * time.Millisecond, 3 * time.Second}
	if !slices.Equal(got, want) {
		t.Fatalf("progress = %v, want %v", got, want)
	}
}

func TestInvokeNonZeroExitIsEncodeError(t *testing.T) {
	runner := &fakeRunner{
		result: commandResult{ExitCode: 1, Stderr: "Invalid argument\nError opening output"},
		err:    errors.New("exit status 1"),
	}
	adapter := NewForTests(Options{}, runner)

	_, err := adapter.Invoke(context.Background(), contentStage(t), "/work", nil)
	var encodeErr *EncodeError
	if !errors.As(err, &encodeErr) {
		t.Fatalf("expected EncodeError, got %T", err)
	}
	if encodeErr.ExitCode() != 1 || encodeErr.Stage != pipeline.StageContent {
		t.Fatalf("unexpected error fields: %+v", encodeErr)
	}
	if !strings.Contains(encodeErr.StderrTail(), "Error opening output") {
		t.Fatalf("stderr tail = %q", encodeErr.StderrTail())
	}
	if encodeErr.Timeout || encodeErr.Cancelled {
		t.Fatalf("plain failure flagged as timeout/cancel: %+v", encodeErr)
	}
}

func TestInvokeTimeout(t *testing.T) {
	runner := &fakeRunner{block: true}
	adapter := NewForTests(Options{StageTimeout: 20 * time.Millisecond}, runner)

	_, err := adapter.Invoke(context.Background(), contentStage(t), "/work", nil)
	var encodeErr *EncodeError
	if !errors.As(err, &encodeErr) || !encodeErr.Timeout {
		t.Fatalf("expected timeout EncodeError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timeout should wrap DeadlineExceeded: %v", err)
	}
}

func TestInvokeCancelled(t *testing.T) {
	runner := &fakeRunner{block: true}
	adapter := NewForTests(Options{StageTimeout: time.Minute}, runner)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := adapter.Invoke(ctx, contentStage(t), "/work", nil)
	var encodeErr *EncodeError
	if !errors.As(err, &encodeErr) || !encodeErr.Cancelled {
		t.Fatalf("expected cancelled EncodeError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cancel should wrap context.Canceled: %v", err)
	}
}

func TestBuildArgsNVENC(t *testing.T) {
	args := BuildArgs(contentStage(t), "/work", CodecNVENC)
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-c:v h264_nvenc -preset p1 -rc vbr -cq 28") {
		t.Fatalf("nvenc args = %s", joined)
	}
}

func TestBuildArgsCompositeMapsAudio(t *testing.T) {
	recipe, err := pipeline.Plan(domain.QualityHigh, "/videos/in.mp4")
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	args := BuildArgs(recipe.Final(), "/work", CodecX264)
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-i /work/content.mp4 -i /work/face.mp4 -i /videos/in.mp4",
		"-map [v] -map 2:a:0?",
		"-c:a aac",
		"-pix_fmt yuv420p",
		"-preset slow -crf 18",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args missing %q: %s", want, joined)
		}
	}
	if slices.Contains(args, "-an") {
		t.Fatalf("composite should keep audio: %s", joined)
	}
}

func TestStderrTailKeepsLastLines(t *testing.T) {
	lines := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		lines = append(lines, "line")
	}
	lines = append(lines, "final error")
	tail := stderrTail(strings.Join(lines, "\n") + "\n")
	if got := strings.Count(tail, "\n") + 1; got != stderrTailLines {
		t.Fatalf("tail lines = %d, want %d", got, stderrTailLines)
	}
	if !strings.HasSuffix(tail, "final error") {
		t.Fatalf("tail = %q", tail)
	}
}

func TestParseClock(t *testing.T) {
	got, ok := parseClock("00:01:02.500000")
	if !ok || got != 62500*time.Millisecond {
		t.Fatalf("parseClock = %v, %v", got, ok)
	}
	if _, ok := parseClock("N/A"); ok {
		t.Fatal("expected N/A to be rejected")
	}
}

func TestDetectVideoCodec(t *testing.T) {
	runner := &fakeRunner{result: commandResult{Stdout: " V....D h264_nvenc  NVIDIA NVENC H.264 encoder"}}
	if got := detectVideoCodec(context.Background(), runner, "ffmpeg"); got != CodecNVENC {
		t.Fatalf("codec = %s, want nvenc", got)
	}

	runner = &fakeRunner{result: commandResult{Stdout: " V....D libx264"}}
	if got := detectVideoCodec(context.Background(), runner, "ffmpeg"); got != CodecX264 {
		t.Fatalf("codec = %s, want libx264", got)
	}

	runner = &fakeRunner{err: errors.New("boom")}
	if got := detectVideoCodec(context.Background(), runner, "ffmpeg"); got != CodecX264 {
		t.Fatalf("codec = %s, want libx264 on error", got)
	}
}

func TestDetectVideoCodecRequiresWorkingNVENC(t *testing.T) {
	runner := &fakeRunner{respond: nvencBroken}
	if got := detectVideoCodec(context.Background(), runner, "ffmpeg"); got != CodecX264 {
		t.Fatalf("codec = %s, want libx264 when the trial encode fails", got)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("calls = %d, want listing plus trial encode", len(runner.calls))
	}
	trial := runner.calls[1].args
	if !usesCodec(trial, CodecNVENC) || !slices.Contains(trial, "lavfi") || trial[len(trial)-1] != "-" {
		t.Fatalf("trial args = %v", trial)
	}
}

func TestInvokeFallsBackToX264WhenNVENCFails(t *testing.T) {
	runner := &fakeRunner{respond: nvencBroken}
	adapter := NewForTests(Options{VideoCodec: CodecNVENC}, runner)

	if _, err := adapter.Invoke(context.Background(), contentStage(t), "/work/job", nil); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("calls = %d, want nvenc attempt plus retry", len(runner.calls))
	}
	if !usesCodec(runner.calls[0].args, CodecNVENC) || !usesCodec(runner.calls[1].args, CodecX264) {
		t.Fatalf("codecs = %v then %v", runner.calls[0].args, runner.calls[1].args)
	}
	if got := adapter.VideoCodec(); got != CodecX264 {
		t.Fatalf("VideoCodec() = %s, want libx264 after fallback", got)
	}

	// Later stages go straight to libx264.
	if _, err := adapter.Invoke(context.Background(), contentStage(t), "/work/job", nil); err != nil {
		t.Fatalf("second Invoke() error = %v", err)
	}
	if len(runner.calls) != 3 || !usesCodec(runner.calls[2].args, CodecX264) {
		t.Fatalf("calls = %d, last = %v", len(runner.calls), runner.calls[len(runner.calls)-1].args)
	}
}

func TestInvokeX264FailureIsNotRetried(t *testing.T) {
	runner := &fakeRunner{
		result: commandResult{ExitCode: 1, Stderr: "Invalid data found"},
		err:    errors.New("exit status 1"),
	}
	adapter := NewForTests(Options{}, runner)

	if _, err := adapter.Invoke(context.Background(), contentStage(t), "/work/job", nil); err == nil {
		t.Fatal("expected encode error")
	}
	if len(runner.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(runner.calls))
	}
}

type fakeFileInfo struct {
	os.FileInfo
	dir bool
}

func (f fakeFileInfo) IsDir() bool { return f.dir }

func TestLocatorPrefersBundledBinary(t *testing.T) {
	bundled := filepath.Join("/app", "resources", "ffmpeg", "ffmpeg")
	locator := NewLocatorForTests(
		func() (string, error) { return "/app/reels-studio", nil },
		func(name string) (os.FileInfo, error) {
			if name == bundled {
				return fakeFileInfo{}, nil
			}
			return nil, fs.ErrNotExist
		},
		func(string) (string, error) { return "/usr/bin/ffmpeg", nil },
		"linux",
	)

	got, err := locator.Resolve("ffmpeg", "ffmpeg")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != bundled {
		t.Fatalf("Resolve() = %s, want %s", got, bundled)
	}
}

func TestLocatorFallsBackToPATH(t *testing.T) {
	locator := NewLocatorForTests(
		func() (string, error) { return `C:\app\reels.exe`, nil },
		func(string) (os.FileInfo, error) { return nil, fs.ErrNotExist },
		func(name string) (string, error) {
			if name == "ffprobe" {
				return "/usr/bin/ffprobe", nil
			}
			return "", exec.ErrNotFound
		},
		"windows",
	)

	got, err := locator.Resolve("", "ffprobe")
	if err != nil || got != "/usr/bin/ffprobe" {
		t.Fatalf("Resolve() = %s, %v", got, err)
	}
	if _, err := locator.Resolve("missing-tool", "missing-tool"); err == nil {
		t.Fatal("expected not found error")
	}
}

func TestLocatorExplicitPathMustExist(t *testing.T) {
	locator := NewLocatorForTests(
		func() (string, error) { return "/app/bin", nil },
		func(string) (os.FileInfo, error) { return nil, fs.ErrNotExist },
		func(string) (string, error) { return "", exec.ErrNotFound },
		"linux",
	)
	if _, err := locator.Resolve("/opt/ffmpeg/bin/ffmpeg", "ffmpeg"); err == nil {
		t.Fatal("expected missing explicit path error")
	}
}
