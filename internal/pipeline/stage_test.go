package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reels-studio/internal/domain"
)

func TestPlanCheckpointsStrictlyIncreaseToHundred(t *testing.T) {
	for _, preset := range domain.QualityPresets {
		recipe, err := Plan(preset, "/videos/sample.mp4")
		if err != nil {
			t.Fatalf("Plan(%s) error = %v", preset, err)
		}
		checkpoints := recipe.Checkpoints()
		if len(checkpoints) == 0 {
			t.Fatalf("Plan(%s) produced no stages", preset)
		}
		prev := 0.0
		for i, cp := range checkpoints {
			if cp <= prev {
				t.Fatalf("%s checkpoint[%d] = %v not above %v", preset, i, cp, prev)
			}
			prev = cp
		}
		if prev != 100 {
			t.Fatalf("%s last checkpoint = %v, want 100", preset, prev)
		}
	}
}

func TestPlanStageOrderAndArtifacts(t *testing.T) {
	recipe, err := Plan(domain.QualityMedium, "/videos/sample.mp4")
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	names := []string{}
	for _, s := range recipe.Stages {
		names = append(names, s.Name)
	}
	if got := strings.Join(names, ","); got != "content,face,composite" {
		t.Fatalf("stage order = %s", got)
	}

	final := recipe.Final()
	if final.Output != OutputFile {
		t.Fatalf("final output = %s, want %s", final.Output, OutputFile)
	}
	if final.Inputs[0] != ContentFile || final.Inputs[1] != FaceFile {
		t.Fatalf("composite must consume earlier artifacts, got %v", final.Inputs)
	}
	if !strings.Contains(final.Filter.FilterComplex, "vstack") {
		t.Fatalf("composite graph missing vstack: %s", final.Filter.FilterComplex)
	}
	if !strings.Contains(final.Filter.FilterComplex, "scale=1080:1350") ||
		!strings.Contains(final.Filter.FilterComplex, "scale=1080:730") {
		t.Fatalf("composite graph geometry: %s", final.Filter.FilterComplex)
	}
	if final.Filter.Maps[1] != "2:a:0?" {
		t.Fatalf("audio map must be optional, got %v", final.Filter.Maps)
	}
	if final.Filter.Encode != (EncodeParams{Preset: "medium", CRF: 23}) {
		t.Fatalf("encode params = %+v", final.Filter.Encode)
	}
}

func TestEncodeParamsForPresets(t *testing.T) {
	cases := map[domain.QualityPreset]EncodeParams{
		domain.QualityLow:    {Preset: "ultrafast", CRF: 28},
		domain.QualityMedium: {Preset: "medium", CRF: 23},
		domain.QualityHigh:   {Preset: "slow", CRF: 18},
	}
	for preset, want := range cases {
		got, err := EncodeParamsFor(preset)
		if err != nil {
			t.Fatalf("EncodeParamsFor(%s) error = %v", preset, err)
		}
		if got != want {
			t.Fatalf("EncodeParamsFor(%s) = %+v, want %+v", preset, got, want)
		}
	}
	if _, err := EncodeParamsFor("ultra"); err == nil {
		t.Fatal("expected unknown preset error")
	}
}

func TestPlanRejectsRelativeSource(t *testing.T) {
	if _, err := Plan(domain.QualityLow, "sample.mp4"); err == nil {
		t.Fatal("expected relative path rejection")
	}
}

func TestPercentWithinInterpolates(t *testing.T) {
	recipe, err := Plan(domain.QualityLow, "/videos/sample.mp4")
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	if got := recipe.PercentWithin(0, 0.5); got != 30 {
		t.Fatalf("PercentWithin(0, .5) = %v, want 30", got)
	}
	if got := recipe.PercentWithin(1, 0.5); got != 70 {
		t.Fatalf("PercentWithin(1, .5) = %v, want 70", got)
	}
	if got := recipe.PercentWithin(2, 2); got != 100 {
		t.Fatalf("PercentWithin clamps fraction, got %v", got)
	}
	if got := recipe.StartPercent(2); got != 80 {
		t.Fatalf("StartPercent(2) = %v, want 80", got)
	}
}

func TestCheckOutputReportsMissingAndEmpty(t *testing.T) {
	workDir := t.TempDir()
	stage := Stage{Name: StageFace, Output: FaceFile}

	err := CheckOutput(stage, workDir, os.Stat)
	var artifactErr *ArtifactError
	if !errors.As(err, &artifactErr) || artifactErr.Empty {
		t.Fatalf("missing output error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(workDir, FaceFile), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	err = CheckOutput(stage, workDir, os.Stat)
	if !errors.As(err, &artifactErr) || !artifactErr.Empty {
		t.Fatalf("empty output error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(workDir, FaceFile), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := CheckOutput(stage, workDir, os.Stat); err != nil {
		t.Fatalf("CheckOutput() error = %v", err)
	}
}

func TestCheckInputsResolvesAbsoluteAndRelative(t *testing.T) {
	workDir := t.TempDir()
	source := filepath.Join(t.TempDir(), "source.mp4")
	if err := os.WriteFile(source, []byte("src"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	stage := Stage{Name: StageComposite, Inputs: []string{ContentFile, source}}

	if err := CheckInputs(stage, workDir, os.Stat); err == nil {
		t.Fatal("expected missing content artifact")
	}
	if err := os.WriteFile(filepath.Join(workDir, ContentFile), []byte("c"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := CheckInputs(stage, workDir, os.Stat); err != nil {
		t.Fatalf("CheckInputs() error = %v", err)
	}
}
