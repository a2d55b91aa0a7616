package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"reels-studio/internal/domain"
)

// Stage names used in progress events and logs.
const (
	StageContent   = "content"
	StageFace      = "face"
	StageComposite = "composite"
)

// Artifact file names inside a job workspace.
const (
	ContentFile = "content.mp4"
	FaceFile    = "face.mp4"
	OutputFile  = "output.mp4"
)

// Output geometry of the stacked reel.
const (
	FrameWidth    = 1080
	ContentHeight = 1350
	FaceHeight    = 730
)

// EncodeParams is the encoder speed preset and constant rate factor pair.
type EncodeParams struct {
	Preset string
	CRF    int
}

// FilterSpec is handed to the encoder adapter as-is. The pipeline builds it
// but never interprets it.
type FilterSpec struct {
	VideoFilter   string
	FilterComplex string
	Maps          []string
	DropAudio     bool
	AudioCodec    string
	PixelFormat   string
	Encode        EncodeParams
}

// Stage is one encoder invocation within the recipe.
type Stage struct {
	Name string
	// Inputs are workspace-relative artifact names, or absolute paths for
	// files living outside the workspace (the source clip).
	Inputs     []string
	Filter     FilterSpec
	Output     string
	Checkpoint float64
}

// ResolvePath maps a stage path to an absolute location under workDir.
func ResolvePath(workDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workDir, path)
}

// InputPaths returns the stage inputs resolved against workDir.
func (s Stage) InputPaths(workDir string) []string {
	out := make([]string, 0, len(s.Inputs))
	for _, in := range s.Inputs {
		out = append(out, ResolvePath(workDir, in))
	}
	return out
}

// OutputPath returns the stage artifact resolved against workDir.
func (s Stage) OutputPath(workDir string) string {
	return ResolvePath(workDir, s.Output)
}

var qualityTable = map[domain.QualityPreset]EncodeParams{
	domain.QualityLow:    {Preset: "ultrafast", CRF: 28},
	domain.QualityMedium: {Preset: "medium", CRF: 23},
	domain.QualityHigh:   {Preset: "slow", CRF: 18},
}

// EncodeParamsFor maps a quality preset to its encoder parameters.
func EncodeParamsFor(preset domain.QualityPreset) (EncodeParams, error) {
	params, ok := qualityTable[preset]
	if !ok {
		return EncodeParams{}, fmt.Errorf("unknown quality preset %q", preset)
	}
	return params, nil
}

// Recipe is the ordered stage list for one job.
type Recipe struct {
	Quality domain.QualityPreset
	Stages  []Stage
}

// Plan builds the canonical vertical-reels recipe for sourcePath.
func Plan(preset domain.QualityPreset, sourcePath string) (Recipe, error) {
	params, err := EncodeParamsFor(preset)
	if err != nil {
		return Recipe{}, err
	}
	if strings.TrimSpace(sourcePath) == "" || !filepath.IsAbs(sourcePath) {
		return Recipe{}, fmt.Errorf("source path must be absolute, got %q", sourcePath)
	}

	stages := []Stage{
		{
			Name:   StageContent,
			Inputs: []string{sourcePath},
			Filter: FilterSpec{
				VideoFilter: "crop=iw*0.66:ih:0:0",
				DropAudio:   true,
				PixelFormat: "yuv420p",
				Encode:      params,
			},
			Output:     ContentFile,
			Checkpoint: 60,
		},
		{
			Name:   StageFace,
			Inputs: []string{sourcePath},
			Filter: FilterSpec{
				VideoFilter: "crop=iw*0.34:ih/2:iw*0.66:ih/2",
				DropAudio:   true,
				PixelFormat: "yuv420p",
				Encode:      params,
			},
			Output:     FaceFile,
			Checkpoint: 80,
		},
		{
			Name:   StageComposite,
			Inputs: []string{ContentFile, FaceFile, sourcePath},
			Filter: FilterSpec{
				FilterComplex: compositeGraph(),
				// The trailing "?" keeps a silent source from failing the stage.
				Maps:        []string{"[v]", "2:a:0?"},
				AudioCodec:  "aac",
				PixelFormat: "yuv420p",
				Encode:      params,
			},
			Output:     OutputFile,
			Checkpoint: 100,
		},
	}

	return Recipe{Quality: preset, Stages: stages}, nil
}

func compositeGraph() string {
	fit := func(in string, w, h int, out string) string {
		return fmt.Sprintf(
			"[%s]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1[%s]",
			in, w, h, w, h, out,
		)
	}
	return strings.Join([]string{
		fit("0:v", FrameWidth, ContentHeight, "top"),
		fit("1:v", FrameWidth, FaceHeight, "bottom"),
		"[top][bottom]vstack=inputs=2[v]",
	}, ";")
}

// Checkpoints returns the stage-boundary percentages in order.
func (r Recipe) Checkpoints() []float64 {
	out := make([]float64, 0, len(r.Stages))
	for _, s := range r.Stages {
		out = append(out, s.Checkpoint)
	}
	return out
}

// Final returns the last stage, whose artifact is the job result.
func (r Recipe) Final() Stage {
	return r.Stages[len(r.Stages)-1]
}

// StartPercent is the overall progress before stage index runs.
func (r Recipe) StartPercent(index int) float64 {
	if index <= 0 || len(r.Stages) == 0 {
		return 0
	}
	if index > len(r.Stages) {
		index = len(r.Stages)
	}
	return r.Stages[index-1].Checkpoint
}

// PercentWithin interpolates overall progress for a fraction of stage index.
func (r Recipe) PercentWithin(index int, fraction float64) float64 {
	if index < 0 || index >= len(r.Stages) {
		return r.StartPercent(index)
	}
	switch {
	case fraction < 0:
		fraction = 0
	case fraction > 1:
		fraction = 1
	}
	start := r.StartPercent(index)
	return start + (r.Stages[index].Checkpoint-start)*fraction
}
