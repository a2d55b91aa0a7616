package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"reels-studio/internal/logging"
)

// progressRenderer shows one job's progress on the terminal.
type progressRenderer interface {
	Update(stage string, percent float64)
	Finish()
}

func newProgressRenderer(w io.Writer) progressRenderer {
	if isTerminal(w) {
		return newBarRenderer(w)
	}
	return &lineRenderer{w: w, sampler: logging.NewProgressSampler(10)}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

var titleCaser = cases.Title(language.Und)

// stageLabel turns a stage name like "composite" into "Composite".
func stageLabel(stage string) string {
	if stage == "" {
		return ""
	}
	return titleCaser.String(stage)
}

type barRenderer struct {
	w     io.Writer
	bar   *progressbar.ProgressBar
	stage string
}

func newBarRenderer(w io.Writer) *barRenderer {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(32),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetDescription(stageLabel("starting")),
	)
	return &barRenderer{w: w, bar: bar}
}

func (r *barRenderer) Update(stage string, percent float64) {
	if stage != r.stage {
		r.stage = stage
		r.bar.Describe(fmt.Sprintf("%-10s", stageLabel(stage)))
	}
	_ = r.bar.Set(int(percent))
}

func (r *barRenderer) Finish() {
	_ = r.bar.Finish()
	fmt.Fprintln(r.w)
}

// lineRenderer prints sampled progress lines for logs and pipes.
type lineRenderer struct {
	w       io.Writer
	sampler *logging.ProgressSampler
}

func (r *lineRenderer) Update(stage string, percent float64) {
	if !r.sampler.ShouldLog(percent, stage) {
		return
	}
	fmt.Fprintf(r.w, "%-10s %3.0f%%\n", stageLabel(stage), percent)
}

func (r *lineRenderer) Finish() {}
