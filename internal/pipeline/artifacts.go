package pipeline

import (
	"fmt"
	"os"
)

// ArtifactError reports a stage input or output that is missing or empty.
type ArtifactError struct {
	Stage string
	Path  string
	Empty bool
	Err   error
}

func (e *ArtifactError) Error() string {
	if e.Empty {
		return fmt.Sprintf("stage %s: artifact is empty: %s", e.Stage, e.Path)
	}
	return fmt.Sprintf("stage %s: artifact missing: %s", e.Stage, e.Path)
}

func (e *ArtifactError) Unwrap() error {
	return e.Err
}

// StatFunc matches os.Stat so tests can inject a fake filesystem.
type StatFunc func(name string) (os.FileInfo, error)

// CheckInputs verifies every stage input exists and is non-empty.
func CheckInputs(stage Stage, workDir string, stat StatFunc) error {
	for _, path := range stage.InputPaths(workDir) {
		if err := checkFile(stage.Name, path, stat); err != nil {
			return err
		}
	}
	return nil
}

// CheckOutput verifies the stage wrote a non-empty artifact.
func CheckOutput(stage Stage, workDir string, stat StatFunc) error {
	return checkFile(stage.Name, stage.OutputPath(workDir), stat)
}

func checkFile(stage, path string, stat StatFunc) error {
	if stat == nil {
		stat = os.Stat
	}
	info, err := stat(path)
	if err != nil {
		return &ArtifactError{Stage: stage, Path: path, Err: err}
	}
	if info.IsDir() {
		return &ArtifactError{Stage: stage, Path: path, Err: fmt.Errorf("is a directory")}
	}
	if info.Size() == 0 {
		return &ArtifactError{Stage: stage, Path: path, Empty: true}
	}
	return nil
}
