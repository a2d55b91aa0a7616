package convert

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	outputSuffix   = "_reels"
	outputExt      = ".mp4"
	maxNameAttempt = 1000
)

// fileSystem holds the OS calls the controller makes so tests can fail them.
type fileSystem struct {
	mkdirAll  func(path string, perm os.FileMode) error
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	stat      func(name string) (os.FileInfo, error)
	rename    func(oldpath, newpath string) error
}

func osFileSystem() fileSystem {
	return fileSystem{
		mkdirAll:  os.MkdirAll,
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
		stat:      os.Stat,
		rename:    os.Rename,
	}
}

// createWorkDir makes an exclusive scratch directory for one job.
func (fs fileSystem) createWorkDir(root, jobID string) (string, error) {
	if err := fs.mkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create work root %s: %w", root, err)
	}
	dir, err := fs.mkdirTemp(root, "job-"+shortID(jobID)+"-*")
	if err != nil {
		return "", fmt.Errorf("create job workspace: %w", err)
	}
	return dir, nil
}

// OutputName derives the result file name from the source file name.
func OutputName(inputPath string) string {
	base := filepath.Base(inputPath)
	name := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "video"
	}
	return name + outputSuffix + outputExt
}

// deliver moves the finished artifact to a free name inside outputDir.
func (fs fileSystem) deliver(artifact, outputDir, inputPath string) (string, error) {
	if err := fs.mkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory %s: %w", outputDir, err)
	}

	target, err := reserveOutput(outputDir, OutputName(inputPath))
	if err != nil {
		return "", err
	}
	if err := fs.rename(artifact, target); err == nil {
		return target, nil
	}

	// Rename fails across filesystems; copy into the reserved file instead.
	if err := copyFile(artifact, target); err != nil {
		_ = os.Remove(target)
		return "", fmt.Errorf("deliver output to %s: %w", target, err)
	}
	_ = os.Remove(artifact)
	return target, nil
}

// reserveOutput creates an empty placeholder at the first free name
// (name, name_1, name_2, ...) so concurrent jobs never pick the same file.
func reserveOutput(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < maxNameAttempt; i++ {
		candidate := filepath.Join(dir, name)
		if i > 0 {
			candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		}
		f, err := os.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_ = f.Close()
			return candidate, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("reserve output file: %w", err)
		}
	}
	return "", fmt.Errorf("no free output name for %s in %s", name, dir)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
