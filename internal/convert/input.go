package convert

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// sniffFunc reports the detected MIME type of a file.
type sniffFunc func(path string) (string, error)

func sniffMIME(path string) (string, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return mtype.String(), nil
}

// checkInput validates that path exists, is a regular non-empty file and
// looks like a video container.
func (c *Controller) checkInput(jobID, path string) *ConversionError {
	info, err := c.fs.stat(path)
	if err != nil {
		return &ConversionError{
			Kind:    KindInputNotFound,
			JobID:   jobID,
			Message: fmt.Sprintf("cannot access input video: %s", path),
			Err:     err,
		}
	}
	if info.IsDir() || info.Size() == 0 {
		return &ConversionError{
			Kind:    KindInputNotFound,
			JobID:   jobID,
			Message: fmt.Sprintf("input is not a readable video file: %s", path),
		}
	}

	if c.sniff == nil {
		return nil
	}
	mtype, err := c.sniff(path)
	if err != nil {
		return &ConversionError{
			Kind:    KindInputNotFound,
			JobID:   jobID,
			Message: fmt.Sprintf("cannot read input video: %s", path),
			Err:     err,
		}
	}
	if !strings.HasPrefix(mtype, "video/") {
		return &ConversionError{
			Kind:    KindUnsupportedInput,
			JobID:   jobID,
			Message: fmt.Sprintf("input is %s, not a video", mtype),
		}
	}
	return nil
}
