package interview

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrInvalidSubmission wraps every metadata validation failure.
var ErrInvalidSubmission = errors.New("interview: invalid submission")

// Submission is one uploaded answer as received from the client. The
// metadata fields are raw form values.
type Submission struct {
	UserID        string
	SessionID     string
	QuestionIndex string
	QuestionText  string

	// Filename is the client-side name of the video, used only for its
	// extension.
	Filename string

	// Video is the uploaded file content.
	Video io.Reader
}

// Validate checks the metadata and returns it in typed form. All problems
// are reported together.
func (s Submission) Validate() (Metadata, error) {
	var errs []error
	meta := Metadata{
		UserID:       strings.TrimSpace(s.UserID),
		SessionID:    strings.TrimSpace(s.SessionID),
		QuestionText: strings.TrimSpace(s.QuestionText),
	}

	if meta.UserID == "" {
		errs = append(errs, errors.New("userId is required"))
	}
	if meta.SessionID == "" {
		errs = append(errs, errors.New("sessionId is required"))
	}
	if idx := strings.TrimSpace(s.QuestionIndex); idx == "" {
		errs = append(errs, errors.New("questionIndex is required"))
	} else if n, err := strconv.Atoi(idx); err != nil || n < 0 {
		errs = append(errs, fmt.Errorf("questionIndex must be a non-negative integer, got %q", idx))
	} else {
		meta.QuestionIndex = n
	}
	if meta.QuestionText == "" {
		errs = append(errs, errors.New("questionText is required"))
	}
	if s.Video == nil {
		errs = append(errs, errors.New("video_file is required"))
	}

	if len(errs) > 0 {
		return Metadata{}, fmt.Errorf("%w: %w", ErrInvalidSubmission, errors.Join(errs...))
	}
	return meta, nil
}
