package pipeline

import (
	"errors"
	"fmt"

	"github.com/jackzampolin/imaginize/internal/book"
)

// MissingPrerequisiteError reports a phase started before the phase it
// depends on produced usable output.
type MissingPrerequisiteError struct {
	Phase  book.Phase
	Reason string
	Hint   string
}

func (e *MissingPrerequisiteError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Phase, e.Reason, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Phase, e.Reason)
}

// IsMissingPrerequisite reports whether err wraps a
// MissingPrerequisiteError.
func IsMissingPrerequisite(err error) bool {
	var target *MissingPrerequisiteError
	return errors.As(err, &target)
}
