package book

// Phase identifies one stage of the illustration pipeline.
type Phase string

const (
	PhaseAnalyze    Phase = "analyze"
	PhaseExtract    Phase = "extract"
	PhaseIllustrate Phase = "illustrate"
)

// Phases lists the pipeline phases in execution order.
func Phases() []Phase {
	return []Phase{PhaseAnalyze, PhaseExtract, PhaseIllustrate}
}

// ParsePhase converts a string to a Phase. Returns ok=false for anything
// that is not a known phase name.
func ParsePhase(s string) (Phase, bool) {
	switch Phase(s) {
	case PhaseAnalyze, PhaseExtract, PhaseIllustrate:
		return Phase(s), true
	default:
		return "", false
	}
}

// Status is the lifecycle state of a phase, chapter, or scene.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
