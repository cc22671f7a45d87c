package dialogue

// Phase is the teaching strategy used for the next teacher turn.
type Phase string

const (
	// PhaseOpen asks one or two understanding questions only.
	PhaseOpen Phase = "open"
	// PhaseGuide mixes questions with hints.
	PhaseGuide Phase = "guide"
	// PhaseDirect gives concrete guidance and stops asking open questions.
	PhaseDirect Phase = "direct"
)

// Student turns after which the conversation moves to the next phase.
const (
	guideAfter  = 1
	directAfter = 3
)

// PhaseFor maps the number of student turns so far to a teaching phase.
func PhaseFor(studentTurns int) Phase {
	switch {
	case studentTurns >= directAfter:
		return PhaseDirect
	case studentTurns >= guideAfter:
		return PhaseGuide
	default:
		return PhaseOpen
	}
}

// Rank orders phases from least to most directive.
func (p Phase) Rank() int {
	switch p {
	case PhaseOpen:
		return 0
	case PhaseGuide:
		return 1
	case PhaseDirect:
		return 2
	default:
		return -1
	}
}
