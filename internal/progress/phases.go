// Package progress maps a job's scalar progress onto named display phases.
package progress

// Phase is a named segment of overall progress ending at Threshold percent.
type Phase struct {
	Name      string `json:"name"`
	Threshold int    `json:"threshold"`
}

// State is how a phase renders relative to the active one.
type State string

const (
	StateDone    State = "done"
	StateActive  State = "active"
	StatePending State = "pending"
)

// DefaultPhases are the stages of a video translation as shown to the user.
var DefaultPhases = []Phase{
	{Name: "Extracting audio", Threshold: 20},
	{Name: "Transcribing", Threshold: 40},
	{Name: "Translating", Threshold: 60},
	{Name: "Generating speech", Threshold: 80},
	{Name: "Merging with video", Threshold: 100},
}

// ActivePhase returns the index of the first phase whose threshold exceeds
// progress, or the last phase once progress has reached every threshold.
// It returns -1 only when phases is empty.
func ActivePhase(progress int, phases []Phase) int {
	if len(phases) == 0 {
		return -1
	}
	for i, phase := range phases {
		if progress < phase.Threshold {
			return i
		}
	}
	return len(phases) - 1
}

// View is the rendering of all phases for one progress value.
type View struct {
	Progress int
	Active   int
	States   []State
}

// Present resolves the active phase and the state of every phase.
func Present(progress int, phases []Phase) View {
	progress = clamp(progress)
	active := ActivePhase(progress, phases)

	states := make([]State, len(phases))
	for i := range phases {
		switch {
		case i < active:
			states[i] = StateDone
		case i == active:
			states[i] = StateActive
		default:
			states[i] = StatePending
		}
	}

	return View{Progress: progress, Active: active, States: states}
}

// StepName returns the name of the phase active at progress, or "" without phases.
func StepName(progress int, phases []Phase) string {
	i := ActivePhase(clamp(progress), phases)
	if i < 0 {
		return ""
	}
	return phases[i].Name
}

func clamp(progress int) int {
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}
