package pipeline

// State is the stage an iteration is in. Every iteration starts at
// StateLoadFrame and, when it completes, passes through StateEmit back to
// StateIdle.
type State int

const (
	StateIdle State = iota
	StateLoadFrame
	StateCorrect
	StateBackground
	StateSubtractDenoise
	StateSegment
	StateBoxExtract
	StateAngle
	StateEmit
)

var stateNames = [...]string{
	StateIdle:            "idle",
	StateLoadFrame:       "load_frame",
	StateCorrect:         "correct",
	StateBackground:      "background",
	StateSubtractDenoise: "subtract_denoise",
	StateSegment:         "segment",
	StateBoxExtract:      "box_extract",
	StateAngle:           "angle",
	StateEmit:            "emit",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
