package adapter

import "fmt"

// State is where a file is in its upload lifecycle.
type State int

const (
	Queued State = iota
	RejectedBySize
	Signing
	Signed
	Uploading
	Uploaded
	SigningFailed
	Failed
	RejectedByType
)

var stateNames = map[State]string{
	Queued:         "queued",
	RejectedBySize: "rejected-by-size",
	Signing:        "signing",
	Signed:         "signed",
	Uploading:      "uploading",
	Uploaded:       "uploaded",
	SigningFailed:  "signing-failed",
	Failed:         "failed",
	RejectedByType: "rejected-by-type",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText lets states appear by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case RejectedBySize, RejectedByType, Uploaded, SigningFailed, Failed:
		return true
	}
	return false
}

// transitions lists the allowed next states. A stopped queue sends a file
// back to Signing on its next run.
var transitions = map[State][]State{
	Queued:    {RejectedBySize, RejectedByType, Signing},
	Signing:   {Signed, SigningFailed, Queued},
	Signed:    {Uploading, Uploaded, Failed, Signing},
	Uploading: {Uploading, Uploaded, Failed, Signing},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
