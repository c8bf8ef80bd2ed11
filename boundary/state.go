package boundary

import "fmt"

// StateKind is the readiness of a Detector.
type StateKind int

const (
	Uninitialized StateKind = iota
	Ready
	Failed
)

func (k StateKind) String() string {
	switch k {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("StateKind(%d)", int(k))
}

// ModelHandle identifies the configured model. Loading happens per task.
type ModelHandle struct {
	ModelPath string
}

// State is a tagged readiness value: Handle is set only when Kind is Ready and
// Reason only when Kind is Failed.
type State struct {
	Kind   StateKind
	Handle *ModelHandle
	Reason error
}

func readyState(path string) State {
	return State{Kind: Ready, Handle: &ModelHandle{ModelPath: path}}
}

func failedState(reason error) State {
	return State{Kind: Failed, Reason: reason}
}

func (s State) String() string {
	switch s.Kind {
	case Ready:
		return "ready(" + s.Handle.ModelPath + ")"
	case Failed:
		return "failed(" + s.Reason.Error() + ")"
	}
	return s.Kind.String()
}
