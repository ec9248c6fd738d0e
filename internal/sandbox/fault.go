package sandbox

import "fmt"

type FaultKind string

const (
	FaultTimeout             FaultKind = "timeout"
	FaultRaised              FaultKind = "raised"
	FaultCapabilityViolation FaultKind = "capability_violation"
)

// Fault is the only way a failed evaluation is reported; nothing a strategy
// does may escape the sandbox boundary as a panic or error.
type Fault struct {
	Kind FaultKind
	Msg  string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("sandbox fault %s: %s", f.Kind, f.Msg)
}

func raised(format string, args ...any) *Fault {
	return &Fault{Kind: FaultRaised, Msg: fmt.Sprintf(format, args...)}
}
