package scheduler

type PairState string

type PairEvent string

const (
	StateIdle       PairState = "IDLE"
	StateEvaluating PairState = "EVALUATING"
	StateSuspended  PairState = "SUSPENDED"
)

const (
	EventBegin   PairEvent = "BEGIN"
	EventFinish  PairEvent = "FINISH"
	EventSuspend PairEvent = "SUSPEND"
	EventResume  PairEvent = "RESUME"
)

// PairKey identifies one (account, strategy) pair, the unit of serialization
// and fault accounting.
type PairKey struct {
	Account  string
	Strategy string
}

func (k PairKey) String() string {
	return k.Account + ":" + k.Strategy
}

// PairStatus is the externally visible slice of a pair's state, consumed by
// the management layer.
type PairStatus struct {
	State         PairState
	FaultCount    int
	LastFault     string
	SuspendReason string
}
