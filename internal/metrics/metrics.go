package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	Evaluations         Counter
	FaultsTimeout       Counter
	FaultsRaised        Counter
	FaultsCapability    Counter
	ValidationRejected  Counter
	TriggersCoalesced   Counter
	TriggersSuppressed  Counter
	PairsSuspended      Counter
	DecisionsDispatched Counter
	DispatchFailed      Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		Evaluations:         n,
		FaultsTimeout:       n,
		FaultsRaised:        n,
		FaultsCapability:    n,
		ValidationRejected:  n,
		TriggersCoalesced:   n,
		TriggersSuppressed:  n,
		PairsSuspended:      n,
		DecisionsDispatched: n,
		DispatchFailed:      n,
	}
}
