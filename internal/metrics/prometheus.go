package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "program_trader"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	m := &Metrics{
		Evaluations:         promCounter{counter("evaluations_total", "Total number of sandbox evaluations started.")},
		FaultsTimeout:       promCounter{counter("faults_timeout_total", "Total number of evaluations aborted on budget.")},
		FaultsRaised:        promCounter{counter("faults_raised_total", "Total number of evaluations that faulted in the strategy body.")},
		FaultsCapability:    promCounter{counter("faults_capability_total", "Total number of capability violations.")},
		ValidationRejected:  promCounter{counter("decisions_rejected_total", "Total number of decisions rejected by the validator.")},
		TriggersCoalesced:   promCounter{counter("triggers_coalesced_total", "Total number of triggers dropped while a pair was evaluating.")},
		TriggersSuppressed:  promCounter{counter("triggers_suppressed_total", "Total number of triggers dropped for suspended pairs.")},
		PairsSuspended:      promCounter{counter("pairs_suspended_total", "Total number of pair suspensions.")},
		DecisionsDispatched: promCounter{counter("decisions_dispatched_total", "Total number of validated decisions handed to the dispatcher.")},
		DispatchFailed:      promCounter{counter("dispatch_failed_total", "Total number of dispatch failures.")},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
