package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"program-trader/internal/audit"
	"program-trader/internal/decision"
	"program-trader/internal/market"
	"program-trader/internal/metrics"
	"program-trader/internal/sandbox"
	"program-trader/internal/state"

	"go.uber.org/zap"
)

var (
	ErrUnknownPair   = errors.New("pair is not registered")
	ErrNotSuspended  = errors.New("pair is not suspended")
	ErrPairSuspended = errors.New("pair is suspended")
	ErrCoalesced     = errors.New("trigger coalesced while pair evaluating")
)

const capabilityFaultWeight = 2

type Config struct {
	Workers          int
	QueueSize        int
	SuspendThreshold int
	PollInterval     time.Duration
	Budget           sandbox.Budget
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.SuspendThreshold <= 0 {
		c.SuspendThreshold = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	return c
}

// Binding attaches one strategy to one account: its compiled program, the
// signal pools that may trigger it, and an optional fixed interval.
type Binding struct {
	Account  string
	Strategy string
	Program  sandbox.Strategy
	Pools    []string
	Interval time.Duration
}

// Dispatcher receives every resolved trigger outcome. Hold decisions are
// resolved locally by the implementation.
type Dispatcher interface {
	Dispatch(ctx context.Context, account, invocationID string, dec decision.Decision) (string, error)
}

type Alerter interface {
	Send(ctx context.Context, message string) error
}

type pairEntry struct {
	binding Binding
	machine *pairMachine

	mu            sync.Mutex
	faults        int
	lastFault     string
	suspendReason string
}

type job struct {
	key     PairKey
	trigger market.Trigger
}

// Scheduler decides when strategies run and serializes evaluations per pair.
// Sandbox and validation faults stop here: every trigger that reaches a
// worker resolves to either a validated decision or a synthesized hold.
type Scheduler struct {
	cfg        Config
	builder    *market.Builder
	source     market.Source
	store      state.Store
	dispatcher Dispatcher
	audit      *audit.Writer
	metrics    *metrics.Metrics
	alerts     Alerter
	log        *zap.Logger

	mu       sync.Mutex
	pairs    map[PairKey]*pairEntry
	pools    map[string]Pool
	lastPool map[string]bool

	jobs chan job
	wg   sync.WaitGroup
}

func New(cfg Config, builder *market.Builder, source market.Source, store state.Store, dispatcher Dispatcher, auditWriter *audit.Writer, m *metrics.Metrics, alerts Alerter, log *zap.Logger) *Scheduler {
	cfg = cfg.withDefaults()
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Scheduler{
		cfg:        cfg,
		builder:    builder,
		source:     source,
		store:      store,
		dispatcher: dispatcher,
		audit:      auditWriter,
		metrics:    m,
		alerts:     alerts,
		log:        log,
		pairs:      make(map[PairKey]*pairEntry),
		pools:      make(map[string]Pool),
		lastPool:   make(map[string]bool),
		jobs:       make(chan job, cfg.QueueSize),
	}
}

// Register adds a pair and restores its persisted fault state, so a strategy
// suspended before a restart stays suspended after it.
func (s *Scheduler) Register(ctx context.Context, binding Binding) error {
	if binding.Account == "" || binding.Strategy == "" {
		return errors.New("binding account and strategy are required")
	}
	if binding.Program == nil {
		return errors.New("binding program is required")
	}
	key := PairKey{Account: binding.Account, Strategy: binding.Strategy}
	entry := &pairEntry{binding: binding, machine: newPairMachine()}
	if snapshot, ok, err := state.LoadPairSnapshot(ctx, s.store, binding.Account, binding.Strategy); err != nil {
		return err
	} else if ok {
		entry.faults = snapshot.FaultCount
		entry.lastFault = snapshot.LastFault
		entry.suspendReason = snapshot.SuspendReason
		if snapshot.Suspended {
			entry.machine.Apply(EventSuspend)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pairs[key]; exists {
		return fmt.Errorf("pair %s already registered", key)
	}
	s.pairs[key] = entry
	return nil
}

func (s *Scheduler) RegisterPool(pool Pool) error {
	if pool.Name == "" {
		return errors.New("pool name is required")
	}
	if pool.Logic != market.PoolAnd && pool.Logic != market.PoolOr {
		return fmt.Errorf("pool %s: logic must be AND or OR", pool.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[pool.Name] = pool
	return nil
}

// Start launches the worker pool, one interval ticker per interval-bound
// pair, and the signal-pool poll loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.mu.Lock()
	for key, entry := range s.pairs {
		if entry.binding.Interval > 0 {
			s.wg.Add(1)
			go s.intervalLoop(ctx, key, entry.binding.Interval)
		}
	}
	s.mu.Unlock()
	s.wg.Add(1)
	go s.pollLoop(ctx)
}

// Wait blocks until Start's goroutines observe context cancellation.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.jobs:
			s.evaluate(ctx, j)
		}
	}
}

func (s *Scheduler) intervalLoop(ctx context.Context, key PairKey, interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			trigger := market.Trigger{
				Account:  key.Account,
				Strategy: key.Strategy,
				Type:     market.TriggerScheduled,
			}
			if err := s.Fire(trigger); err != nil && s.log != nil {
				s.log.Debug("interval trigger dropped", zap.String("pair", key.String()), zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.PollPools()
		}
	}
}

// PollPools evaluates every registered pool against the live metrics and
// fires signal triggers on satisfaction edges: a pool that stays satisfied
// across polls fires once, not every tick.
func (s *Scheduler) PollPools() {
	s.mu.Lock()
	pools := make([]Pool, 0, len(s.pools))
	for _, pool := range s.pools {
		pools = append(pools, pool)
	}
	s.mu.Unlock()

	for _, pool := range pools {
		for _, symbol := range pool.Symbols {
			satisfied, signals := pool.Evaluate(s.source, symbol)
			edgeKey := pool.Name + "|" + symbol
			s.mu.Lock()
			wasSatisfied := s.lastPool[edgeKey]
			s.lastPool[edgeKey] = satisfied
			s.mu.Unlock()
			if !satisfied || wasSatisfied {
				continue
			}
			s.firePool(pool, symbol, signals)
		}
	}
}

func (s *Scheduler) firePool(pool Pool, symbol string, signals []market.Signal) {
	s.mu.Lock()
	var targets []PairKey
	for key, entry := range s.pairs {
		for _, name := range entry.binding.Pools {
			if name == pool.Name {
				targets = append(targets, key)
				break
			}
		}
	}
	s.mu.Unlock()
	for _, key := range targets {
		trigger := market.Trigger{
			Account:          key.Account,
			Strategy:         key.Strategy,
			Type:             market.TriggerSignal,
			Symbol:           symbol,
			PoolName:         pool.Name,
			PoolLogic:        pool.Logic,
			TriggeredSignals: signals,
			RegimePeriod:     pool.RegimePeriod,
		}
		if err := s.Fire(trigger); err != nil && s.log != nil {
			s.log.Debug("signal trigger dropped", zap.String("pair", key.String()), zap.Error(err))
		}
	}
}

// Fire admits one trigger. While a pair is evaluating, further triggers for
// it are coalesced (dropped, never queued); suspended pairs drop triggers
// until manually resumed.
func (s *Scheduler) Fire(trigger market.Trigger) error {
	key := PairKey{Account: trigger.Account, Strategy: trigger.Strategy}
	s.mu.Lock()
	entry, ok := s.pairs[key]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownPair
	}
	current, began := entry.machine.TryBegin()
	if !began {
		if current == StateSuspended {
			s.metrics.TriggersSuppressed.Inc()
			return ErrPairSuspended
		}
		s.metrics.TriggersCoalesced.Inc()
		return ErrCoalesced
	}
	select {
	case s.jobs <- job{key: key, trigger: trigger}:
		return nil
	default:
		entry.machine.Apply(EventFinish)
		s.metrics.TriggersCoalesced.Inc()
		return ErrCoalesced
	}
}

func (s *Scheduler) evaluate(ctx context.Context, j job) {
	s.mu.Lock()
	entry, ok := s.pairs[j.key]
	s.mu.Unlock()
	if !ok {
		return
	}

	snapshot, err := s.builder.Build(ctx, j.trigger)
	if err != nil {
		if s.log != nil {
			s.log.Warn("snapshot build failed", zap.String("pair", j.key.String()), zap.Error(err))
		}
		entry.machine.Apply(EventFinish)
		return
	}

	s.metrics.Evaluations.Inc()
	result := sandbox.Evaluate(ctx, entry.binding.Program, snapshot, s.cfg.Budget, s.log)

	// Shutdown racing an in-flight evaluation is not a tenant fault: the pair's
	// fault count must not move, or repeated restarts would suspend a healthy
	// strategy.
	if result.Cancelled {
		if s.log != nil {
			s.log.Debug("evaluation cancelled", zap.String("pair", j.key.String()))
		}
		if entry.machine.State() == StateEvaluating {
			entry.machine.Apply(EventFinish)
		}
		return
	}

	row := audit.Evaluation{
		Time:         time.Now().UTC(),
		InvocationID: result.InvocationID,
		Account:      j.key.Account,
		Strategy:     j.key.Strategy,
		TriggerType:  string(j.trigger.Type),
		Symbol:       j.trigger.Symbol,
		PoolName:     j.trigger.PoolName,
		StepsUsed:    result.StepsUsed,
		ElapsedMS:    float64(result.Elapsed.Microseconds()) / 1000,
	}

	resolved, faultMsg, weight := s.resolve(snapshot, result)
	row.Operation = string(resolved.Operation)
	row.Reason = resolved.Reason
	row.Fault = faultMsg

	if faultMsg == "" {
		s.clearFaults(ctx, j.key, entry)
	} else {
		s.recordFault(ctx, j.key, entry, faultMsg, weight)
	}

	if !resolved.IsHold() && s.dispatcher != nil {
		if _, err := s.dispatcher.Dispatch(ctx, j.key.Account, result.InvocationID, resolved); err != nil {
			s.metrics.DispatchFailed.Inc()
			if s.log != nil {
				s.log.Error("dispatch failed", zap.String("pair", j.key.String()), zap.Error(err))
			}
		} else {
			s.metrics.DecisionsDispatched.Inc()
			row.Dispatched = true
		}
	}

	s.audit.EnqueueEvaluation(row)
	s.audit.EnqueueLogs(result.InvocationID, row.Time, result.Logs)

	if entry.machine.State() == StateEvaluating {
		entry.machine.Apply(EventFinish)
	}
}

// resolve turns a sandbox result into the decision that will represent this
// trigger: the validated output, or a synthesized hold carrying the fault.
func (s *Scheduler) resolve(snapshot *market.Context, result sandbox.Result) (decision.Decision, string, int) {
	if result.Fault != nil {
		weight := 1
		switch result.Fault.Kind {
		case sandbox.FaultTimeout:
			s.metrics.FaultsTimeout.Inc()
		case sandbox.FaultCapabilityViolation:
			s.metrics.FaultsCapability.Inc()
			weight = capabilityFaultWeight
		default:
			s.metrics.FaultsRaised.Inc()
		}
		msg := result.Fault.Error()
		return decision.Hold(snapshot.TriggerSymbol, msg), msg, weight
	}

	closeSide := market.PositionSide("")
	if pos, ok := snapshot.Position(result.Raw.Symbol); ok {
		closeSide = pos.Side
	}
	validated, fault := decision.Validate(result.Raw, closeSide)
	if fault != nil {
		s.metrics.ValidationRejected.Inc()
		msg := fault.Error()
		return decision.Hold(snapshot.TriggerSymbol, msg), msg, 1
	}
	return validated, "", 0
}

func (s *Scheduler) clearFaults(ctx context.Context, key PairKey, entry *pairEntry) {
	entry.mu.Lock()
	changed := entry.faults != 0
	entry.faults = 0
	entry.lastFault = ""
	entry.mu.Unlock()
	if changed {
		s.persistPair(ctx, key, entry)
	}
}

// recordFault counts one fault against the pair, suspending it once the
// consecutive-fault threshold is crossed. Capability violations weigh double.
func (s *Scheduler) recordFault(ctx context.Context, key PairKey, entry *pairEntry, msg string, weight int) {
	entry.mu.Lock()
	entry.faults += weight
	entry.lastFault = msg
	faults := entry.faults
	suspend := faults >= s.cfg.SuspendThreshold
	if suspend {
		entry.suspendReason = fmt.Sprintf("%d consecutive faults, last: %s", faults, msg)
	}
	reason := entry.suspendReason
	entry.mu.Unlock()

	if s.log != nil {
		s.log.Warn("evaluation fault recorded",
			zap.String("pair", key.String()),
			zap.String("fault", msg),
			zap.Int("fault_count", faults),
		)
	}
	if suspend {
		entry.machine.Apply(EventSuspend)
		s.metrics.PairsSuspended.Inc()
		if s.log != nil {
			s.log.Error("pair suspended", zap.String("pair", key.String()), zap.String("reason", reason))
		}
		if s.alerts != nil {
			message := fmt.Sprintf("Strategy %s suspended for account %s: %s", key.Strategy, key.Account, reason)
			if err := s.alerts.Send(ctx, message); err != nil && s.log != nil {
				s.log.Warn("suspension alert failed", zap.Error(err))
			}
		}
	}
	s.persistPair(ctx, key, entry)
}

func (s *Scheduler) persistPair(ctx context.Context, key PairKey, entry *pairEntry) {
	entry.mu.Lock()
	snapshot := state.PairSnapshot{
		Account:       key.Account,
		Strategy:      key.Strategy,
		FaultCount:    entry.faults,
		Suspended:     entry.machine.State() == StateSuspended,
		SuspendReason: entry.suspendReason,
		LastFault:     entry.lastFault,
		UpdatedAtMS:   time.Now().UnixMilli(),
	}
	entry.mu.Unlock()
	if err := state.SavePairSnapshot(ctx, s.store, snapshot); err != nil && s.log != nil {
		s.log.Warn("pair state persist failed", zap.String("pair", key.String()), zap.Error(err))
	}
}

// Resume is the manual reactivation path for a suspended pair.
func (s *Scheduler) Resume(ctx context.Context, account, strategy string) error {
	key := PairKey{Account: account, Strategy: strategy}
	s.mu.Lock()
	entry, ok := s.pairs[key]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownPair
	}
	if entry.machine.State() != StateSuspended {
		return ErrNotSuspended
	}
	entry.mu.Lock()
	entry.faults = 0
	entry.lastFault = ""
	entry.suspendReason = ""
	entry.mu.Unlock()
	entry.machine.Apply(EventResume)
	s.persistPair(ctx, key, entry)
	if s.log != nil {
		s.log.Info("pair resumed", zap.String("pair", key.String()))
	}
	return nil
}

// Status exposes the pair's state, fault count and suspension reason for the
// management layer.
func (s *Scheduler) Status(account, strategy string) (PairStatus, bool) {
	key := PairKey{Account: account, Strategy: strategy}
	s.mu.Lock()
	entry, ok := s.pairs[key]
	s.mu.Unlock()
	if !ok {
		return PairStatus{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return PairStatus{
		State:         entry.machine.State(),
		FaultCount:    entry.faults,
		LastFault:     entry.lastFault,
		SuspendReason: entry.suspendReason,
	}, true
}
