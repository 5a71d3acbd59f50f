// Package aggregator implements the Regional Aggregator: a round-based
// state machine that collects edge updates under a quorum-and-deadline
// rule and computes a weighted aggregate under one of several
// strategies.
//
// Grounded on original_source/fog_node/aggregator.py, cross-checked
// against the Go-idiom reference
// _examples/other_examples/7cfe280d_fedai-oss-fl-go__pkg-aggregator-aggregator.go.go
// for how a round-coordination poll loop becomes a goroutine + ticker +
// cancellation in Go instead of an asyncio task.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/haroune-bellatreche/fog-compute/internal/model"
)

// State is the round state machine's current phase.
type State int

const (
	Idle State = iota
	Collecting
	Aggregating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Collecting:
		return "collecting"
	case Aggregating:
		return "aggregating"
	default:
		return "unknown"
	}
}

const (
	// DefaultMaxWaitTime is the round deadline when none is configured.
	DefaultMaxWaitTime = 120 * time.Second
	// pollInterval is the coordination goroutine's deadline-watcher
	// polling boundary; cancellation is observed here at the latest.
	pollInterval = 1 * time.Second
	// fedProxMu is the default proximal-term weight for FEDPROX.
	fedProxMu = 0.1
	// adaptiveSampleThreshold is the minimum total admitted samples
	// required before the ADAPTIVE strategy's early trigger can fire.
	adaptiveSampleThreshold = 100
	// adaptiveLossVarianceThreshold is the convergence bar for the
	// ADAPTIVE strategy's early trigger.
	adaptiveLossVarianceThreshold = 0.1
)

// ResultCallback is invoked once per non-empty round. Invoked on the
// aggregator's own coordination goroutine; implementations must not
// block for long or call back into the aggregator.
type ResultCallback func(model.AggregationResult)

// Stats is a point-in-time snapshot of aggregator counters.
type Stats struct {
	RoundsCompleted   int
	CurrentRound      int
	AvgClientsPerRound float64
	AvgSamplesPerRound float64
	AvgLoss            float64
	LastResultAt       time.Time
	HasLastResult      bool
}

// Aggregator is the Regional Aggregator component. A single mutex
// guards all mutable state; the coordination goroutine and callers of
// AddEdgeUpdate/StartRound serialize through it.
type Aggregator struct {
	log          *zap.Logger
	fogNodeID    string
	strategy     model.Strategy
	minClients   int
	maxWaitTime  time.Duration
	onResult     ResultCallback

	mu             sync.Mutex
	state          State
	currentRound   int
	roundStartTime time.Time
	pending        []model.EdgeUpdate
	history        []model.AggregationResult // unbounded in memory; stats only fold the last 10
	cancelRound    context.CancelFunc
	roundDone      chan struct{}
}

// Config bundles the aggregator's construction parameters.
type Config struct {
	FogNodeID   string
	Strategy    model.Strategy
	MinClients  int
	MaxWaitTime time.Duration
	OnResult    ResultCallback
}

// New constructs an Aggregator in the Idle state.
func New(log *zap.Logger, cfg Config) *Aggregator {
	maxWait := cfg.MaxWaitTime
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	minClients := cfg.MinClients
	if minClients <= 0 {
		minClients = 3
	}
	return &Aggregator{
		log:         log,
		fogNodeID:   cfg.FogNodeID,
		strategy:    cfg.Strategy,
		minClients:  minClients,
		maxWaitTime: maxWait,
		onResult:    cfg.OnResult,
		state:       Idle,
	}
}

// State returns the current round state machine phase.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// PendingCount returns the number of updates admitted so far this round.
func (a *Aggregator) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// StartRound begins a new round: increments the round counter, clears
// pending updates, and starts the quorum-or-deadline coordination
// goroutine. If a round is already in progress, this is a no-op (the
// source logs a warning and returns; same behavior here).
func (a *Aggregator) StartRound(ctx context.Context) {
	a.mu.Lock()
	if a.state != Idle {
		a.log.Warn("aggregation round already in progress", zap.Int("round", a.currentRound))
		a.mu.Unlock()
		return
	}

	a.currentRound++
	a.roundStartTime = time.Now()
	a.pending = nil
	a.state = Collecting
	round := a.currentRound

	roundCtx, cancel := context.WithCancel(ctx)
	a.cancelRound = cancel
	done := make(chan struct{})
	a.roundDone = done
	a.mu.Unlock()

	a.log.Info("started aggregation round", zap.Int("round", round))
	go a.coordinate(roundCtx, done, round)
}

// coordinate watches for quorum-or-deadline completion at a 1s polling
// boundary, then performs aggregation (or logs an empty round) and
// returns to Idle.
func (a *Aggregator) coordinate(ctx context.Context, done chan struct{}, round int) {
	defer close(done)
	deadline := a.roundDeadlineLocked()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if a.quorumReached() {
			break
		}
		if time.Now().After(deadline) {
			break
		}
	}

	a.finishRound(round)
}

func (a *Aggregator) roundDeadlineLocked() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.roundStartTime.Add(a.maxWaitTime)
}

// quorumReached evaluates rule (1) of the quorum-or-deadline contract:
// |pending| >= min_clients AND the strategy-specific early-trigger
// predicate holds.
func (a *Aggregator) quorumReached() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.pending) < a.minClients {
		return false
	}
	if a.strategy != model.StrategyAdaptive {
		return true
	}
	return a.adaptiveTriggerLocked()
}

// adaptiveTriggerLocked requires sum(sample_count) >= 100 AND
// (variance(loss) < 0.1 OR |pending| >= 2*min_clients). Caller holds
// a.mu.
func (a *Aggregator) adaptiveTriggerLocked() bool {
	if len(a.pending) == 0 {
		return false
	}
	totalSamples := 0
	losses := make([]float64, 0, len(a.pending))
	for _, u := range a.pending {
		totalSamples += u.SampleCount
		losses = append(losses, u.TrainingLoss)
	}
	if totalSamples < adaptiveSampleThreshold {
		return false
	}
	variance := sampleVariance(losses)
	return variance < adaptiveLossVarianceThreshold || len(a.pending) >= 2*a.minClients
}

func sampleVariance(xs []float64) float64 {
	if len(xs) <= 1 {
		return 1.0 // matches original_source: np.var of a single-element list is 0,
		// but the original guards len(losses) > 1 and falls back to 1.0 otherwise.
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return sumSq / float64(len(xs))
}

// finishRound performs aggregation if there are any pending updates,
// invokes the result callback, and returns the state machine to Idle.
// An empty round at the deadline emits nothing but still advances
// current_round (rounds_completed does not increment).
func (a *Aggregator) finishRound(round int) {
	a.mu.Lock()
	a.state = Aggregating
	pending := append([]model.EdgeUpdate(nil), a.pending...)
	a.mu.Unlock()

	if len(pending) == 0 {
		a.log.Warn("no updates received for round, emitting nothing", zap.Int("round", round))
		a.mu.Lock()
		a.state = Idle
		a.mu.Unlock()
		return
	}

	result, err := a.aggregate(pending, round)
	if err != nil {
		a.log.Error("aggregation aborted", zap.Int("round", round), zap.Error(err))
		a.mu.Lock()
		a.state = Idle
		a.mu.Unlock()
		return
	}

	a.mu.Lock()
	a.history = append(a.history, result)
	a.state = Idle
	a.mu.Unlock()

	a.log.Info("aggregation round completed",
		zap.Int("round", round),
		zap.Int("clients", len(result.ParticipatingClients)),
		zap.Int("samples", result.TotalSamples),
		zap.Float64("avg_loss", result.AverageLoss),
	)

	if a.onResult != nil {
		a.onResult(result.Clone())
	}
}

// AddEdgeUpdate validates and admits update into the active round.
// Returns a non-empty model.RejectReason describing why the update was
// refused, or "" on success.
func (a *Aggregator) AddEdgeUpdate(update model.EdgeUpdate) model.RejectReason {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != Collecting {
		return model.RejectNoActiveRound
	}
	if update.Timestamp.Before(a.roundStartTime) {
		return model.RejectTimestampBeforeRound
	}
	if len(update.ModelWeights) == 0 {
		return model.RejectBadWeights
	}
	if update.SampleCount <= 0 {
		return model.RejectNonPositiveSamples
	}
	for _, u := range a.pending {
		if u.ClientID == update.ClientID {
			return model.RejectDuplicateClient
		}
	}

	a.pending = append(a.pending, update)
	a.log.Debug("admitted edge update",
		zap.String("client_id", update.ClientID),
		zap.Int("pending", len(a.pending)),
	)
	return ""
}

// aggregate computes the weighted aggregate over pending updates using
// the configured strategy. All updates must agree on the parameter-name
// set taken from the first update; otherwise aggregation fails with
// model.ErrHeterogeneousShapes and no result is produced (the round
// still advances).
func (a *Aggregator) aggregate(pending []model.EdgeUpdate, round int) (model.AggregationResult, error) {
	base := pending[0].ModelWeights
	for _, u := range pending[1:] {
		if !u.ModelWeights.SameShape(base) {
			return model.AggregationResult{}, model.ErrHeterogeneousShapes
		}
	}

	var weighted model.Weights
	switch a.strategy {
	case model.StrategyFedAvg, model.StrategyRegional:
		weighted = fedAvg(pending)
	case model.StrategyFedProx:
		weighted = fedProx(pending)
	case model.StrategyAdaptive:
		weighted = adaptive(pending)
	default:
		return model.AggregationResult{}, fmt.Errorf("unknown aggregation strategy: %s", a.strategy)
	}

	totalSamples := 0
	weightedLoss := 0.0
	clients := make([]string, 0, len(pending))
	for _, u := range pending {
		totalSamples += u.SampleCount
		weightedLoss += u.TrainingLoss * float64(u.SampleCount)
		clients = append(clients, u.ClientID)
	}

	return model.AggregationResult{
		AggregatedWeights:    weighted,
		ParticipatingClients: clients,
		TotalSamples:         totalSamples,
		AverageLoss:          weightedLoss / float64(totalSamples),
		Round:                round,
		FogNodeID:            a.fogNodeID,
		CreatedAt:            time.Now(),
	}, nil
}

// Stats returns aggregator statistics rolled up over at most the last
// 10 results.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := Stats{
		RoundsCompleted: len(a.history),
		CurrentRound:    a.currentRound,
	}
	if len(a.history) == 0 {
		return stats
	}

	start := 0
	if len(a.history) > 10 {
		start = len(a.history) - 10
	}
	recent := a.history[start:]

	var clientsSum, samplesSum, lossSum float64
	for _, r := range recent {
		clientsSum += float64(len(r.ParticipatingClients))
		samplesSum += float64(r.TotalSamples)
		lossSum += r.AverageLoss
	}
	n := float64(len(recent))
	stats.AvgClientsPerRound = clientsSum / n
	stats.AvgSamplesPerRound = samplesSum / n
	stats.AvgLoss = lossSum / n
	last := a.history[len(a.history)-1]
	stats.LastResultAt = last.CreatedAt
	stats.HasLastResult = true
	return stats
}

// RecentResults returns defensive copies of at most the last 10
// completed rounds, most recent last, for status/enumeration endpoints.
func (a *Aggregator) RecentResults() []model.AggregationResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := 0
	if len(a.history) > 10 {
		start = len(a.history) - 10
	}
	out := make([]model.AggregationResult, 0, len(a.history)-start)
	for _, r := range a.history[start:] {
		out = append(out, r.Clone())
	}
	return out
}

// Cleanup cancels any in-flight round coordination goroutine and waits
// for it to observe cancellation, at the 1s polling boundary at the
// latest.
func (a *Aggregator) Cleanup() {
	a.mu.Lock()
	cancel := a.cancelRound
	done := a.roundDone
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	a.log.Info("regional aggregator cleaned up", zap.String("fog_node_id", a.fogNodeID))
}
