package model

import "time"

// Strategy selects the aggregation math applied to admitted updates.
type Strategy string

const (
	StrategyFedAvg   Strategy = "fedavg"
	StrategyFedProx  Strategy = "fedprox"
	StrategyRegional Strategy = "regional"
	StrategyAdaptive Strategy = "adaptive"
)

// EdgeUpdate is a single training update submitted by an edge device.
// Immutable once accepted into a round.
type EdgeUpdate struct {
	ClientID         string    `json:"client_id"`
	ModelWeights     Weights   `json:"model_weights"`
	SampleCount      int       `json:"sample_count"`
	TrainingLoss     float64   `json:"training_loss"`
	Timestamp        time.Time `json:"timestamp"`
	PrivacyBudget    float64   `json:"privacy_budget,omitempty"`
	CompressionRatio float64   `json:"compression_ratio,omitempty"`
}

// AggregationResult is the output of one non-empty round.
type AggregationResult struct {
	AggregatedWeights     Weights   `json:"aggregated_weights"`
	ParticipatingClients  []string  `json:"participating_clients"`
	TotalSamples          int       `json:"total_samples"`
	AverageLoss           float64   `json:"average_loss"`
	Round                 int       `json:"round"`
	FogNodeID             string    `json:"fog_node_id"`
	CreatedAt             time.Time `json:"created_at"`
	SentUpstream          bool      `json:"sent_upstream"`
}

// Clone returns a deep copy suitable for caching, callback fan-out, or
// transport serialization.
func (r AggregationResult) Clone() AggregationResult {
	cp := r
	cp.AggregatedWeights = r.AggregatedWeights.Clone()
	cp.ParticipatingClients = append([]string(nil), r.ParticipatingClients...)
	return cp
}
