package aggregator

import (
	"github.com/haroune-bellatreche/fog-compute/internal/model"
)

// totalSamples sums sample_count across updates. Callers have already
// validated sample_count > 0 at admission time.
func totalSamples(updates []model.EdgeUpdate) int {
	total := 0
	for _, u := range updates {
		total += u.SampleCount
	}
	return total
}

// fedAvg is the FEDAVG and REGIONAL strategy: w_u = sample_count / S.
// REGIONAL is reserved for future region-aware weighting but for now
// must accept the same inputs and produce the same result as FEDAVG.
func fedAvg(updates []model.EdgeUpdate) model.Weights {
	S := float64(totalSamples(updates))
	out := make(model.Weights)
	for _, u := range updates {
		w := float64(u.SampleCount) / S
		for name, vals := range u.ModelWeights {
			model.ScaleAddInto(out, name, vals, w)
		}
	}
	return out
}

// fedProx applies a proximal-style adjustment using only the client's
// own training loss: w_u = (sample_count/S) * 1/(1+mu*loss). Weights are
// not renormalized.
//
// This is not canonical FedProx, which requires the global model to
// compute the proximal term; the fog layer only has each client's own
// loss available. Preserved as specified (see DESIGN.md open question)
// rather than silently corrected.
func fedProx(updates []model.EdgeUpdate) model.Weights {
	S := float64(totalSamples(updates))
	out := make(model.Weights)
	for _, u := range updates {
		base := float64(u.SampleCount) / S
		adjusted := base * fedProxWeight(u.TrainingLoss)
		for name, vals := range u.ModelWeights {
			model.ScaleAddInto(out, name, vals, adjusted)
		}
	}
	return out
}

func fedProxWeight(loss float64) float64 {
	return 1.0 / (1.0 + fedProxMu*loss)
}

// adaptive combines sample share, loss quality, privacy budget, and
// compression ratio into a single weight. Weights are not renormalized.
func adaptive(updates []model.EdgeUpdate) model.Weights {
	S := float64(totalSamples(updates))
	out := make(model.Weights)
	for _, u := range updates {
		base := float64(u.SampleCount) / S
		lossFactor := 1.0 / (1.0 + u.TrainingLoss)
		privacyBudget := u.PrivacyBudget
		if privacyBudget == 0 {
			privacyBudget = 1.0
		}
		privacyFactor := 1.0 / (1.0 + privacyBudget)
		compressionFactor := u.CompressionRatio
		if compressionFactor == 0 {
			compressionFactor = 1.0
		}
		w := base * lossFactor * privacyFactor * compressionFactor
		for name, vals := range u.ModelWeights {
			model.ScaleAddInto(out, name, vals, w)
		}
	}
	return out
}
