// Package policy provides a reference linear-softmax policy for discrete
// action spaces: a categorical actor head and a linear state-value critic
// with a soft-updated target head. It exists so the training loop has a
// deterministic, dependency-free optimizer collaborator to drive; anything
// implementing the trainer's Policy interface can replace it.
package policy

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"paideia/internal/buffer"
	"paideia/internal/model"
	"paideia/internal/reward"
)

// Config carries the reference policy hyperparameters.
type Config struct {
	ObsSize      int
	NumActions   int
	LearningRate float64
	Gamma        float64
	EntropyCoef  float64
	Tau          float64
	Seed         int64
}

// Weights is the serializable parameter snapshot: actor logits head plus
// critic value head. The target head is derived state and is not persisted.
type Weights struct {
	W  [][]float64 `json:"w"`
	B  []float64   `json:"b"`
	VW []float64   `json:"vw"`
	VB float64     `json:"vb"`
}

func zeroWeights(obsSize, numActions int) Weights {
	w := make([][]float64, numActions)
	for i := range w {
		w[i] = make([]float64, obsSize)
	}
	return Weights{
		W:  w,
		B:  make([]float64, numActions),
		VW: make([]float64, obsSize),
		VB: 0,
	}
}

func copyWeights(src Weights) Weights {
	out := Weights{
		B:  append([]float64(nil), src.B...),
		VW: append([]float64(nil), src.VW...),
		VB: src.VB,
	}
	out.W = make([][]float64, len(src.W))
	for i, row := range src.W {
		out.W[i] = append([]float64(nil), row...)
	}
	return out
}

// Linear is a linear-softmax actor-critic over vector observations. Act and
// Update are deterministic given the seed and the input order; the trainer
// calls them from a single goroutine.
type Linear struct {
	cfg     Config
	weights Weights
	target  Weights
	rng     *rand.Rand

	recentReward float64
}

func New(cfg Config) (*Linear, error) {
	if cfg.ObsSize <= 0 {
		return nil, fmt.Errorf("policy: obs size must be > 0, got %d", cfg.ObsSize)
	}
	if cfg.NumActions <= 1 {
		return nil, fmt.Errorf("policy: need at least 2 actions, got %d", cfg.NumActions)
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 3e-3
	}
	if cfg.Gamma <= 0 || cfg.Gamma >= 1 {
		cfg.Gamma = 0.99
	}
	if cfg.EntropyCoef < 0 {
		cfg.EntropyCoef = 0
	}
	if cfg.Tau <= 0 || cfg.Tau > 1 {
		cfg.Tau = 0.005
	}
	weights := zeroWeights(cfg.ObsSize, cfg.NumActions)
	for i := range weights.W {
		sign := 1.0
		if i%2 == 1 {
			sign = -1
		}
		for j := range weights.W[i] {
			weights.W[i][j] = sign * 0.01
		}
	}
	return &Linear{
		cfg:     cfg,
		weights: weights,
		target:  copyWeights(weights),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Weights returns a copy of the current parameters.
func (p *Linear) Weights() Weights {
	return copyWeights(p.weights)
}

// SetWeights replaces the parameters and resets the target head to match.
func (p *Linear) SetWeights(w Weights) error {
	if len(w.W) != p.cfg.NumActions || len(w.B) != p.cfg.NumActions || len(w.VW) != p.cfg.ObsSize {
		return fmt.Errorf("policy: weight shapes do not match %d actions x %d obs", p.cfg.NumActions, p.cfg.ObsSize)
	}
	for i, row := range w.W {
		if len(row) != p.cfg.ObsSize {
			return fmt.Errorf("policy: weight row %d has %d columns, want %d", i, len(row), p.cfg.ObsSize)
		}
	}
	p.weights = copyWeights(w)
	p.target = copyWeights(w)
	return nil
}

// LearningRate returns the effective learning rate after defaulting.
func (p *Linear) LearningRate() float64 {
	return p.cfg.LearningRate
}

// UpdateReward receives the mean recent episode reward from the trainer.
func (p *Linear) UpdateReward(mean float64) {
	p.recentReward = mean
}

// RecentReward returns the last mean episode reward the trainer reported.
func (p *Linear) RecentReward() float64 {
	return p.recentReward
}

func (p *Linear) logits(obs []float64) []float64 {
	out := make([]float64, p.cfg.NumActions)
	for i := range out {
		out[i] = p.weights.B[i]
		for j, x := range obs {
			if j >= p.cfg.ObsSize {
				break
			}
			out[i] += p.weights.W[i][j] * x
		}
	}
	return out
}

func softmax(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(v - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

func sampleCategorical(probs []float64, rng *rand.Rand) int {
	threshold := rng.Float64()
	var cumulative float64
	for i, prob := range probs {
		cumulative += prob
		if threshold <= cumulative {
			return i
		}
	}
	return len(probs) - 1
}

func value(w Weights, obs []float64) float64 {
	v := w.VB
	for j, x := range obs {
		if j >= len(w.VW) {
			break
		}
		v += w.VW[j] * x
	}
	return v
}

// Act samples one categorical action per agent in the snapshot. Action masks
// zero out forbidden branches before sampling.
func (p *Linear) Act(snap model.Snapshot) (model.ActionOutputs, error) {
	n := snap.NumAgents()
	if len(snap.VectorObs) != n {
		return model.ActionOutputs{}, fmt.Errorf("policy: snapshot carries %d observations for %d agents", len(snap.VectorObs), n)
	}
	out := model.ActionOutputs{
		Actions:  make([][]float64, n),
		LogProbs: make([][]float64, n),
		Values:   map[string][]float64{reward.EnvironmentSignal: make([]float64, n)},
		Entropy:  make([]float64, n),
	}
	for i := 0; i < n; i++ {
		probs := softmax(p.logits(snap.VectorObs[i]))
		if len(snap.ActionMasks) > i && len(snap.ActionMasks[i]) == len(probs) {
			var sum float64
			for a := range probs {
				probs[a] *= snap.ActionMasks[i][a]
				sum += probs[a]
			}
			if sum <= 0 {
				return model.ActionOutputs{}, fmt.Errorf("policy: agent %s has no permitted action", snap.AgentIDs[i])
			}
			for a := range probs {
				probs[a] /= sum
			}
		}
		choice := sampleCategorical(probs, p.rng)
		var entropy float64
		for _, prob := range probs {
			if prob > 0 {
				entropy -= prob * math.Log(prob)
			}
		}
		out.Actions[i] = []float64{float64(choice)}
		out.LogProbs[i] = []float64{math.Log(probs[choice] + 1e-8)}
		out.Values[reward.EnvironmentSignal][i] = value(p.weights, snap.VectorObs[i])
		out.Entropy[i] = entropy
	}
	return out, nil
}

// Update runs one gradient step over the mini-batch: a TD(0) critic step
// against the target value head, a policy-gradient actor step weighted by
// the TD advantage, and an optional soft target sync.
func (p *Linear) Update(batch buffer.MiniBatch, nSequences int, updateTarget bool) (map[string]float64, error) {
	obs, ok := batch[buffer.FieldVectorObs]
	if !ok {
		return nil, fmt.Errorf("policy: batch is missing field %s", buffer.FieldVectorObs)
	}
	nextObs, ok := batch[buffer.FieldNextVectorObs]
	if !ok {
		return nil, fmt.Errorf("policy: batch is missing field %s", buffer.FieldNextVectorObs)
	}
	actions, ok := batch[buffer.FieldActions]
	if !ok {
		return nil, fmt.Errorf("policy: batch is missing field %s", buffer.FieldActions)
	}
	rewardsRows, ok := batch[buffer.RewardsField(reward.EnvironmentSignal)]
	if !ok {
		return nil, fmt.Errorf("policy: batch is missing field %s", buffer.RewardsField(reward.EnvironmentSignal))
	}
	doneRows, ok := batch[buffer.FieldDone]
	if !ok {
		return nil, fmt.Errorf("policy: batch is missing field %s", buffer.FieldDone)
	}
	rows := len(obs)
	if rows == 0 {
		return nil, fmt.Errorf("policy: empty batch")
	}

	valueLosses := make([]float64, 0, rows)
	policyLosses := make([]float64, 0, rows)
	entropies := make([]float64, 0, rows)
	lr := p.cfg.LearningRate / float64(rows)

	for r := 0; r < rows; r++ {
		if len(actions[r]) == 0 || len(rewardsRows[r]) == 0 || len(doneRows[r]) == 0 {
			return nil, fmt.Errorf("policy: batch row %d is malformed", r)
		}
		action := int(actions[r][0])
		if action < 0 || action >= p.cfg.NumActions {
			return nil, fmt.Errorf("policy: batch row %d carries action %d outside [0,%d)", r, action, p.cfg.NumActions)
		}
		rew := rewardsRows[r][0]
		done := doneRows[r][0] != 0

		tdTarget := rew
		if !done {
			tdTarget += p.cfg.Gamma * value(p.target, nextObs[r])
		}
		baseline := value(p.weights, obs[r])
		tdErr := tdTarget - baseline
		valueLosses = append(valueLosses, tdErr*tdErr)

		// Critic step toward the TD target.
		for j, x := range obs[r] {
			if j >= p.cfg.ObsSize {
				break
			}
			p.weights.VW[j] += lr * tdErr * x
		}
		p.weights.VB += lr * tdErr

		// Actor step: softmax policy gradient with an entropy bonus.
		probs := softmax(p.logits(obs[r]))
		var entropy float64
		for _, prob := range probs {
			if prob > 0 {
				entropy -= prob * math.Log(prob)
			}
		}
		entropies = append(entropies, entropy)
		policyLosses = append(policyLosses, -math.Log(probs[action]+1e-8)*tdErr)
		for a := 0; a < p.cfg.NumActions; a++ {
			indicator := 0.0
			if a == action {
				indicator = 1
			}
			grad := (indicator - probs[a]) * tdErr
			grad += p.cfg.EntropyCoef * (-probs[a] * (math.Log(probs[a]+1e-8) + entropy))
			for j, x := range obs[r] {
				if j >= p.cfg.ObsSize {
					break
				}
				p.weights.W[a][j] += lr * grad * x
			}
			p.weights.B[a] += lr * grad
		}
	}

	if updateTarget {
		p.syncTarget()
	}

	return map[string]float64{
		"value_loss":   stat.Mean(valueLosses, nil),
		"policy_loss":  stat.Mean(policyLosses, nil),
		"entropy":      stat.Mean(entropies, nil),
		"entropy_coef": p.cfg.EntropyCoef,
	}, nil
}

// UpdateBatch runs one supervised cloning step over a demonstration batch:
// a cross-entropy push of the actor head toward the demonstrated action in
// each row. The critic and target heads are untouched. The returned learning
// rate is the configured one; this policy does not anneal it.
func (p *Linear) UpdateBatch(batch buffer.MiniBatch, _ int) (float64, float64, error) {
	obs, ok := batch[buffer.FieldVectorObs]
	if !ok {
		return 0, 0, fmt.Errorf("policy: batch is missing field %s", buffer.FieldVectorObs)
	}
	actions, ok := batch[buffer.FieldActions]
	if !ok {
		return 0, 0, fmt.Errorf("policy: batch is missing field %s", buffer.FieldActions)
	}
	rows := len(obs)
	if rows == 0 {
		return 0, 0, fmt.Errorf("policy: empty batch")
	}

	losses := make([]float64, 0, rows)
	lr := p.cfg.LearningRate / float64(rows)
	for r := 0; r < rows; r++ {
		if len(actions[r]) == 0 {
			return 0, 0, fmt.Errorf("policy: batch row %d is malformed", r)
		}
		action := int(actions[r][0])
		if action < 0 || action >= p.cfg.NumActions {
			return 0, 0, fmt.Errorf("policy: batch row %d carries action %d outside [0,%d)", r, action, p.cfg.NumActions)
		}
		probs := softmax(p.logits(obs[r]))
		losses = append(losses, -math.Log(probs[action]+1e-8))
		for a := 0; a < p.cfg.NumActions; a++ {
			indicator := 0.0
			if a == action {
				indicator = 1
			}
			grad := indicator - probs[a]
			for j, x := range obs[r] {
				if j >= p.cfg.ObsSize {
					break
				}
				p.weights.W[a][j] += lr * grad * x
			}
			p.weights.B[a] += lr * grad
		}
	}
	return stat.Mean(losses, nil), p.cfg.LearningRate, nil
}

// syncTarget moves the target value head toward the live one by tau.
func (p *Linear) syncTarget() {
	tau := p.cfg.Tau
	for j := range p.target.VW {
		p.target.VW[j] += tau * (p.weights.VW[j] - p.target.VW[j])
	}
	p.target.VB += tau * (p.weights.VB - p.target.VB)
}
