package reward

import (
	"fmt"

	"paideia/internal/buffer"
	"paideia/internal/model"
)

// EnvironmentSignal is the reserved name of the extrinsic environment reward.
// Its ledger feeds the recent-reward history; auxiliary signals only report.
const EnvironmentSignal = "environment"

// Signal is one registered reward source. Evaluate returns scaled and
// unscaled per-agent rewards positionally aligned with next's agent ordering;
// unscaled is the raw value, scaled is what training targets use.
type Signal interface {
	Name() string
	Evaluate(curr, next model.Snapshot) (scaled, unscaled []float64, err error)
	EvaluateBatch(batch buffer.MiniBatch) ([]float64, error)
}

// Updater is implemented by signals that train their own model on the update
// buffer at the scheduler's reward-signal cadence.
type Updater interface {
	Update(buf *buffer.UpdateBuffer, nSequences int) (map[string]float64, error)
}

// EvaluationError wraps a reward-signal evaluation failure. It indicates a
// data or schema mismatch between the environment and the configured signals
// and is never recovered locally.
type EvaluationError struct {
	Signal string
	Err    error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("reward signal %s evaluation failed: %v", e.Signal, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// Extrinsic is the environment reward signal: unscaled is the raw snapshot
// reward, scaled applies the configured strength.
type Extrinsic struct {
	Strength float64
}

func (Extrinsic) Name() string {
	return EnvironmentSignal
}

func (s Extrinsic) Evaluate(_, next model.Snapshot) ([]float64, []float64, error) {
	if len(next.Rewards) != next.NumAgents() {
		return nil, nil, fmt.Errorf("snapshot carries %d rewards for %d agents", len(next.Rewards), next.NumAgents())
	}
	unscaled := append([]float64(nil), next.Rewards...)
	scaled := make([]float64, len(unscaled))
	for i, v := range unscaled {
		scaled[i] = s.Strength * v
	}
	return scaled, unscaled, nil
}

// EvaluateBatch re-reads the scaled rewards recorded at collection time; the
// extrinsic signal has no model to recompute them with.
func (s Extrinsic) EvaluateBatch(batch buffer.MiniBatch) ([]float64, error) {
	rows, ok := batch[buffer.RewardsField(EnvironmentSignal)]
	if !ok {
		return nil, fmt.Errorf("batch is missing field %s", buffer.RewardsField(EnvironmentSignal))
	}
	out := make([]float64, len(rows))
	for i, row := range rows {
		if len(row) != 1 {
			return nil, fmt.Errorf("reward row %d has width %d, want 1", i, len(row))
		}
		out[i] = row[0]
	}
	return out, nil
}

// Cloner is the opaque behavioral-cloning model collaborator: one batch
// update returning the loss and the annealed learning rate.
type Cloner interface {
	UpdateBatch(batch buffer.MiniBatch, nSequences int) (loss, learningRate float64, err error)
}

// Demonstration is a behavioral-cloning auxiliary signal. It contributes no
// scaled reward to training targets; its Update trains the cloning model
// against a demonstration buffer at the reward-signal cadence.
type Demonstration struct {
	Model      Cloner
	Demos      *buffer.UpdateBuffer
	NSequences int
	MaxBatches int

	learningRate float64
	initialized  bool
}

// NewDemonstration builds the signal around a demonstration buffer. The
// learning rate only gates further updates; annealing happens in the model.
func NewDemonstration(model Cloner, demos *buffer.UpdateBuffer, nSequences, maxBatches int, learningRate float64) *Demonstration {
	if nSequences < 1 {
		nSequences = 1
	}
	return &Demonstration{
		Model:        model,
		Demos:        demos,
		NSequences:   nSequences,
		MaxBatches:   maxBatches,
		learningRate: learningRate,
		initialized:  true,
	}
}

func (*Demonstration) Name() string {
	return "demonstration"
}

// Evaluate contributes a zero scaled reward; the unscaled value mirrors the
// environment reward for reporting.
func (*Demonstration) Evaluate(_, next model.Snapshot) ([]float64, []float64, error) {
	if len(next.Rewards) != next.NumAgents() {
		return nil, nil, fmt.Errorf("snapshot carries %d rewards for %d agents", len(next.Rewards), next.NumAgents())
	}
	unscaled := append([]float64(nil), next.Rewards...)
	return make([]float64, len(unscaled)), unscaled, nil
}

func (d *Demonstration) EvaluateBatch(batch buffer.MiniBatch) ([]float64, error) {
	return make([]float64, batch.Rows()), nil
}

// Update runs up to MaxBatches cloning batches over the shuffled
// demonstration buffer. A learning rate at or below zero stops further work.
func (d *Demonstration) Update(_ *buffer.UpdateBuffer, _ int) (map[string]float64, error) {
	if !d.initialized || d.learningRate <= 0 {
		return map[string]float64{"Losses/Cloning Loss": 0}, nil
	}
	possible := d.Demos.Len() / d.NSequences
	if possible == 0 {
		return map[string]float64{"Losses/Cloning Loss": 0}, nil
	}
	batches := possible
	if d.MaxBatches > 0 && batches > d.MaxBatches {
		batches = d.MaxBatches
	}

	d.Demos.Shuffle(1)
	var total float64
	var counted int
	for i := 0; i < batches; i++ {
		start := i * d.NSequences
		mini, err := d.Demos.MakeMiniBatch(start, start+d.NSequences)
		if err != nil {
			return nil, err
		}
		loss, lr, err := d.Model.UpdateBatch(mini, d.NSequences)
		if err != nil {
			return nil, err
		}
		d.learningRate = lr
		total += loss
		counted++
	}
	mean := 0.0
	if counted > 0 {
		mean = total / float64(counted)
	}
	return map[string]float64{"Losses/Cloning Loss": mean}, nil
}
