package reward

import (
	"fmt"
	"testing"

	"paideia/internal/buffer"
)

type recordingCloner struct {
	loss  float64
	lr    float64
	err   error
	calls int
	rows  []int
	nSeq  []int
}

func (c *recordingCloner) UpdateBatch(batch buffer.MiniBatch, nSequences int) (float64, float64, error) {
	if c.err != nil {
		return 0, 0, c.err
	}
	c.calls++
	c.rows = append(c.rows, batch.Rows())
	c.nSeq = append(c.nSeq, nSequences)
	return c.loss, c.lr, c.err
}

func demoBuffer(t *testing.T, rows int) *buffer.UpdateBuffer {
	t.Helper()
	obs := make([][]float64, rows)
	actions := make([][]float64, rows)
	for i := range obs {
		obs[i] = []float64{float64(i)}
		actions[i] = []float64{0}
	}
	demos := buffer.NewUpdateBuffer(3)
	if err := demos.AppendColumns(map[string][][]float64{
		buffer.FieldVectorObs: obs,
		buffer.FieldActions:   actions,
	}); err != nil {
		t.Fatalf("append demo columns: %v", err)
	}
	return demos
}

func TestDemonstrationUpdateWalksWholeBuffer(t *testing.T) {
	cloner := &recordingCloner{loss: 0.4, lr: 0.01}
	sig := NewDemonstration(cloner, demoBuffer(t, 10), 2, 0, 0.01)

	stats, err := sig.Update(nil, 0)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	// 10 demo rows in windows of 2.
	if cloner.calls != 5 {
		t.Fatalf("cloning batches = %d, want 5", cloner.calls)
	}
	for i, rows := range cloner.rows {
		if rows != 2 || cloner.nSeq[i] != 2 {
			t.Fatalf("batch %d: rows=%d nseq=%d, want 2/2", i, rows, cloner.nSeq[i])
		}
	}
	if got := stats["Losses/Cloning Loss"]; got != 0.4 {
		t.Fatalf("cloning loss = %v, want 0.4", got)
	}
}

func TestDemonstrationMaxBatchesCapsTheWalk(t *testing.T) {
	cloner := &recordingCloner{loss: 1, lr: 0.01}
	sig := NewDemonstration(cloner, demoBuffer(t, 10), 2, 3, 0.01)

	if _, err := sig.Update(nil, 0); err != nil {
		t.Fatalf("update: %v", err)
	}
	if cloner.calls != 3 {
		t.Fatalf("cloning batches = %d, want 3", cloner.calls)
	}
}

func TestDemonstrationLearningRateGate(t *testing.T) {
	// Built with a zero rate the signal never touches its model.
	cloner := &recordingCloner{loss: 1, lr: 0.01}
	sig := NewDemonstration(cloner, demoBuffer(t, 4), 2, 0, 0)
	stats, err := sig.Update(nil, 0)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if cloner.calls != 0 {
		t.Fatalf("gated signal ran %d batches", cloner.calls)
	}
	if got := stats["Losses/Cloning Loss"]; got != 0 {
		t.Fatalf("gated cloning loss = %v, want 0", got)
	}

	// The model annealing its rate to zero stops the next update.
	annealed := &recordingCloner{loss: 1, lr: 0}
	sig = NewDemonstration(annealed, demoBuffer(t, 4), 2, 0, 0.01)
	if _, err := sig.Update(nil, 0); err != nil {
		t.Fatalf("update: %v", err)
	}
	if annealed.calls != 2 {
		t.Fatalf("first update ran %d batches, want 2", annealed.calls)
	}
	if _, err := sig.Update(nil, 0); err != nil {
		t.Fatalf("second update: %v", err)
	}
	if annealed.calls != 2 {
		t.Fatalf("annealed-out signal kept training: %d batches", annealed.calls)
	}
}

func TestDemonstrationTooFewDemosIsANoop(t *testing.T) {
	cloner := &recordingCloner{loss: 1, lr: 0.01}
	sig := NewDemonstration(cloner, demoBuffer(t, 1), 2, 0, 0.01)

	stats, err := sig.Update(nil, 0)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if cloner.calls != 0 {
		t.Fatalf("ran %d batches with one demo row", cloner.calls)
	}
	if got := stats["Losses/Cloning Loss"]; got != 0 {
		t.Fatalf("cloning loss = %v, want 0", got)
	}
}

func TestDemonstrationModelErrorPropagates(t *testing.T) {
	cloner := &recordingCloner{err: fmt.Errorf("bad batch shape")}
	sig := NewDemonstration(cloner, demoBuffer(t, 4), 2, 0, 0.01)

	if _, err := sig.Update(nil, 0); err == nil {
		t.Fatal("expected the model error to propagate")
	}
}

func TestDemonstrationEvaluateContributesNoScaledReward(t *testing.T) {
	sig := NewDemonstration(&recordingCloner{lr: 0.01}, demoBuffer(t, 4), 2, 0, 0.01)
	next := snapshotFor("a1", "a2")
	next.Rewards = []float64{1, 2}

	scaled, unscaled, err := sig.Evaluate(snapshotFor("a1", "a2"), next)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if scaled[0] != 0 || scaled[1] != 0 {
		t.Fatalf("scaled = %v, want zeros", scaled)
	}
	if unscaled[0] != 1 || unscaled[1] != 2 {
		t.Fatalf("unscaled = %v, want environment rewards", unscaled)
	}
}
