package buffer

import (
	"fmt"
	"sort"

	"paideia/internal/model"
	"paideia/internal/trajectory"
)

// Manager converts finished agent trajectories into fixed-length training
// rows in the update buffer. Training length is 1 for stateless policies and
// the configured sequence length for recurrent ones.
type Manager struct {
	store          *trajectory.Store
	update         *UpdateBuffer
	trainingLength int
}

func NewManager(store *trajectory.Store, update *UpdateBuffer, trainingLength int) *Manager {
	if trainingLength < 1 {
		trainingLength = 1
	}
	return &Manager{store: store, update: update, trainingLength: trainingLength}
}

// Update exposes the managed update buffer.
func (m *Manager) Update() *UpdateBuffer {
	return m.update
}

// MaybeFlush moves the agent's trajectory into the update buffer when the
// agent is done or the trajectory exceeds timeHorizon, and only when it holds
// at least one transition. The trajectory is sliced into contiguous
// training-length windows; a trailing partial window shorter than the
// training length is dropped, never padded. After a flush the agent's slot is
// reset, so a flush happens exactly once per termination or horizon overflow.
func (m *Manager) MaybeFlush(id model.AgentID, done bool, timeHorizon int) (bool, error) {
	length := m.store.Len(id)
	if length == 0 {
		return false, nil
	}
	if !done && length <= timeHorizon {
		return false, nil
	}

	slot, err := m.store.Get(id)
	if err != nil {
		return false, err
	}
	rows := slot.Transitions
	if m.trainingLength > 1 {
		whole := (len(rows) / m.trainingLength) * m.trainingLength
		rows = rows[:whole]
	}
	if len(rows) > 0 {
		cols, err := transitionColumns(rows)
		if err != nil {
			return false, fmt.Errorf("flush agent %s: %w", id, err)
		}
		if err := m.update.AppendColumns(cols); err != nil {
			return false, fmt.Errorf("flush agent %s: %w", id, err)
		}
	}
	m.store.Reset(id)
	return true, nil
}

// transitionColumns flattens transitions into the field-keyed column layout.
// The first transition fixes which optional fields are present; trajectories
// are homogeneous by construction.
func transitionColumns(rows []model.Transition) (map[string][][]float64, error) {
	first := rows[0]
	signals := make([]string, 0, len(first.Rewards))
	for name := range first.Rewards {
		signals = append(signals, name)
	}
	sort.Strings(signals)

	cols := make(map[string][][]float64)
	put := func(name string, row []float64) {
		cols[name] = append(cols[name], row)
	}

	for i, tr := range rows {
		if len(tr.Rewards) != len(signals) {
			return nil, fmt.Errorf("transition %d carries %d reward signals, want %d", i, len(tr.Rewards), len(signals))
		}
		if len(tr.VectorObs) > 0 {
			put(FieldVectorObs, tr.VectorObs)
			put(FieldNextVectorObs, tr.NextVectorObs)
		}
		for cam := range tr.VisualObs {
			put(VisualObsField(cam), tr.VisualObs[cam])
			put(NextVisualObsField(cam), tr.NextVisualObs[cam])
		}
		if len(tr.Memory) > 0 {
			put(FieldMemory, tr.Memory)
		}
		put(FieldActions, tr.Action)
		if len(tr.PrevAction) > 0 {
			put(FieldPrevAction, tr.PrevAction)
		}
		if len(tr.ActionMask) > 0 {
			put(FieldActionMask, tr.ActionMask)
		}
		put(FieldActionProbs, tr.LogProbs)
		put(FieldMasks, []float64{tr.Mask})
		done := 0.0
		if tr.Done {
			done = 1.0
		}
		put(FieldDone, []float64{done})
		for _, name := range signals {
			put(RewardsField(name), []float64{tr.Rewards[name]})
			put(ValueEstimatesField(name), []float64{tr.Values[name]})
		}
	}
	return cols, nil
}
