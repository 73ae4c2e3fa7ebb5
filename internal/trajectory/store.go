package trajectory

import (
	"errors"
	"fmt"

	"paideia/internal/model"
)

// ErrUnknownAgent signals a lookup for an agent that was never created. It
// indicates a desync between the components driving the store and should not
// occur in normal flow.
var ErrUnknownAgent = errors.New("unknown agent id")

// Trajectory holds the rolling experience of one live agent: the ordered
// transitions recorded so far plus the last raw snapshot and action outputs
// seen for it. The last pair is used to reconstruct missing current-step
// context when the agent population changes between steps.
type Trajectory struct {
	Transitions  []model.Transition
	LastSnapshot *model.Snapshot
	LastOutputs  *model.ActionOutputs
}

// Len returns the number of recorded transitions.
func (t *Trajectory) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Transitions)
}

// Store is an arena of per-agent trajectory slots: create on first access,
// destroy explicitly on flush or global reset, never implicitly collected.
type Store struct {
	agents map[model.AgentID]*Trajectory
}

func NewStore() *Store {
	return &Store{agents: make(map[model.AgentID]*Trajectory)}
}

// GetOrCreate returns the slot for id, lazily creating an empty one.
func (s *Store) GetOrCreate(id model.AgentID) *Trajectory {
	if t, ok := s.agents[id]; ok {
		return t
	}
	t := &Trajectory{}
	s.agents[id] = t
	return t
}

// Get returns the slot for id without creating it.
func (s *Store) Get(id model.AgentID) (*Trajectory, error) {
	t, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("trajectory lookup for %s: %w", id, ErrUnknownAgent)
	}
	return t, nil
}

// RecordLast stores the most recent snapshot and action outputs for id,
// creating the slot if needed.
func (s *Store) RecordLast(id model.AgentID, snapshot model.Snapshot, outputs model.ActionOutputs) {
	t := s.GetOrCreate(id)
	t.LastSnapshot = &snapshot
	t.LastOutputs = &outputs
}

// Append adds one transition to the agent's trajectory, creating the slot if
// needed. Transitions are immutable once appended.
func (s *Store) Append(id model.AgentID, tr model.Transition) {
	t := s.GetOrCreate(id)
	t.Transitions = append(t.Transitions, tr)
}

// Len returns the trajectory length for id, zero for unknown agents.
func (s *Store) Len(id model.AgentID) int {
	return s.agents[id].Len()
}

// Reset clears the agent's transitions and last-seen linkage. A reappearing
// agent id is treated as freshly spawned afterwards.
func (s *Store) Reset(id model.AgentID) {
	t, ok := s.agents[id]
	if !ok {
		return
	}
	t.Transitions = nil
	t.LastSnapshot = nil
	t.LastOutputs = nil
}

// ResetAll clears every slot. Used on global episode reset.
func (s *Store) ResetAll() {
	s.agents = make(map[model.AgentID]*Trajectory)
}

// AgentIDs returns the ids with live slots, in unspecified order.
func (s *Store) AgentIDs() []model.AgentID {
	out := make([]model.AgentID, 0, len(s.agents))
	for id := range s.agents {
		out = append(out, id)
	}
	return out
}
