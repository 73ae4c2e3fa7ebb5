package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// AgentID identifies one live agent instance within a policy group. IDs are
// unique among currently-live agents only; environments may reuse an id after
// an agent terminates.
type AgentID string

// ActionKind selects continuous or discrete action handling, resolved once at
// trainer construction.
type ActionKind string

const (
	ActionContinuous ActionKind = "continuous"
	ActionDiscrete   ActionKind = "discrete"
)

// MemoryKind selects stateless or recurrent policy handling.
type MemoryKind string

const (
	MemoryStateless MemoryKind = "stateless"
	MemoryRecurrent MemoryKind = "recurrent"
)

// Snapshot is one environment time-step's view of all agents under a policy
// group. All per-agent slices are positionally aligned with AgentIDs.
type Snapshot struct {
	AgentIDs    []AgentID
	VectorObs   [][]float64
	VisualObs   [][][]float64 // per camera, per agent, flattened pixels
	Memories    [][]float64
	Rewards     []float64
	Dones       []bool
	MaxReached  []bool
	PrevActions [][]float64
	ActionMasks [][]float64
}

// NumAgents returns the number of agents present in the snapshot.
func (s Snapshot) NumAgents() int {
	return len(s.AgentIDs)
}

// Index returns the positional index of id within the snapshot.
func (s Snapshot) Index(id AgentID) (int, bool) {
	for i, agentID := range s.AgentIDs {
		if agentID == id {
			return i, true
		}
	}
	return 0, false
}

// SameAgents reports whether both snapshots cover the same agent ids in the
// same order.
func (s Snapshot) SameAgents(other Snapshot) bool {
	if len(s.AgentIDs) != len(other.AgentIDs) {
		return false
	}
	for i, id := range s.AgentIDs {
		if other.AgentIDs[i] != id {
			return false
		}
	}
	return true
}

// ActionOutputs is what the policy produced for one snapshot, positionally
// aligned with the snapshot's agent ordering. Values maps reward-signal name
// to that signal's per-agent value estimates.
type ActionOutputs struct {
	Actions  [][]float64
	LogProbs [][]float64
	Values   map[string][]float64
	Entropy  []float64
	Memories [][]float64
}

// Transition is one step of experience for one agent. Immutable once appended
// to a trajectory.
type Transition struct {
	VectorObs     []float64
	NextVectorObs []float64
	VisualObs     [][]float64 // per camera
	NextVisualObs [][]float64
	Memory        []float64
	Action        []float64
	PrevAction    []float64
	ActionMask    []float64
	LogProbs      []float64
	Values        map[string]float64 // per reward signal
	Rewards       map[string]float64 // scaled, per reward signal
	Mask          float64
	Done          bool
}

// RunRecord summarizes one finished training run for persistence.
type RunRecord struct {
	VersionedRecord
	ID           string  `json:"id"`
	Scape        string  `json:"scape"`
	Seed         int64   `json:"seed"`
	Steps        int64   `json:"steps"`
	Episodes     int     `json:"episodes"`
	PolicyRounds int     `json:"policy_rounds"`
	MeanReward   float64 `json:"mean_reward"`
	CreatedAtUTC string  `json:"created_at_utc"`
}
