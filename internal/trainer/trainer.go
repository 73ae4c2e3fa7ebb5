package trainer

import (
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/stat"

	"paideia/internal/buffer"
	"paideia/internal/model"
	"paideia/internal/reward"
	"paideia/internal/schedule"
	"paideia/internal/stats"
	"paideia/internal/trajectory"
)

// Policy is the opaque optimizer collaborator. Update must be deterministic
// given identical inputs and internal parameters; updateTarget true asks the
// collaborator to also sync its target network.
type Policy interface {
	Update(batch buffer.MiniBatch, nSequences int, updateTarget bool) (map[string]float64, error)
}

// RewardUpdater is optionally implemented by policies that track the mean
// recent episode reward (for reward annealing or checkpoint ranking).
type RewardUpdater interface {
	UpdateReward(mean float64)
}

// Config carries the trainer hyperparameters. Required keys are validated at
// construction; optional intervals default to 1.
type Config struct {
	BatchSize                   int
	BufferSize                  int
	BufferInitSteps             int64
	TimeHorizon                 int
	SequenceLength              int
	TrainInterval               int64
	TargetUpdateInterval        int64
	UpdatesPerTrain             int
	RewardSignalUpdatesPerTrain int
	MaxSteps                    int64
	RewardHistoryCap            int
	Seed                        int64
	ActionKind                  model.ActionKind
	MemoryKind                  model.MemoryKind
	MemorySize                  int

	// SkipTerminalReward excludes the boundary transition's reward from the
	// episode ledger on the step the agent is marked done. The default (false)
	// counts it.
	SkipTerminalReward bool
}

// transitionLayout is the policy-kind variant, resolved once at construction
// instead of being re-derived at every call site.
type transitionLayout struct {
	discrete   bool
	recurrent  bool
	memorySize int
}

// Trainer owns the experience bookkeeping and update scheduling for one
// policy group: it turns snapshot pairs into per-agent trajectories, flushes
// finished trajectories into the update buffer, and drives the optimizer
// collaborator at the configured cadences. Single-threaded by contract: one
// step is fully processed before the next begins.
type Trainer struct {
	cfg    Config
	layout transitionLayout

	policy  Policy
	sched   *schedule.Scheduler
	store   *trajectory.Store
	manager *buffer.Manager
	agg     *reward.Aggregator
	sink    stats.Sink
	logger  *log.Logger

	episodeSteps map[model.AgentID]int
	episodes     int
	policyRounds int
}

// New validates the configuration and wires the trainer. The signal list
// must include the environment signal; every signal name must be unique.
func New(cfg Config, policy Policy, signals []reward.Signal, sink stats.Sink) (*Trainer, error) {
	if policy == nil {
		return nil, &ConfigError{Key: "policy", Reason: "optimizer collaborator is required"}
	}
	if cfg.BatchSize <= 0 {
		return nil, &ConfigError{Key: "batch_size", Reason: "must be > 0"}
	}
	if cfg.BufferSize <= 0 {
		return nil, &ConfigError{Key: "buffer_size", Reason: "must be > 0"}
	}
	if cfg.TimeHorizon <= 0 {
		return nil, &ConfigError{Key: "time_horizon", Reason: "must be > 0"}
	}
	if cfg.RewardHistoryCap <= 0 {
		return nil, &ConfigError{Key: "reward_buff_cap", Reason: "must be > 0"}
	}
	if cfg.BufferInitSteps < 0 {
		return nil, &ConfigError{Key: "buffer_init_steps", Reason: "must be >= 0"}
	}
	if cfg.ActionKind == "" {
		cfg.ActionKind = model.ActionContinuous
	}
	if cfg.MemoryKind == "" {
		cfg.MemoryKind = model.MemoryStateless
	}
	switch cfg.ActionKind {
	case model.ActionContinuous, model.ActionDiscrete:
	default:
		return nil, &ConfigError{Key: "action_kind", Reason: fmt.Sprintf("unsupported: %s", cfg.ActionKind)}
	}
	switch cfg.MemoryKind {
	case model.MemoryStateless:
		cfg.SequenceLength = 1
	case model.MemoryRecurrent:
		if cfg.SequenceLength <= 1 {
			return nil, &ConfigError{Key: "sequence_length", Reason: "must be > 1 for recurrent policies"}
		}
		if cfg.MemorySize <= 0 {
			return nil, &ConfigError{Key: "memory_size", Reason: "must be > 0 for recurrent policies"}
		}
	default:
		return nil, &ConfigError{Key: "memory_kind", Reason: fmt.Sprintf("unsupported: %s", cfg.MemoryKind)}
	}
	if cfg.TrainInterval < 1 {
		cfg.TrainInterval = 1
	}
	if cfg.TargetUpdateInterval < 1 {
		cfg.TargetUpdateInterval = 1
	}
	if cfg.UpdatesPerTrain < 1 {
		cfg.UpdatesPerTrain = 1
	}
	if cfg.RewardSignalUpdatesPerTrain < 1 {
		cfg.RewardSignalUpdatesPerTrain = 1
	}

	hasEnvironment := false
	for _, s := range signals {
		if s.Name() == reward.EnvironmentSignal {
			hasEnvironment = true
		}
	}
	if !hasEnvironment {
		return nil, &ConfigError{Key: "reward_signals", Reason: "environment signal is required"}
	}
	if sink == nil {
		sink = stats.Discard{}
	}

	agg, err := reward.NewAggregator(signals, cfg.RewardHistoryCap, sink)
	if err != nil {
		return nil, &ConfigError{Key: "reward_signals", Reason: err.Error()}
	}

	store := trajectory.NewStore()
	update := buffer.NewUpdateBuffer(cfg.Seed)
	return &Trainer{
		cfg: cfg,
		layout: transitionLayout{
			discrete:   cfg.ActionKind == model.ActionDiscrete,
			recurrent:  cfg.MemoryKind == model.MemoryRecurrent,
			memorySize: cfg.MemorySize,
		},
		policy: policy,
		sched: schedule.New(schedule.Config{
			BatchSize:            cfg.BatchSize,
			BufferInitSteps:      cfg.BufferInitSteps,
			TrainInterval:        cfg.TrainInterval,
			TargetUpdateInterval: cfg.TargetUpdateInterval,
			MaxSteps:             cfg.MaxSteps,
		}),
		store:        store,
		manager:      buffer.NewManager(store, update, cfg.SequenceLength),
		agg:          agg,
		sink:         sink,
		logger:       log.Default(),
		episodeSteps: make(map[model.AgentID]int),
	}, nil
}

// Step returns the environment interaction step count.
func (t *Trainer) Step() int64 {
	return t.sched.Step()
}

// Done reports whether the configured step budget is exhausted.
func (t *Trainer) Done() bool {
	return t.sched.Done()
}

// Buffer exposes the update buffer for persistence and inspection.
func (t *Trainer) Buffer() *buffer.UpdateBuffer {
	return t.manager.Update()
}

// RewardHistory exposes the recent completed-episode reward buffer.
func (t *Trainer) RewardHistory() *reward.History {
	return t.agg.History()
}

// Episodes returns the number of completed agent episodes observed.
func (t *Trainer) Episodes() int {
	return t.episodes
}

// PolicyRounds returns the number of policy update passes dispatched.
func (t *Trainer) PolicyRounds() int {
	return t.policyRounds
}

// IncrementStep advances the step counter once per environment interaction
// and feeds the mean recent reward to policies that track it.
func (t *Trainer) IncrementStep() {
	t.sched.IncrementStep()
	if mean, ok := t.agg.History().Mean(); ok {
		if ru, ok := t.policy.(RewardUpdater); ok {
			ru.UpdateReward(mean)
		}
	}
}

// AddExperiences reconciles a (curr, next) snapshot pair with the policy's
// action outputs: records last-seen context for every agent in curr,
// evaluates every reward signal, and appends one transition per agent in
// next whose prior step was not already terminal.
func (t *Trainer) AddExperiences(curr, next model.Snapshot, outputs model.ActionOutputs) error {
	if len(outputs.Entropy) > 0 {
		t.sink.Report("Policy/Entropy", stat.Mean(outputs.Entropy, nil))
	}

	for _, id := range curr.AgentIDs {
		t.store.RecordLast(id, curr, outputs)
	}

	currToUse := curr
	if !curr.SameAgents(next) {
		reconstructed, err := t.reconstructCurrent(next)
		if err != nil {
			return err
		}
		currToUse = reconstructed
	}

	evals, err := t.agg.EvaluateSignals(currToUse, next)
	if err != nil {
		return err
	}

	for nextIdx, id := range next.AgentIDs {
		slot := t.store.GetOrCreate(id)
		if slot.LastSnapshot == nil || slot.LastOutputs == nil {
			// Just spawned: nothing to attribute yet.
			continue
		}
		idx, ok := slot.LastSnapshot.Index(id)
		if !ok {
			return fmt.Errorf("agent %s absent from its own stored snapshot: %w", id, trajectory.ErrUnknownAgent)
		}
		// A prior terminal step means no transition or reward this pair;
		// recording one would double-count the terminal boundary. The episode
		// step count still advances below for the agent's fresh episode.
		if !slot.LastSnapshot.Dones[idx] {
			tr, err := t.buildTransition(slot, idx, next, nextIdx, evals)
			if err != nil {
				return err
			}
			t.store.Append(id, tr)

			if !tr.Done || !t.cfg.SkipTerminalReward {
				for name, eval := range evals {
					t.agg.Accumulate(id, name, eval.Unscaled[nextIdx])
				}
			}
		}
		if !next.Dones[nextIdx] {
			t.episodeSteps[id]++
		}
	}
	return nil
}

// reconstructCurrent builds a synthetic current snapshot aligned with next's
// agent ordering from each agent's last recorded snapshot, falling back to
// next itself for agents seen for the first time.
func (t *Trainer) reconstructCurrent(next model.Snapshot) (model.Snapshot, error) {
	out := model.Snapshot{AgentIDs: append([]model.AgentID(nil), next.AgentIDs...)}
	if len(next.VisualObs) > 0 {
		out.VisualObs = make([][][]float64, len(next.VisualObs))
	}
	for _, id := range next.AgentIDs {
		base := &next
		if slot := t.store.GetOrCreate(id); slot.LastSnapshot != nil {
			base = slot.LastSnapshot
		}
		idx, ok := base.Index(id)
		if !ok {
			return model.Snapshot{}, fmt.Errorf("agent %s absent from its stored snapshot: %w", id, trajectory.ErrUnknownAgent)
		}
		if len(base.VectorObs) > 0 {
			out.VectorObs = append(out.VectorObs, base.VectorObs[idx])
		}
		for cam := range base.VisualObs {
			out.VisualObs[cam] = append(out.VisualObs[cam], base.VisualObs[cam][idx])
		}
		if t.layout.recurrent {
			if len(base.Memories) > idx && len(base.Memories[idx]) > 0 {
				out.Memories = append(out.Memories, base.Memories[idx])
			} else {
				out.Memories = append(out.Memories, make([]float64, t.layout.memorySize))
			}
		}
		out.Rewards = append(out.Rewards, base.Rewards[idx])
		out.Dones = append(out.Dones, base.Dones[idx])
		if len(base.MaxReached) > idx {
			out.MaxReached = append(out.MaxReached, base.MaxReached[idx])
		}
		if len(base.PrevActions) > idx {
			out.PrevActions = append(out.PrevActions, base.PrevActions[idx])
		}
		if len(base.ActionMasks) > idx {
			out.ActionMasks = append(out.ActionMasks, base.ActionMasks[idx])
		}
	}
	return out, nil
}

func (t *Trainer) buildTransition(slot *trajectory.Trajectory, idx int, next model.Snapshot, nextIdx int, evals map[string]reward.Evaluation) (model.Transition, error) {
	stored := slot.LastSnapshot
	outs := slot.LastOutputs

	tr := model.Transition{
		Mask:    1,
		Done:    next.Dones[nextIdx],
		Values:  make(map[string]float64, len(evals)),
		Rewards: make(map[string]float64, len(evals)),
	}
	if len(stored.VectorObs) > 0 {
		if nextIdx >= len(next.VectorObs) {
			return model.Transition{}, fmt.Errorf("next snapshot carries %d vector observations, need index %d", len(next.VectorObs), nextIdx)
		}
		tr.VectorObs = stored.VectorObs[idx]
		tr.NextVectorObs = next.VectorObs[nextIdx]
	}
	for cam := range stored.VisualObs {
		tr.VisualObs = append(tr.VisualObs, stored.VisualObs[cam][idx])
		tr.NextVisualObs = append(tr.NextVisualObs, next.VisualObs[cam][nextIdx])
	}
	if t.layout.recurrent {
		if len(stored.Memories) > idx && len(stored.Memories[idx]) > 0 {
			tr.Memory = stored.Memories[idx]
		} else {
			tr.Memory = make([]float64, t.layout.memorySize)
		}
	}
	if idx >= len(outs.Actions) || idx >= len(outs.LogProbs) {
		return model.Transition{}, fmt.Errorf("stored action outputs cover %d agents, need index %d", len(outs.Actions), idx)
	}
	tr.Action = outs.Actions[idx]
	tr.LogProbs = outs.LogProbs[idx]
	if len(stored.PrevActions) > idx {
		tr.PrevAction = stored.PrevActions[idx]
	}
	if t.layout.discrete && len(stored.ActionMasks) > idx {
		tr.ActionMask = stored.ActionMasks[idx]
	}
	for name, eval := range evals {
		tr.Rewards[name] = eval.Scaled[nextIdx]
		if values, ok := outs.Values[name]; ok && idx < len(values) {
			tr.Values[name] = values[idx]
		}
	}
	return tr, nil
}

// ProcessExperiences checks each agent in next for a flush condition and
// closes completed episodes: finished trajectories move into the update
// buffer, episode lengths are reported, and reward ledgers flush into the
// recent-reward history.
func (t *Trainer) ProcessExperiences(next model.Snapshot) error {
	for i, id := range next.AgentIDs {
		done := next.Dones[i]
		flushed, err := t.manager.MaybeFlush(id, done, t.cfg.TimeHorizon)
		if err != nil {
			return err
		}
		if !flushed || !done {
			continue
		}
		t.episodes++
		t.sink.Report("Environment/Episode Length", float64(t.episodeSteps[id]))
		t.episodeSteps[id] = 0
		t.agg.FlushEpisode(id)
	}
	return nil
}

// EndEpisode handles a global episode end (simulation reset): every
// trajectory, episode step count, and ledger entry resets. Nothing is
// flushed; in-flight partial trajectories are discarded.
func (t *Trainer) EndEpisode() {
	t.store.ResetAll()
	for id := range t.episodeSteps {
		t.episodeSteps[id] = 0
	}
	t.agg.ResetAll()
}

// IsReadyUpdate reports whether the policy update gate is open this step.
func (t *Trainer) IsReadyUpdate() bool {
	return t.sched.PolicyUpdateDue(t.manager.Update().Len())
}

// UpdatePolicy dispatches the configured number of update rounds: sample a
// mini-batch, recompute each signal's scaled reward over the sampled window,
// and invoke the optimizer collaborator. Rounds without enough data are
// skipped, never errors. Afterwards the buffer is truncated to 80% of its
// cap when it overflowed, and mean losses are reported (NaN when every round
// was skipped).
func (t *Trainer) UpdatePolicy() error {
	buf := t.manager.Update()
	trainingLength := t.cfg.SequenceLength
	if trainingLength < 1 {
		trainingLength = 1
	}
	nSequences := t.cfg.BatchSize / trainingLength
	if nSequences < 1 {
		nSequences = 1
	}
	updateTarget := t.sched.TargetSyncDue()

	lossTotals := make(map[string][]float64)
	for round := 0; round < t.cfg.UpdatesPerTrain; round++ {
		mini, err := buf.SampleMiniBatch(t.cfg.BatchSize, trainingLength)
		if err != nil {
			if errors.Is(err, buffer.ErrInsufficientData) {
				continue
			}
			return err
		}
		if err := t.annotateRewards(mini); err != nil {
			return err
		}
		losses, err := t.policy.Update(mini, nSequences, updateTarget)
		if err != nil {
			return err
		}
		for name, v := range losses {
			lossTotals[name] = append(lossTotals[name], v)
		}
		t.policyRounds++
	}

	if buf.Len() > t.cfg.BufferSize {
		buf.TruncateTo(int(float64(t.cfg.BufferSize) * 0.8))
	}

	names := make([]string, 0, len(lossTotals))
	for name := range lossTotals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		values := lossTotals[name]
		mean := math.NaN()
		if len(values) > 0 {
			mean = stat.Mean(values, nil)
		}
		t.sink.Report(fmt.Sprintf("Losses/%s", name), mean)
	}

	return t.updateRewardSignals(buf, nSequences)
}

// annotateRewards overwrites each signal's recorded scaled rewards in the
// batch with freshly recomputed values.
func (t *Trainer) annotateRewards(mini buffer.MiniBatch) error {
	for _, sig := range t.agg.Signals() {
		scaled, err := sig.EvaluateBatch(mini)
		if err != nil {
			return &reward.EvaluationError{Signal: sig.Name(), Err: err}
		}
		rows := make([][]float64, len(scaled))
		for i, v := range scaled {
			rows[i] = []float64{v}
		}
		mini[buffer.RewardsField(sig.Name())] = rows
	}
	return nil
}

// updateRewardSignals runs the signals' own training rounds at their
// configured cadence, independent of the policy gate.
func (t *Trainer) updateRewardSignals(buf *buffer.UpdateBuffer, nSequences int) error {
	for _, sig := range t.agg.Signals() {
		updater, ok := sig.(reward.Updater)
		if !ok {
			continue
		}
		for round := 0; round < t.cfg.RewardSignalUpdatesPerTrain; round++ {
			signalStats, err := updater.Update(buf, nSequences)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(signalStats))
			for name := range signalStats {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				t.sink.Report(name, signalStats[name])
			}
		}
	}
	return nil
}

// SaveBuffer persists the update buffer to path as a single binary stream.
func (t *Trainer) SaveBuffer(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := t.manager.Update().Save(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// LoadBuffer restores the update buffer from path. A corrupt or incompatible
// stream is recovered by starting from an empty buffer with a warning;
// training proceeds from scratch. I/O errors propagate.
func (t *Trainer) LoadBuffer(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := t.manager.Update().Load(f); err != nil {
		if errors.Is(err, buffer.ErrBufferFormat) {
			t.logger.Printf("replay buffer at %s unreadable, starting empty: %v", path, err)
			t.manager.Update().Reset()
			return nil
		}
		return err
	}
	return nil
}
