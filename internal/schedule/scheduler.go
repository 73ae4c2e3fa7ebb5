package schedule

// Scheduler gates policy updates, target-network syncs, and reward-signal
// updates against a process-wide step counter. The gates are independent
// booleans evaluated each step, not mutually exclusive states.
type Scheduler struct {
	step int64

	batchSize            int
	bufferInitSteps      int64
	trainInterval        int64
	targetUpdateInterval int64
	maxSteps             int64
}

type Config struct {
	BatchSize            int
	BufferInitSteps      int64
	TrainInterval        int64
	TargetUpdateInterval int64
	MaxSteps             int64
}

func New(cfg Config) *Scheduler {
	if cfg.TrainInterval < 1 {
		cfg.TrainInterval = 1
	}
	if cfg.TargetUpdateInterval < 1 {
		cfg.TargetUpdateInterval = 1
	}
	return &Scheduler{
		batchSize:            cfg.BatchSize,
		bufferInitSteps:      cfg.BufferInitSteps,
		trainInterval:        cfg.TrainInterval,
		targetUpdateInterval: cfg.TargetUpdateInterval,
		maxSteps:             cfg.MaxSteps,
	}
}

// IncrementStep advances the counter once per environment interaction step.
func (s *Scheduler) IncrementStep() {
	s.step++
}

func (s *Scheduler) Step() int64 {
	return s.step
}

// PolicyUpdateDue reports whether a policy update should fire given the
// current update-buffer length.
func (s *Scheduler) PolicyUpdateDue(bufferLen int) bool {
	return bufferLen >= s.batchSize &&
		s.step%s.trainInterval == 0 &&
		s.step >= s.bufferInitSteps
}

// TargetSyncDue reports whether this step's update should also sync the
// target network. The sync itself is the optimizer collaborator's concern.
func (s *Scheduler) TargetSyncDue() bool {
	return s.step%s.targetUpdateInterval == 0
}

// Done reports whether the configured step budget is exhausted. A max of
// zero means unbounded.
func (s *Scheduler) Done() bool {
	return s.maxSteps > 0 && s.step >= s.maxSteps
}
