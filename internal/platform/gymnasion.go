// Package platform wires scapes, policies, trainers, and storage into
// runnable training sessions. The Gymnasion owns the registries and the
// single-threaded interaction loop; everything agent-facing happens one
// environment step at a time.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"paideia/internal/buffer"
	"paideia/internal/model"
	"paideia/internal/policy"
	"paideia/internal/reward"
	"paideia/internal/scape"
	"paideia/internal/stats"
	"paideia/internal/storage"
	"paideia/internal/trainer"
)

type Config struct {
	Store          storage.Store
	SupportModules []SupportModule
}

// SupportModule is a long-lived side service started with the platform and
// stopped with it (exporters, watchdogs, remote endpoints).
type SupportModule interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type StopReason string

const (
	StopReasonNormal   StopReason = "normal"
	StopReasonShutdown StopReason = "shutdown"
)

// TrainingConfig describes one training session on a registered scape.
type TrainingConfig struct {
	RunID     string
	ScapeName string

	Trainer trainer.Config

	LearningRate      float64
	Gamma             float64
	EntropyCoef       float64
	ExtrinsicStrength float64

	// DemoBufferPath points at a recorded replay buffer of demonstrations.
	// When set, a behavioral-cloning signal trains the policy against it at
	// the reward-signal cadence.
	DemoBufferPath string
	// DemoMaxBatches caps cloning batches per signal update; zero runs every
	// batch the demonstration buffer can fill.
	DemoMaxBatches int

	// SummaryInterval steps between progress log lines; zero disables them.
	SummaryInterval int64

	// GlobalResetInterval steps between full simulation resets; zero keeps
	// the world running for the whole session.
	GlobalResetInterval int64
}

type TrainingResult struct {
	RunID        string
	Scape        string
	Steps        int64
	Episodes     int
	PolicyRounds int
	MeanReward   float64
	// RecentRewards holds completed-episode rewards, most recent first.
	RecentRewards []float64
	MetricSeries  map[string][]float64
}

type Gymnasion struct {
	store storage.Store

	mu sync.RWMutex

	scapes         map[string]scape.Scape
	supportModules map[string]SupportModule
	started        bool
	lastStopReason StopReason

	logger *log.Logger
	config Config
}

var (
	defaultGymnasionMu sync.Mutex
	defaultGymnasion   *Gymnasion
)

func NewGymnasion(cfg Config) *Gymnasion {
	return &Gymnasion{
		store:          cfg.Store,
		scapes:         make(map[string]scape.Scape),
		supportModules: make(map[string]SupportModule),
		logger:         log.Default(),
		config:         cfg,
		lastStopReason: StopReasonNormal,
	}
}

func StartDefault(ctx context.Context, cfg Config) (*Gymnasion, error) {
	defaultGymnasionMu.Lock()
	defer defaultGymnasionMu.Unlock()

	if defaultGymnasion != nil && defaultGymnasion.Started() {
		return defaultGymnasion, nil
	}

	g := NewGymnasion(cfg)
	if err := g.Init(ctx); err != nil {
		return nil, err
	}
	defaultGymnasion = g
	return defaultGymnasion, nil
}

func Default() (*Gymnasion, bool) {
	defaultGymnasionMu.Lock()
	g := defaultGymnasion
	defaultGymnasionMu.Unlock()

	if g == nil || !g.Started() {
		return nil, false
	}
	return g, true
}

func StopDefault(reason StopReason) error {
	defaultGymnasionMu.Lock()
	g := defaultGymnasion
	defaultGymnasionMu.Unlock()
	if g == nil {
		return nil
	}
	if err := g.StopWithReason(reason); err != nil {
		return err
	}
	defaultGymnasionMu.Lock()
	if defaultGymnasion == g {
		defaultGymnasion = nil
	}
	defaultGymnasionMu.Unlock()
	return nil
}

func (g *Gymnasion) Init(ctx context.Context) error {
	if g.store == nil {
		return fmt.Errorf("store is required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return nil
	}
	if err := g.store.Init(ctx); err != nil {
		return err
	}

	started := make([]SupportModule, 0, len(g.config.SupportModules))
	rollback := func() {
		for _, module := range started {
			_ = module.Stop(ctx)
		}
		g.supportModules = make(map[string]SupportModule)
		g.scapes = make(map[string]scape.Scape)
	}
	for i, module := range g.config.SupportModules {
		if module == nil {
			rollback()
			return fmt.Errorf("support module is nil at index %d", i)
		}
		name := module.Name()
		if name == "" {
			rollback()
			return fmt.Errorf("support module name is required at index %d", i)
		}
		if _, exists := g.supportModules[name]; exists {
			rollback()
			return fmt.Errorf("duplicate support module: %s", name)
		}
		if err := module.Start(ctx); err != nil {
			rollback()
			return fmt.Errorf("start support module %s: %w", name, err)
		}
		g.supportModules[name] = module
		started = append(started, module)
	}

	g.started = true
	return nil
}

func (g *Gymnasion) Reset(ctx context.Context) error {
	_ = g.StopWithReason(StopReasonShutdown)
	if resetter, ok := g.store.(storage.Resetter); ok {
		if err := resetter.Reset(ctx); err != nil {
			return err
		}
	}
	return g.Init(ctx)
}

func (g *Gymnasion) RegisterScape(s scape.Scape) error {
	if s == nil {
		return fmt.Errorf("scape is nil")
	}
	name := s.Name()
	if name == "" {
		return fmt.Errorf("scape name is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started {
		return fmt.Errorf("gymnasion is not initialized")
	}
	g.scapes[name] = s
	return nil
}

func (g *Gymnasion) GetScape(name string) (scape.Scape, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s, ok := g.scapes[name]
	return s, ok
}

func (g *Gymnasion) RegisteredScapes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.scapes))
	for name := range g.scapes {
		names = append(names, name)
	}
	return names
}

func (g *Gymnasion) ActiveSupportModules() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.supportModules))
	for name := range g.supportModules {
		names = append(names, name)
	}
	return names
}

func (g *Gymnasion) Stop() {
	_ = g.StopWithReason(StopReasonNormal)
}

func (g *Gymnasion) Shutdown() {
	_ = g.StopWithReason(StopReasonShutdown)
}

func (g *Gymnasion) StopWithReason(reason StopReason) error {
	if reason == "" {
		reason = StopReasonNormal
	}
	switch reason {
	case StopReasonNormal, StopReasonShutdown:
	default:
		return fmt.Errorf("unsupported stop reason: %s", reason)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, module := range g.supportModules {
		_ = module.Stop(context.Background())
	}

	g.started = false
	g.lastStopReason = reason
	g.scapes = make(map[string]scape.Scape)
	g.supportModules = make(map[string]SupportModule)
	return nil
}

func (g *Gymnasion) Started() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.started
}

func (g *Gymnasion) LastStopReason() StopReason {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastStopReason
}

// RunTraining drives one full training session: act, reconcile experiences,
// advance the schedule, update when the gate opens. Cancellation is honored
// between steps only, so no step is ever half-processed.
func (g *Gymnasion) RunTraining(ctx context.Context, cfg TrainingConfig) (TrainingResult, error) {
	if cfg.ScapeName == "" {
		return TrainingResult{}, fmt.Errorf("scape name is required")
	}
	if cfg.Trainer.MaxSteps <= 0 {
		return TrainingResult{}, fmt.Errorf("max steps must be > 0")
	}

	g.mu.RLock()
	sc, ok := g.scapes[cfg.ScapeName]
	started := g.started
	g.mu.RUnlock()

	if !started {
		return TrainingResult{}, fmt.Errorf("gymnasion is not initialized")
	}
	if !ok {
		return TrainingResult{}, fmt.Errorf("scape not registered: %s", cfg.ScapeName)
	}

	runID := cfg.RunID
	if runID == "" {
		runID = fmt.Sprintf("train:%s:%d", cfg.ScapeName, cfg.Trainer.Seed)
	}

	spec := sc.Spec()
	pol, err := policy.New(policy.Config{
		ObsSize:      spec.ObsSize,
		NumActions:   spec.NumActions,
		LearningRate: cfg.LearningRate,
		Gamma:        cfg.Gamma,
		EntropyCoef:  cfg.EntropyCoef,
		Seed:         cfg.Trainer.Seed,
	})
	if err != nil {
		return TrainingResult{}, err
	}

	strength := cfg.ExtrinsicStrength
	if strength == 0 {
		strength = 1
	}
	trainerCfg := cfg.Trainer
	if trainerCfg.ActionKind == "" {
		trainerCfg.ActionKind = model.ActionDiscrete
	}

	signals := []reward.Signal{reward.Extrinsic{Strength: strength}}
	if cfg.DemoBufferPath != "" {
		demos, err := loadDemoBuffer(cfg.DemoBufferPath, trainerCfg.Seed)
		if err != nil {
			return TrainingResult{}, err
		}
		seqLen := trainerCfg.SequenceLength
		if seqLen < 1 {
			seqLen = 1
		}
		signals = append(signals, reward.NewDemonstration(pol, demos, trainerCfg.BatchSize/seqLen, cfg.DemoMaxBatches, pol.LearningRate()))
	}

	sink := stats.NewMemorySink()
	tr, err := trainer.New(trainerCfg, pol, signals, sink)
	if err != nil {
		return TrainingResult{}, err
	}

	series := make(map[string][]float64)
	snap := sc.Reset()
	for !tr.Done() {
		if err := ctx.Err(); err != nil {
			return TrainingResult{}, err
		}

		outputs, err := pol.Act(snap)
		if err != nil {
			return TrainingResult{}, fmt.Errorf("act at step %d: %w", tr.Step(), err)
		}
		next, err := sc.Step(outputs)
		if err != nil {
			return TrainingResult{}, fmt.Errorf("scape step %d: %w", tr.Step(), err)
		}
		if err := tr.AddExperiences(snap, next, outputs); err != nil {
			return TrainingResult{}, fmt.Errorf("add experiences at step %d: %w", tr.Step(), err)
		}
		if err := tr.ProcessExperiences(next); err != nil {
			return TrainingResult{}, fmt.Errorf("process experiences at step %d: %w", tr.Step(), err)
		}
		tr.IncrementStep()

		if tr.IsReadyUpdate() {
			if err := tr.UpdatePolicy(); err != nil {
				return TrainingResult{}, fmt.Errorf("policy update at step %d: %w", tr.Step(), err)
			}
		}

		if cfg.GlobalResetInterval > 0 && tr.Step()%cfg.GlobalResetInterval == 0 {
			tr.EndEpisode()
			next = sc.Reset()
		}
		if cfg.SummaryInterval > 0 && tr.Step()%cfg.SummaryInterval == 0 {
			g.drainSummary(runID, tr, sink, series)
		}
		snap = next
	}
	g.drainSummary(runID, tr, sink, series)

	mean, _ := tr.RewardHistory().Mean()
	result := TrainingResult{
		RunID:         runID,
		Scape:         cfg.ScapeName,
		Steps:         tr.Step(),
		Episodes:      tr.Episodes(),
		PolicyRounds:  tr.PolicyRounds(),
		MeanReward:    mean,
		RecentRewards: tr.RewardHistory().Values(),
		MetricSeries:  series,
	}

	if err := g.persistRun(ctx, cfg, result, tr, pol); err != nil {
		return TrainingResult{}, err
	}
	return result, nil
}

// loadDemoBuffer reads a recorded replay buffer to clone from. Unlike the
// trainer's own buffer restore, an unreadable file is an error here: the
// caller asked for this path explicitly.
func loadDemoBuffer(path string, seed int64) (*buffer.UpdateBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open demo buffer: %w", err)
	}
	defer f.Close()

	demos := buffer.NewUpdateBuffer(seed)
	if err := demos.Load(f); err != nil {
		return nil, fmt.Errorf("load demo buffer %s: %w", path, err)
	}
	return demos, nil
}

// drainSummary folds the sink's series into the run-wide series and logs a
// one-line progress summary.
func (g *Gymnasion) drainSummary(runID string, tr *trainer.Trainer, sink *stats.MemorySink, series map[string][]float64) {
	for name, values := range sink.Drain() {
		series[name] = append(series[name], values...)
	}
	if mean, ok := tr.RewardHistory().Mean(); ok {
		g.logger.Printf("run %s: step %d, %d episodes, mean reward %.3f", runID, tr.Step(), tr.Episodes(), mean)
	}
}

func (g *Gymnasion) persistRun(ctx context.Context, cfg TrainingConfig, result TrainingResult, tr *trainer.Trainer, pol *policy.Linear) error {
	record := model.RunRecord{
		VersionedRecord: storage.Stamp(),
		ID:              result.RunID,
		Scape:           result.Scape,
		Seed:            cfg.Trainer.Seed,
		Steps:           result.Steps,
		Episodes:        result.Episodes,
		PolicyRounds:    result.PolicyRounds,
		MeanReward:      result.MeanReward,
		CreatedAtUTC:    time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := g.store.SaveRunRecord(ctx, record); err != nil {
		return err
	}
	if err := g.store.SaveRewardHistory(ctx, result.RunID, result.RecentRewards); err != nil {
		return err
	}
	if err := g.store.SaveMetricSeries(ctx, result.RunID, result.MetricSeries); err != nil {
		return err
	}

	weights, err := json.Marshal(pol.Weights())
	if err != nil {
		return err
	}
	if err := g.store.SavePolicyWeights(ctx, result.RunID, weights); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := tr.Buffer().Save(&buf); err != nil {
		return err
	}
	return g.store.SaveBufferSnapshot(ctx, result.RunID, buf.Bytes())
}
