package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"paideia/internal/scape"
	"paideia/internal/storage"
	"paideia/internal/trainer"
)

type recordingModule struct {
	name     string
	started  bool
	stopped  bool
	startErr error
}

func (m *recordingModule) Name() string { return m.name }

func (m *recordingModule) Start(context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.started = true
	return nil
}

func (m *recordingModule) Stop(context.Context) error {
	m.stopped = true
	return nil
}

func startedGymnasion(t *testing.T, modules ...SupportModule) *Gymnasion {
	t.Helper()
	g := NewGymnasion(Config{Store: storage.NewMemoryStore(), SupportModules: modules})
	if err := g.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return g
}

func registerCartPole(t *testing.T, g *Gymnasion, carts int) *scape.CartPoleSwarm {
	t.Helper()
	s, err := scape.NewCartPoleSwarm(carts, 7)
	if err != nil {
		t.Fatalf("new swarm: %v", err)
	}
	if err := g.RegisterScape(s); err != nil {
		t.Fatalf("register scape: %v", err)
	}
	return s
}

func TestInitRequiresStore(t *testing.T) {
	g := NewGymnasion(Config{})
	if err := g.Init(context.Background()); err == nil {
		t.Fatal("expected an error without a store")
	}
}

func TestInitStartsAndStopsSupportModules(t *testing.T) {
	module := &recordingModule{name: "exporter"}
	g := startedGymnasion(t, module)
	if !module.started {
		t.Fatal("support module not started")
	}
	if got := g.ActiveSupportModules(); len(got) != 1 || got[0] != "exporter" {
		t.Fatalf("active modules = %v", got)
	}

	g.Shutdown()
	if !module.stopped {
		t.Fatal("support module not stopped on shutdown")
	}
	if g.Started() {
		t.Fatal("still started after shutdown")
	}
	if g.LastStopReason() != StopReasonShutdown {
		t.Fatalf("stop reason = %s", g.LastStopReason())
	}
}

func TestInitRollsBackOnModuleFailure(t *testing.T) {
	first := &recordingModule{name: "first"}
	second := &recordingModule{name: "second", startErr: fmt.Errorf("port busy")}
	g := NewGymnasion(Config{Store: storage.NewMemoryStore(), SupportModules: []SupportModule{first, second}})
	if err := g.Init(context.Background()); err == nil {
		t.Fatal("expected init to fail")
	}
	if !first.stopped {
		t.Fatal("started module not rolled back")
	}
	if g.Started() {
		t.Fatal("gymnasion started despite failed init")
	}
}

func TestRegisterScapeRequiresInit(t *testing.T) {
	g := NewGymnasion(Config{Store: storage.NewMemoryStore()})
	s, err := scape.NewCartPoleSwarm(1, 1)
	if err != nil {
		t.Fatalf("new swarm: %v", err)
	}
	if err := g.RegisterScape(s); err == nil {
		t.Fatal("expected an error before init")
	}
}

func TestRunTrainingEndToEnd(t *testing.T) {
	g := startedGymnasion(t)
	registerCartPole(t, g, 2)

	result, err := g.RunTraining(context.Background(), TrainingConfig{
		RunID:     "run-e2e",
		ScapeName: "cart-pole-swarm",
		Trainer: trainer.Config{
			BatchSize:        16,
			BufferSize:       2000,
			TimeHorizon:      32,
			RewardHistoryCap: 20,
			MaxSteps:         400,
			Seed:             7,
		},
	})
	if err != nil {
		t.Fatalf("run training: %v", err)
	}
	if result.Steps != 400 {
		t.Fatalf("steps = %d, want 400", result.Steps)
	}
	if result.Episodes == 0 {
		t.Fatal("no episodes completed in 400 steps")
	}
	if result.PolicyRounds == 0 {
		t.Fatal("no policy updates dispatched")
	}
	if len(result.RecentRewards) == 0 {
		t.Fatal("no rewards recorded")
	}

	// The session's artifacts land in the store.
	ctx := context.Background()
	record, ok, err := g.store.GetRunRecord(ctx, "run-e2e")
	if err != nil || !ok {
		t.Fatalf("run record: ok=%v err=%v", ok, err)
	}
	if record.Scape != "cart-pole-swarm" || record.Steps != 400 {
		t.Fatalf("run record mismatch: %+v", record)
	}
	if _, ok, _ := g.store.GetRewardHistory(ctx, "run-e2e"); !ok {
		t.Fatal("reward history not persisted")
	}
	if _, ok, _ := g.store.GetPolicyWeights(ctx, "run-e2e"); !ok {
		t.Fatal("policy weights not persisted")
	}
	if payload, ok, _ := g.store.GetBufferSnapshot(ctx, "run-e2e"); !ok || len(payload) == 0 {
		t.Fatal("buffer snapshot not persisted")
	}
}

func TestRunTrainingWithDemonstrations(t *testing.T) {
	g := startedGymnasion(t)
	registerCartPole(t, g, 2)
	ctx := context.Background()

	// Record a source run whose persisted replay buffer doubles as the
	// demonstration set.
	base := trainer.Config{
		BatchSize:        16,
		BufferSize:       2000,
		TimeHorizon:      32,
		RewardHistoryCap: 20,
		MaxSteps:         200,
	}
	source := base
	source.Seed = 3
	if _, err := g.RunTraining(ctx, TrainingConfig{
		RunID:     "run-demo-source",
		ScapeName: "cart-pole-swarm",
		Trainer:   source,
	}); err != nil {
		t.Fatalf("source run: %v", err)
	}
	payload, ok, err := g.store.GetBufferSnapshot(ctx, "run-demo-source")
	if err != nil || !ok {
		t.Fatalf("buffer snapshot: ok=%v err=%v", ok, err)
	}
	dir := t.TempDir()
	demoPath := filepath.Join(dir, "demos.bin")
	if err := os.WriteFile(demoPath, payload, 0o644); err != nil {
		t.Fatalf("write demos: %v", err)
	}

	cloned := base
	cloned.Seed = 5
	result, err := g.RunTraining(ctx, TrainingConfig{
		RunID:          "run-cloned",
		ScapeName:      "cart-pole-swarm",
		Trainer:        cloned,
		DemoBufferPath: demoPath,
		DemoMaxBatches: 2,
	})
	if err != nil {
		t.Fatalf("cloned run: %v", err)
	}
	if len(result.MetricSeries["Losses/Cloning Loss"]) == 0 {
		t.Fatal("no cloning loss reported with a demo buffer configured")
	}

	// A missing demo file fails the run up front.
	missing := base
	missing.Seed = 7
	if _, err := g.RunTraining(ctx, TrainingConfig{
		ScapeName:      "cart-pole-swarm",
		Trainer:        missing,
		DemoBufferPath: filepath.Join(dir, "missing.bin"),
	}); err == nil {
		t.Fatal("expected an error for a missing demo buffer")
	}
}

func TestRunTrainingVariablePopulation(t *testing.T) {
	g := startedGymnasion(t)
	s, err := scape.NewFlatlandForage(30, 3, 5, 11)
	if err != nil {
		t.Fatalf("new flatland: %v", err)
	}
	if err := g.RegisterScape(s); err != nil {
		t.Fatalf("register scape: %v", err)
	}

	result, err := g.RunTraining(context.Background(), TrainingConfig{
		ScapeName: "flatland-forage",
		Trainer: trainer.Config{
			BatchSize:        8,
			BufferSize:       1000,
			TimeHorizon:      64,
			RewardHistoryCap: 50,
			MaxSteps:         300,
			Seed:             11,
		},
	})
	if err != nil {
		t.Fatalf("run training: %v", err)
	}
	if result.RunID != "train:flatland-forage:11" {
		t.Fatalf("default run id = %s", result.RunID)
	}
	if result.Steps != 300 {
		t.Fatalf("steps = %d, want 300", result.Steps)
	}
}

func TestRunTrainingHonorsCancellation(t *testing.T) {
	g := startedGymnasion(t)
	registerCartPole(t, g, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.RunTraining(ctx, TrainingConfig{
		ScapeName: "cart-pole-swarm",
		Trainer: trainer.Config{
			BatchSize:        4,
			BufferSize:       100,
			TimeHorizon:      16,
			RewardHistoryCap: 10,
			MaxSteps:         1000,
		},
	}); err == nil {
		t.Fatal("expected a cancellation error")
	}
}

func TestRunTrainingValidation(t *testing.T) {
	g := startedGymnasion(t)

	if _, err := g.RunTraining(context.Background(), TrainingConfig{}); err == nil {
		t.Fatal("expected an error for a missing scape name")
	}
	if _, err := g.RunTraining(context.Background(), TrainingConfig{
		ScapeName: "unregistered",
		Trainer:   trainer.Config{MaxSteps: 10},
	}); err == nil {
		t.Fatal("expected an error for an unregistered scape")
	}
}

func TestResetReinitializesStore(t *testing.T) {
	g := startedGymnasion(t)
	registerCartPole(t, g, 1)

	if err := g.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !g.Started() {
		t.Fatal("not started after reset")
	}
	if len(g.RegisteredScapes()) != 0 {
		t.Fatal("scapes survived reset")
	}
}

func TestDefaultInstanceLifecycle(t *testing.T) {
	t.Cleanup(func() { _ = StopDefault(StopReasonShutdown) })

	if _, ok := Default(); ok {
		t.Fatal("default instance exists before start")
	}
	g, err := StartDefault(context.Background(), Config{Store: storage.NewMemoryStore()})
	if err != nil {
		t.Fatalf("start default: %v", err)
	}
	got, ok := Default()
	if !ok || got != g {
		t.Fatal("default instance not returned")
	}
	// Starting again returns the same instance.
	again, err := StartDefault(context.Background(), Config{Store: storage.NewMemoryStore()})
	if err != nil || again != g {
		t.Fatalf("second start: %v", err)
	}
	if err := StopDefault(StopReasonNormal); err != nil {
		t.Fatalf("stop default: %v", err)
	}
	if _, ok := Default(); ok {
		t.Fatal("default instance survived stop")
	}
}
