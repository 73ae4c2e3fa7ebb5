// Package paideia is the embedding API for the training platform: it wires
// storage, the gymnasion, and artifact writing behind a small client so
// programs and the CLI drive training runs the same way.
package paideia

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"paideia/internal/platform"
	"paideia/internal/scape"
	"paideia/internal/scapeid"
	"paideia/internal/stats"
	"paideia/internal/storage"
	"paideia/internal/trainer"
)

const (
	defaultBenchmarksDir = "benchmarks"
	defaultExportsDir    = "exports"
	defaultDBPath        = "paideia.db"
)

type Options struct {
	StoreKind     string
	DBPath        string
	BenchmarksDir string
	ExportsDir    string
}

type Client struct {
	store storage.Store
	gym   *platform.Gymnasion

	benchmarksDir string
	exportsDir    string
}

type RunRequest struct {
	Scape string
	RunID string
	Seed  int64

	MaxSteps                    int64
	NumAgents                   int
	BatchSize                   int
	BufferSize                  int
	BufferInitSteps             int64
	TimeHorizon                 int
	SequenceLength              int
	TrainInterval               int64
	TargetUpdateInterval        int64
	UpdatesPerTrain             int
	RewardSignalUpdatesPerTrain int
	RewardHistoryCap            int

	LearningRate float64
	Gamma        float64
	EntropyCoef  float64

	// DemoBufferPath, when set, points at an exported replay buffer used as
	// demonstrations by a behavioral-cloning reward signal.
	DemoBufferPath string
	DemoMaxBatches int

	SummaryInterval     int64
	GlobalResetInterval int64
}

type RunSummary struct {
	RunID        string
	ArtifactsDir string
	Scape        string
	Steps        int64
	Episodes     int
	PolicyRounds int
	MeanReward   float64
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Scape        string
	Seed         int64
	Steps        int64
	Episodes     int
	MeanReward   float64
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type RewardHistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type BufferRequest struct {
	RunID   string
	Latest  bool
	OutPath string
}

type BufferSummary struct {
	RunID string
	Path  string
	Bytes int
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	benchmarksDir := opts.BenchmarksDir
	if benchmarksDir == "" {
		benchmarksDir = defaultBenchmarksDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:         store,
		benchmarksDir: benchmarksDir,
		exportsDir:    exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensureGymnasion(ctx)
	return err
}

// Run executes one full training session and writes its artifacts. Zero
// request fields fall back to defaults before validation.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	req.Scape = scapeid.Normalize(req.Scape)
	if req.Scape == "" {
		req.Scape = "cart-pole-swarm"
	}
	if req.NumAgents <= 0 {
		req.NumAgents = 4
	}
	if req.MaxSteps <= 0 {
		req.MaxSteps = 5000
	}
	if req.BatchSize <= 0 {
		req.BatchSize = 64
	}
	if req.BufferSize <= 0 {
		req.BufferSize = 5000
	}
	if req.TimeHorizon <= 0 {
		req.TimeHorizon = 64
	}
	if req.RewardHistoryCap <= 0 {
		req.RewardHistoryCap = 100
	}
	if req.BufferSize < req.BatchSize {
		return RunSummary{}, fmt.Errorf("buffer size %d is smaller than batch size %d", req.BufferSize, req.BatchSize)
	}
	runID := req.RunID
	if runID == "" {
		runID = fmt.Sprintf("%s-%s", req.Scape, uuid.NewString())
	}

	g, err := c.ensureGymnasion(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	sc, err := buildScape(req)
	if err != nil {
		return RunSummary{}, err
	}
	if err := g.RegisterScape(sc); err != nil {
		return RunSummary{}, err
	}

	now := time.Now().UTC()
	result, err := g.RunTraining(ctx, platform.TrainingConfig{
		RunID:     runID,
		ScapeName: req.Scape,
		Trainer: trainer.Config{
			BatchSize:                   req.BatchSize,
			BufferSize:                  req.BufferSize,
			BufferInitSteps:             req.BufferInitSteps,
			TimeHorizon:                 req.TimeHorizon,
			SequenceLength:              req.SequenceLength,
			TrainInterval:               req.TrainInterval,
			TargetUpdateInterval:        req.TargetUpdateInterval,
			UpdatesPerTrain:             req.UpdatesPerTrain,
			RewardSignalUpdatesPerTrain: req.RewardSignalUpdatesPerTrain,
			MaxSteps:                    req.MaxSteps,
			RewardHistoryCap:            req.RewardHistoryCap,
			Seed:                        req.Seed,
		},
		LearningRate:        req.LearningRate,
		Gamma:               req.Gamma,
		EntropyCoef:         req.EntropyCoef,
		DemoBufferPath:      req.DemoBufferPath,
		DemoMaxBatches:      req.DemoMaxBatches,
		SummaryInterval:     req.SummaryInterval,
		GlobalResetInterval: req.GlobalResetInterval,
	})
	if err != nil {
		return RunSummary{}, err
	}

	runDir, err := stats.WriteRunArtifacts(c.benchmarksDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:                       runID,
			Scape:                       req.Scape,
			Seed:                        req.Seed,
			MaxSteps:                    req.MaxSteps,
			BatchSize:                   req.BatchSize,
			BufferSize:                  req.BufferSize,
			BufferInitSteps:             req.BufferInitSteps,
			TimeHorizon:                 req.TimeHorizon,
			SequenceLength:              req.SequenceLength,
			TrainInterval:               req.TrainInterval,
			TargetUpdateInterval:        req.TargetUpdateInterval,
			UpdatesPerTrain:             req.UpdatesPerTrain,
			RewardSignalUpdatesPerTrain: req.RewardSignalUpdatesPerTrain,
			RewardHistoryCap:            req.RewardHistoryCap,
			LearningRate:                req.LearningRate,
			Gamma:                       req.Gamma,
			EntropyCoef:                 req.EntropyCoef,
			SummaryInterval:             req.SummaryInterval,
			DemoBufferPath:              req.DemoBufferPath,
		},
		Summary: stats.RunSummary{
			RunID:        runID,
			Scape:        req.Scape,
			Steps:        result.Steps,
			Episodes:     result.Episodes,
			PolicyRounds: result.PolicyRounds,
			MeanReward:   result.MeanReward,
			RecentReward: recentReward(result.RecentRewards),
		},
		RewardHistory: result.RecentRewards,
		MetricSeries:  result.MetricSeries,
	})
	if err != nil {
		return RunSummary{}, err
	}

	if err := stats.AppendRunIndex(c.benchmarksDir, stats.RunIndexEntry{
		RunID:        runID,
		Scape:        req.Scape,
		Seed:         req.Seed,
		Steps:        result.Steps,
		Episodes:     result.Episodes,
		MeanReward:   result.MeanReward,
		CreatedAtUTC: now.Format(time.RFC3339Nano),
	}); err != nil {
		return RunSummary{}, err
	}

	return RunSummary{
		RunID:        runID,
		ArtifactsDir: filepath.Clean(runDir),
		Scape:        req.Scape,
		Steps:        result.Steps,
		Episodes:     result.Episodes,
		PolicyRounds: result.PolicyRounds,
		MeanReward:   result.MeanReward,
	}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.benchmarksDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	items := make([]RunItem, 0, len(entries))
	for _, entry := range entries {
		items = append(items, RunItem{
			RunID:        entry.RunID,
			CreatedAtUTC: entry.CreatedAtUTC,
			Scape:        entry.Scape,
			Seed:         entry.Seed,
			Steps:        entry.Steps,
			Episodes:     entry.Episodes,
			MeanReward:   entry.MeanReward,
		})
	}
	return items, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	outDir := req.OutDir
	if outDir == "" {
		outDir = c.exportsDir
	}

	dir, err := stats.ExportRunArtifacts(c.benchmarksDir, runID, outDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: dir}, nil
}

// RewardHistory returns a run's completed-episode rewards, most recent
// first. Limit of zero returns the whole history.
func (c *Client) RewardHistory(ctx context.Context, req RewardHistoryRequest) ([]float64, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	if _, err := c.ensureGymnasion(ctx); err != nil {
		return nil, err
	}

	values, ok, err := c.store.GetRewardHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no reward history for run %s", runID)
	}
	if req.Limit > 0 && len(values) > req.Limit {
		values = values[:req.Limit]
	}
	return values, nil
}

// Buffer writes a run's persisted replay buffer snapshot to OutPath.
func (c *Client) Buffer(ctx context.Context, req BufferRequest) (BufferSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return BufferSummary{}, err
	}
	if req.OutPath == "" {
		return BufferSummary{}, fmt.Errorf("output path is required")
	}
	if _, err := c.ensureGymnasion(ctx); err != nil {
		return BufferSummary{}, err
	}

	payload, ok, err := c.store.GetBufferSnapshot(ctx, runID)
	if err != nil {
		return BufferSummary{}, err
	}
	if !ok {
		return BufferSummary{}, fmt.Errorf("no buffer snapshot for run %s", runID)
	}
	if err := os.WriteFile(req.OutPath, payload, 0o644); err != nil {
		return BufferSummary{}, err
	}
	return BufferSummary{RunID: runID, Path: req.OutPath, Bytes: len(payload)}, nil
}

func (c *Client) Reset(ctx context.Context) error {
	g, err := c.ensureGymnasion(ctx)
	if err != nil {
		return err
	}
	return g.Reset(ctx)
}

func (c *Client) ensureGymnasion(ctx context.Context) (*platform.Gymnasion, error) {
	if c.gym != nil && c.gym.Started() {
		return c.gym, nil
	}
	g := platform.NewGymnasion(platform.Config{Store: c.store})
	if err := g.Init(ctx); err != nil {
		return nil, err
	}
	c.gym = g
	return g, nil
}

func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" {
		return runID, nil
	}
	if !latest {
		return "", fmt.Errorf("run id is required (or request the latest run)")
	}
	entries, err := stats.ListRunIndex(c.benchmarksDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no runs recorded")
	}
	return entries[0].RunID, nil
}

func recentReward(history []float64) float64 {
	if len(history) == 0 {
		return 0
	}
	return history[0]
}

func buildScape(req RunRequest) (scape.Scape, error) {
	switch req.Scape {
	case "cart-pole-swarm":
		return scape.NewCartPoleSwarm(req.NumAgents, req.Seed)
	case "flatland-forage":
		width := req.NumAgents * 10
		if width < 20 {
			width = 20
		}
		return scape.NewFlatlandForage(width, req.NumAgents, width/5, req.Seed)
	default:
		return nil, fmt.Errorf("unsupported scape: %s", req.Scape)
	}
}
