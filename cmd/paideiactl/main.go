package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"paideia/internal/platform"
	"paideia/internal/stats"
	"paideia/internal/storage"
	paiapi "paideia/pkg/paideia"
)

const (
	benchmarksDir = "benchmarks"
	exportsDir    = "exports"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "rewards":
		return runRewards(ctx, args[1:])
	case "buffer":
		return runBuffer(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "paideia.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := storage.NewStore(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = storage.CloseIfSupported(store)
	}()

	gym := platform.NewGymnasion(platform.Config{Store: store})
	if err := gym.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "paideia.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := storage.NewStore(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = storage.CloseIfSupported(store)
	}()

	gym := platform.NewGymnasion(platform.Config{Store: store})
	if err := gym.Reset(ctx); err != nil {
		return err
	}

	fmt.Printf("reset store=%s\n", *storeKind)
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional run config JSON path")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	scapeName := fs.String("scape", "cart-pole-swarm", "scape name: cart-pole-swarm|flatland-forage")
	numAgents := fs.Int("agents", 4, "agent count")
	maxSteps := fs.Int64("max-steps", 5000, "environment step budget")
	batchSize := fs.Int("batch-size", 64, "minibatch size per policy round")
	bufferSize := fs.Int("buffer-size", 5000, "replay buffer capacity in transitions")
	bufferInitSteps := fs.Int64("buffer-init-steps", 0, "steps before the first policy update")
	timeHorizon := fs.Int("time-horizon", 64, "max transitions held per agent before a flush")
	sequenceLength := fs.Int("sequence-length", 1, "sampled sequence length")
	trainInterval := fs.Int64("train-interval", 1, "steps between policy update rounds")
	targetUpdateInterval := fs.Int64("target-update-interval", 1, "update rounds between target network syncs")
	updatesPerTrain := fs.Int("updates-per-train", 1, "policy rounds per scheduled update")
	rewardSignalUpdates := fs.Int("reward-signal-updates", 1, "reward signal rounds per scheduled update")
	rewardHistoryCap := fs.Int("reward-history-cap", 100, "episode rewards retained for summaries")
	learningRate := fs.Float64("learning-rate", 0.003, "policy learning rate")
	gamma := fs.Float64("gamma", 0.99, "reward discount factor")
	entropyCoef := fs.Float64("entropy-coef", 0.01, "entropy bonus coefficient")
	demoBuffer := fs.String("demo-buffer", "", "exported replay buffer to clone from (optional)")
	demoMaxBatches := fs.Int("demo-max-batches", 0, "cloning batches per reward signal round (0 runs all)")
	summaryInterval := fs.Int64("summary-interval", 0, "steps between metric summary drains (0 drains once at the end)")
	globalResetInterval := fs.Int64("global-reset-interval", 0, "steps between forced environment resets (0 disables)")
	seed := fs.Int64("seed", 1, "rng seed")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "paideia.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	var req paiapi.RunRequest
	if *configPath != "" {
		loaded, err := loadRunRequestFromConfig(*configPath)
		if err != nil {
			return err
		}
		req = loaded
	}
	overrideFromFlags(&req, setFlags, *configPath == "", flagValues{
		"run-id":                 *runID,
		"scape":                  *scapeName,
		"agents":                 *numAgents,
		"max-steps":              *maxSteps,
		"batch-size":             *batchSize,
		"buffer-size":            *bufferSize,
		"buffer-init-steps":      *bufferInitSteps,
		"time-horizon":           *timeHorizon,
		"sequence-length":        *sequenceLength,
		"train-interval":         *trainInterval,
		"target-update-interval": *targetUpdateInterval,
		"updates-per-train":      *updatesPerTrain,
		"reward-signal-updates":  *rewardSignalUpdates,
		"reward-history-cap":     *rewardHistoryCap,
		"learning-rate":          *learningRate,
		"gamma":                  *gamma,
		"entropy-coef":           *entropyCoef,
		"demo-buffer":            *demoBuffer,
		"demo-max-batches":       *demoMaxBatches,
		"summary-interval":       *summaryInterval,
		"global-reset-interval":  *globalResetInterval,
		"seed":                   *seed,
	})

	client, err := paiapi.New(paiapi.Options{
		StoreKind:     *storeKind,
		DBPath:        *dbPath,
		BenchmarksDir: benchmarksDir,
		ExportsDir:    exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("run completed run_id=%s scape=%s steps=%d episodes=%d policy_rounds=%d mean_reward=%.6f\n",
		summary.RunID, summary.Scape, summary.Steps, summary.Episodes, summary.PolicyRounds, summary.MeanReward)
	fmt.Printf("artifacts_dir=%s\n", filepath.Clean(summary.ArtifactsDir))
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := paiapi.New(paiapi.Options{BenchmarksDir: benchmarksDir, ExportsDir: exportsDir, StoreKind: "memory"})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, paiapi.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	for _, item := range items {
		fmt.Printf("run_id=%s created_at=%s scape=%s seed=%d steps=%d episodes=%d mean_reward=%.6f\n",
			item.RunID, item.CreatedAtUTC, item.Scape, item.Seed, item.Steps, item.Episodes, item.MeanReward)
	}
	return nil
}

func runRewards(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rewards", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show rewards for the most recent run from run index")
	limit := fs.Int("limit", 50, "max episode rewards to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit rewards as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "paideia.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("rewards requires --run-id or --latest")
	}

	client, err := paiapi.New(paiapi.Options{
		StoreKind:     *storeKind,
		DBPath:        *dbPath,
		BenchmarksDir: benchmarksDir,
		ExportsDir:    exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	rewards, err := client.RewardHistory(ctx, paiapi.RewardHistoryRequest{
		RunID:  *runID,
		Latest: *latest,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	if len(rewards) == 0 {
		fmt.Println("no episode rewards")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rewards)
	}

	for i, reward := range rewards {
		fmt.Printf("episodes_ago=%d reward=%.6f\n", i, reward)
	}
	return nil
}

func runBuffer(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("buffer", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the replay buffer of the most recent run")
	outPath := fs.String("out", "", "output file path for the buffer snapshot")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "paideia.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("buffer requires --run-id or --latest")
	}
	if *outPath == "" {
		return errors.New("buffer requires --out")
	}

	client, err := paiapi.New(paiapi.Options{
		StoreKind:     *storeKind,
		DBPath:        *dbPath,
		BenchmarksDir: benchmarksDir,
		ExportsDir:    exportsDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Buffer(ctx, paiapi.BufferRequest{
		RunID:   *runID,
		Latest:  *latest,
		OutPath: *outPath,
	})
	if err != nil {
		return err
	}

	fmt.Printf("exported buffer run_id=%s to=%s bytes=%d\n", exported.RunID, filepath.Clean(exported.Path), exported.Bytes)
	return nil
}

func runExport(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}
	if *latest {
		entries, err := stats.ListRunIndex(benchmarksDir)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return errors.New("no runs available to export")
		}
		*runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRunArtifacts(benchmarksDir, *runID, *outDir)
	if err != nil {
		return err
	}

	fmt.Printf("exported run_id=%s to=%s\n", *runID, filepath.Clean(exportedDir))
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: paideiactl <init|reset|run|runs|rewards|buffer|export> [flags]", msg)
}
