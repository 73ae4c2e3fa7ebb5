package paideia

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"paideia/internal/buffer"
	"paideia/internal/stats"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	base := t.TempDir()
	client, err := New(Options{
		StoreKind:     "memory",
		BenchmarksDir: filepath.Join(base, "benchmarks"),
		ExportsDir:    filepath.Join(base, "exports"),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestClientRunRunsAndExport(t *testing.T) {
	client := newTestClient(t)

	summary, err := client.Run(context.Background(), RunRequest{
		Scape:      "cart-pole-swarm",
		NumAgents:  2,
		MaxSteps:   300,
		BatchSize:  16,
		BufferSize: 500,
		Seed:       7,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.RunID == "" {
		t.Fatal("expected run id")
	}
	if summary.Steps != 300 {
		t.Fatalf("unexpected step count: %d", summary.Steps)
	}
	if summary.Episodes == 0 {
		t.Fatal("expected completed episodes")
	}
	if summary.PolicyRounds == 0 {
		t.Fatal("expected policy update rounds")
	}

	runs, err := client.Runs(context.Background(), RunsRequest{Limit: 5})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) == 0 || runs[0].RunID != summary.RunID {
		t.Fatalf("expected latest run %s in runs list: %+v", summary.RunID, runs)
	}

	history, err := client.RewardHistory(context.Background(), RewardHistoryRequest{RunID: summary.RunID})
	if err != nil {
		t.Fatalf("reward history: %v", err)
	}
	if len(history) == 0 {
		t.Fatal("expected non-empty reward history")
	}

	exported, err := client.Export(context.Background(), ExportRequest{Latest: true})
	if err != nil {
		t.Fatalf("export latest: %v", err)
	}
	if exported.RunID != summary.RunID {
		t.Fatalf("exported run mismatch: got=%s want=%s", exported.RunID, summary.RunID)
	}

	for _, file := range []string{"config.json", "summary.json", "reward_history.json", "metric_series.json", "reward_series.csv"} {
		if _, err := os.Stat(filepath.Join(exported.Directory, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}

	configData, err := os.ReadFile(filepath.Join(summary.ArtifactsDir, "config.json"))
	if err != nil {
		t.Fatalf("read config artifact: %v", err)
	}
	var config stats.RunConfig
	if err := json.Unmarshal(configData, &config); err != nil {
		t.Fatalf("decode config artifact: %v", err)
	}
	if config.Scape != "cart-pole-swarm" || config.BatchSize != 16 {
		t.Fatalf("unexpected config artifact: %+v", config)
	}
}

func TestClientRunDefaultsRunIDToScapePrefix(t *testing.T) {
	client := newTestClient(t)

	summary, err := client.Run(context.Background(), RunRequest{
		Scape:      "cart-pole-swarm",
		NumAgents:  2,
		MaxSteps:   100,
		BatchSize:  8,
		BufferSize: 200,
		Seed:       3,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(summary.RunID, "cart-pole-swarm-") {
		t.Fatalf("expected generated run id with scape prefix, got %s", summary.RunID)
	}
	if len(summary.RunID) <= len("cart-pole-swarm-") {
		t.Fatalf("expected generated run id suffix, got %s", summary.RunID)
	}
}

func TestClientRunFlatlandForage(t *testing.T) {
	client := newTestClient(t)

	summary, err := client.Run(context.Background(), RunRequest{
		Scape:      "flatland-forage",
		NumAgents:  3,
		MaxSteps:   200,
		BatchSize:  8,
		BufferSize: 400,
		Seed:       11,
	})
	if err != nil {
		t.Fatalf("run flatland: %v", err)
	}
	if summary.Steps != 200 {
		t.Fatalf("unexpected step count: %d", summary.Steps)
	}
	if summary.Scape != "flatland-forage" {
		t.Fatalf("unexpected scape: %s", summary.Scape)
	}
}

func TestClientRunRejectsInvalidConfig(t *testing.T) {
	client := newTestClient(t)

	_, err := client.Run(context.Background(), RunRequest{
		Scape:      "cart-pole-swarm",
		BatchSize:  64,
		BufferSize: 32,
	})
	if err == nil {
		t.Fatal("expected buffer/batch size validation error")
	}

	_, err = client.Run(context.Background(), RunRequest{Scape: "unknown-scape"})
	if err == nil || !strings.Contains(err.Error(), "unsupported scape") {
		t.Fatalf("expected unsupported scape error, got %v", err)
	}
}

func TestClientRunNormalizesScapeAliases(t *testing.T) {
	client := newTestClient(t)

	summary, err := client.Run(context.Background(), RunRequest{
		Scape:      "Cart_Pole_Swarm",
		NumAgents:  2,
		MaxSteps:   100,
		BatchSize:  8,
		BufferSize: 200,
		Seed:       19,
	})
	if err != nil {
		t.Fatalf("run with alias: %v", err)
	}
	if summary.Scape != "cart-pole-swarm" {
		t.Fatalf("expected canonical scape name, got %s", summary.Scape)
	}
}

func TestClientBufferExportRoundTrips(t *testing.T) {
	client := newTestClient(t)

	summary, err := client.Run(context.Background(), RunRequest{
		Scape:      "cart-pole-swarm",
		NumAgents:  2,
		MaxSteps:   150,
		BatchSize:  8,
		BufferSize: 300,
		Seed:       5,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	outPath := filepath.Join(t.TempDir(), "replay.buf")
	exported, err := client.Buffer(context.Background(), BufferRequest{RunID: summary.RunID, OutPath: outPath})
	if err != nil {
		t.Fatalf("buffer export: %v", err)
	}
	if exported.Bytes == 0 {
		t.Fatal("expected non-empty buffer snapshot")
	}

	payload, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read buffer snapshot: %v", err)
	}
	loaded := buffer.NewUpdateBuffer(0)
	if err := loaded.Load(bytes.NewReader(payload)); err != nil {
		t.Fatalf("load exported snapshot: %v", err)
	}
	if loaded.Len() == 0 {
		t.Fatal("expected transitions in exported snapshot")
	}
}

func TestClientResolvesLatestAndRejectsMissingRunID(t *testing.T) {
	client := newTestClient(t)

	_, err := client.Export(context.Background(), ExportRequest{})
	if err == nil {
		t.Fatal("expected error without run id or latest flag")
	}
	_, err = client.Export(context.Background(), ExportRequest{Latest: true})
	if err == nil {
		t.Fatal("expected error when no runs are recorded")
	}
	_, err = client.RewardHistory(context.Background(), RewardHistoryRequest{RunID: "missing"})
	if err == nil {
		t.Fatal("expected missing reward history error")
	}
}

func TestClientRewardHistoryLimit(t *testing.T) {
	client := newTestClient(t)

	summary, err := client.Run(context.Background(), RunRequest{
		Scape:      "cart-pole-swarm",
		NumAgents:  2,
		MaxSteps:   300,
		BatchSize:  8,
		BufferSize: 300,
		Seed:       13,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	full, err := client.RewardHistory(context.Background(), RewardHistoryRequest{Latest: true})
	if err != nil {
		t.Fatalf("reward history: %v", err)
	}
	if len(full) < 2 {
		t.Fatalf("expected at least two completed episodes, got %d", len(full))
	}
	limited, err := client.RewardHistory(context.Background(), RewardHistoryRequest{RunID: summary.RunID, Limit: 1})
	if err != nil {
		t.Fatalf("limited reward history: %v", err)
	}
	if len(limited) != 1 || limited[0] != full[0] {
		t.Fatalf("expected most recent reward first, got limited=%v full=%v", limited, full)
	}
}

func TestClientReset(t *testing.T) {
	client := newTestClient(t)

	summary, err := client.Run(context.Background(), RunRequest{
		Scape:      "cart-pole-swarm",
		NumAgents:  2,
		MaxSteps:   100,
		BatchSize:  8,
		BufferSize: 200,
		Seed:       17,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := client.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	_, err = client.RewardHistory(context.Background(), RewardHistoryRequest{RunID: summary.RunID})
	if err == nil {
		t.Fatal("expected reward history to be cleared after reset")
	}
}
