package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"paideia/internal/stats"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	origWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	workdir := t.TempDir()
	if err := os.Chdir(workdir); err != nil {
		t.Fatalf("chdir tempdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(origWD)
	})
	return workdir
}

func TestRunCommandCreatesArtifactsAndExport(t *testing.T) {
	chdirTemp(t)

	args := []string{
		"run",
		"--store", "memory",
		"--scape", "cart-pole-swarm",
		"--agents", "2",
		"--max-steps", "200",
		"--batch-size", "8",
		"--buffer-size", "400",
		"--seed", "11",
	}
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("run command: %v", err)
	}

	entries, err := stats.ListRunIndex("benchmarks")
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one indexed run")
	}
	runID := entries[0].RunID
	for _, file := range []string{"config.json", "summary.json", "reward_history.json", "metric_series.json", "reward_series.csv"} {
		path := filepath.Join("benchmarks", runID, file)
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected artifact %s: %v", path, err)
		}
	}

	if err := run(context.Background(), []string{"runs", "--limit", "5"}); err != nil {
		t.Fatalf("runs command: %v", err)
	}
	if err := run(context.Background(), []string{"export", "--latest"}); err != nil {
		t.Fatalf("export command: %v", err)
	}
	if _, err := os.Stat(filepath.Join("exports", runID, "summary.json")); err != nil {
		t.Fatalf("expected exported summary: %v", err)
	}
}

func TestRunCommandConfigFileWithFlagOverride(t *testing.T) {
	workdir := chdirTemp(t)

	configPath := writeConfigFile(t, map[string]any{
		"run_id":      "cfg-cli-run",
		"scape":       "cart-pole-swarm",
		"num_agents":  2,
		"max_steps":   150,
		"batch_size":  8,
		"buffer_size": 300,
		"seed":        3,
	})
	args := []string{
		"run",
		"--store", "memory",
		"--config", configPath,
		"--max-steps", "100",
	}
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("run command with config: %v", err)
	}

	summary, ok, err := stats.ReadRunSummary(filepath.Join(workdir, "benchmarks"), "cfg-cli-run")
	if err != nil {
		t.Fatalf("read run summary: %v", err)
	}
	if !ok {
		t.Fatal("expected summary artifact for cfg-cli-run")
	}
	if summary.Steps != 100 {
		t.Fatalf("expected flag override of max steps, got %d", summary.Steps)
	}
}

func TestCommandValidation(t *testing.T) {
	chdirTemp(t)

	if err := run(context.Background(), nil); err == nil {
		t.Fatal("expected missing command error")
	}
	if err := run(context.Background(), []string{"unknown"}); err == nil {
		t.Fatal("expected unknown command error")
	}
	if err := run(context.Background(), []string{"rewards"}); err == nil {
		t.Fatal("expected rewards run-id requirement error")
	}
	if err := run(context.Background(), []string{"rewards", "--run-id", "x", "--latest"}); err == nil {
		t.Fatal("expected rewards exclusive selector error")
	}
	if err := run(context.Background(), []string{"buffer", "--latest"}); err == nil {
		t.Fatal("expected buffer out path requirement error")
	}
	if err := run(context.Background(), []string{"export"}); err == nil {
		t.Fatal("expected export selector requirement error")
	}
	if err := run(context.Background(), []string{"export", "--latest"}); err == nil {
		t.Fatal("expected export with no runs to fail")
	}
	if err := run(context.Background(), []string{"init", "--store", "memory"}); err != nil {
		t.Fatalf("init command: %v", err)
	}
	if err := run(context.Background(), []string{"reset", "--store", "memory"}); err != nil {
		t.Fatalf("reset command: %v", err)
	}
}
