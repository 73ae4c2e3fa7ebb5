package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	paiapi "paideia/pkg/paideia"
)

func loadRunRequestFromConfig(path string) (paiapi.RunRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return paiapi.RunRequest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return paiapi.RunRequest{}, fmt.Errorf("parse run config %s: %w", path, err)
	}

	var req paiapi.RunRequest
	if v, ok := asString(raw["run_id"]); ok {
		req.RunID = v
	}
	if v, ok := asString(raw["scape"]); ok {
		req.Scape = v
	}
	if v, ok := asInt(raw["num_agents"]); ok {
		req.NumAgents = v
	}
	if v, ok := asInt64(raw["max_steps"]); ok {
		req.MaxSteps = v
	}
	if v, ok := asInt(raw["batch_size"]); ok {
		req.BatchSize = v
	}
	if v, ok := asInt(raw["buffer_size"]); ok {
		req.BufferSize = v
	}
	if v, ok := asInt64(raw["buffer_init_steps"]); ok {
		req.BufferInitSteps = v
	}
	if v, ok := asInt(raw["time_horizon"]); ok {
		req.TimeHorizon = v
	}
	if v, ok := asInt(raw["sequence_length"]); ok {
		req.SequenceLength = v
	}
	if v, ok := asInt64(raw["train_interval"]); ok {
		req.TrainInterval = v
	}
	if v, ok := asInt64(raw["target_update_interval"]); ok {
		req.TargetUpdateInterval = v
	}
	if v, ok := asInt(raw["updates_per_train"]); ok {
		req.UpdatesPerTrain = v
	}
	if v, ok := asInt(raw["reward_signal_updates_per_train"]); ok {
		req.RewardSignalUpdatesPerTrain = v
	}
	if v, ok := asInt(raw["reward_history_cap"]); ok {
		req.RewardHistoryCap = v
	}
	if v, ok := asFloat64(raw["learning_rate"]); ok {
		req.LearningRate = v
	}
	if v, ok := asFloat64(raw["gamma"]); ok {
		req.Gamma = v
	}
	if v, ok := asFloat64(raw["entropy_coef"]); ok {
		req.EntropyCoef = v
	}
	if v, ok := asString(raw["demo_buffer_path"]); ok {
		req.DemoBufferPath = v
	}
	if v, ok := asInt(raw["demo_max_batches"]); ok {
		req.DemoMaxBatches = v
	}
	if v, ok := asInt64(raw["summary_interval"]); ok {
		req.SummaryInterval = v
	}
	if v, ok := asInt64(raw["global_reset_interval"]); ok {
		req.GlobalResetInterval = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	return req, nil
}

type flagValues map[string]any

// overrideFromFlags merges flag values into the request. With no config file
// every flag applies (defaults included); with a config file only flags the
// user set on the command line override the file.
func overrideFromFlags(req *paiapi.RunRequest, setFlags map[string]bool, applyAll bool, values flagValues) {
	apply := func(name string) bool {
		return applyAll || setFlags[name]
	}
	if apply("run-id") {
		req.RunID = values["run-id"].(string)
	}
	if apply("scape") {
		req.Scape = values["scape"].(string)
	}
	if apply("agents") {
		req.NumAgents = values["agents"].(int)
	}
	if apply("max-steps") {
		req.MaxSteps = values["max-steps"].(int64)
	}
	if apply("batch-size") {
		req.BatchSize = values["batch-size"].(int)
	}
	if apply("buffer-size") {
		req.BufferSize = values["buffer-size"].(int)
	}
	if apply("buffer-init-steps") {
		req.BufferInitSteps = values["buffer-init-steps"].(int64)
	}
	if apply("time-horizon") {
		req.TimeHorizon = values["time-horizon"].(int)
	}
	if apply("sequence-length") {
		req.SequenceLength = values["sequence-length"].(int)
	}
	if apply("train-interval") {
		req.TrainInterval = values["train-interval"].(int64)
	}
	if apply("target-update-interval") {
		req.TargetUpdateInterval = values["target-update-interval"].(int64)
	}
	if apply("updates-per-train") {
		req.UpdatesPerTrain = values["updates-per-train"].(int)
	}
	if apply("reward-signal-updates") {
		req.RewardSignalUpdatesPerTrain = values["reward-signal-updates"].(int)
	}
	if apply("reward-history-cap") {
		req.RewardHistoryCap = values["reward-history-cap"].(int)
	}
	if apply("learning-rate") {
		req.LearningRate = values["learning-rate"].(float64)
	}
	if apply("gamma") {
		req.Gamma = values["gamma"].(float64)
	}
	if apply("entropy-coef") {
		req.EntropyCoef = values["entropy-coef"].(float64)
	}
	if apply("demo-buffer") {
		req.DemoBufferPath = values["demo-buffer"].(string)
	}
	if apply("demo-max-batches") {
		req.DemoMaxBatches = values["demo-max-batches"].(int)
	}
	if apply("summary-interval") {
		req.SummaryInterval = values["summary-interval"].(int64)
	}
	if apply("global-reset-interval") {
		req.GlobalResetInterval = values["global-reset-interval"].(int64)
	}
	if apply("seed") {
		req.Seed = values["seed"].(int64)
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asFloat64(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func asInt(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func asInt64(v any) (int64, bool) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}
