package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

const runIndexFile = "run_index.json"

// RunConfig is the persisted form of one training run's hyperparameters.
type RunConfig struct {
	RunID                       string  `json:"run_id"`
	Scape                       string  `json:"scape"`
	StoreKind                   string  `json:"store_kind,omitempty"`
	Seed                        int64   `json:"seed"`
	MaxSteps                    int64   `json:"max_steps"`
	BatchSize                   int     `json:"batch_size"`
	BufferSize                  int     `json:"buffer_size"`
	BufferInitSteps             int64   `json:"buffer_init_steps"`
	TimeHorizon                 int     `json:"time_horizon"`
	SequenceLength              int     `json:"sequence_length,omitempty"`
	TrainInterval               int64   `json:"train_interval"`
	TargetUpdateInterval        int64   `json:"target_update_interval"`
	UpdatesPerTrain             int     `json:"updates_per_train"`
	RewardSignalUpdatesPerTrain int     `json:"reward_signal_updates_per_train"`
	RewardHistoryCap            int     `json:"reward_buff_cap"`
	LearningRate                float64 `json:"learning_rate,omitempty"`
	Gamma                       float64 `json:"gamma,omitempty"`
	EntropyCoef                 float64 `json:"entropy_coef,omitempty"`
	SummaryInterval             int64   `json:"summary_interval,omitempty"`
	DemoBufferPath              string  `json:"demo_buffer_path,omitempty"`
}

// RunSummary is the headline result of one finished run.
type RunSummary struct {
	RunID        string  `json:"run_id"`
	Scape        string  `json:"scape"`
	Steps        int64   `json:"steps"`
	Episodes     int     `json:"episodes"`
	PolicyRounds int     `json:"policy_rounds"`
	MeanReward   float64 `json:"mean_reward"`
	RecentReward float64 `json:"recent_reward"`
}

// RunArtifacts gathers everything written to disk for one run. RewardHistory
// is stored most recent first, matching the trainer's history buffer.
type RunArtifacts struct {
	Config        RunConfig            `json:"config"`
	Summary       RunSummary           `json:"summary"`
	RewardHistory []float64            `json:"reward_history"`
	MetricSeries  map[string][]float64 `json:"metric_series,omitempty"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Scape        string  `json:"scape"`
	Seed         int64   `json:"seed"`
	Steps        int64   `json:"steps"`
	Episodes     int     `json:"episodes"`
	MeanReward   float64 `json:"mean_reward"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "summary.json"), artifacts.Summary); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "reward_history.json"), artifacts.RewardHistory); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "metric_series.json"), artifacts.MetricSeries); err != nil {
		return "", err
	}
	if err := WriteRewardSeries(runDir, artifacts.RewardHistory); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	files := []string{"config.json", "summary.json", "reward_history.json", "metric_series.json", "reward_series.csv"}
	for _, file := range files {
		srcPath := filepath.Join(src, file)
		if _, err := os.Stat(srcPath); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := copyFile(srcPath, filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func ReadRunSummary(baseDir, runID string) (RunSummary, bool, error) {
	path := filepath.Join(baseDir, runID, "summary.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunSummary{}, false, nil
		}
		return RunSummary{}, false, err
	}

	var summary RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return RunSummary{}, false, err
	}
	return summary, true, nil
}

// WriteRewardSeries writes the reward history as CSV, oldest episode first.
func WriteRewardSeries(runDir string, history []float64) error {
	path := filepath.Join(runDir, "reward_series.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"episode", "reward"}); err != nil {
		return err
	}
	for i := len(history) - 1; i >= 0; i-- {
		if err := writer.Write([]string{
			strconv.Itoa(len(history) - i),
			strconv.FormatFloat(history[i], 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadRewardSeries(baseDir, runID string) ([]float64, bool, error) {
	path := filepath.Join(baseDir, runID, "reward_series.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("reward series header must have at least 2 columns")
	}

	series := make([]float64, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 2 {
			return nil, false, fmt.Errorf("reward series row must have at least 2 columns")
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
