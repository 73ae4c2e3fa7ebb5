package storage

import (
	"errors"
	"testing"

	"paideia/internal/model"
)

func TestRunRecordCodecVersionCheck(t *testing.T) {
	record := model.RunRecord{
		VersionedRecord: Stamp(),
		ID:              "run-1",
		Scape:           "flatland-forage",
	}
	data, err := EncodeRunRecord(record)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeRunRecord(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != record.ID || decoded.Scape != record.Scape {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}

	record.SchemaVersion = CurrentSchemaVersion + 1
	data, err = EncodeRunRecord(record)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeRunRecord(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestMetricSeriesCodec(t *testing.T) {
	series := map[string][]float64{
		"Environment/Cumulative Reward": {10, 20},
		"Losses/policy_loss":            {0.5},
	}
	data, err := EncodeMetricSeries(series)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeMetricSeries(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 2 || decoded["Environment/Cumulative Reward"][1] != 20 {
		t.Fatalf("round trip mismatch: %v", decoded)
	}

	if _, err := DecodeRewardHistory([]byte("{corrupt")); err == nil {
		t.Fatal("expected an error for corrupt history payload")
	}
}
