package params

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestModelConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ModelConfig)
		want   error
	}{
		{name: "heads do not divide width", mutate: func(c *ModelConfig) { c.DModel, c.NumHeads = 10, 4 }, want: ErrHeadsDivisibility},
		{name: "odd width", mutate: func(c *ModelConfig) { c.DModel, c.NumHeads = 9, 3 }, want: ErrOddModelDim},
		{name: "tiny vocab", mutate: func(c *ModelConfig) { c.VocabSize = 1 }, want: ErrInvalidConfig},
		{name: "dropout of one", mutate: func(c *ModelConfig) { c.Dropout = 1 }, want: ErrInvalidConfig},
		{name: "no layers", mutate: func(c *ModelConfig) { c.NumLayers = 0 }, want: ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default().Model
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestConfigRejectsChunksLongerThanPositions(t *testing.T) {
	cfg := Default()
	cfg.Train.SeqLen = cfg.Model.MaxSeqLen + 1
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Validate() error = %v, want %v", err, ErrInvalidConfig)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	body := `{"model": {"d_model": 64, "num_heads": 8}, "train": {"epochs": 7}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model.DModel != 64 || cfg.Model.NumHeads != 8 || cfg.Train.Epochs != 7 {
		t.Errorf("Load() did not apply overrides: %+v", cfg)
	}
	if cfg.Model.DFF != Default().Model.DFF {
		t.Errorf("Load() lost default d_ff: got %d", cfg.Model.DFF)
	}
}

func TestLoadDerivesModelVocabSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	body := `{"model": {"vocab_size": 5}, "data": {"vocab_size": 300}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Model.VocabSize != 300 || cfg.Data.VocabSize != 300 {
		t.Errorf("vocab sizes = model %d, data %d, want both 300", cfg.Model.VocabSize, cfg.Data.VocabSize)
	}
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"model": {"d_model": 30, "num_heads": 4}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrHeadsDivisibility) {
		t.Fatalf("Load() error = %v, want %v", err, ErrHeadsDivisibility)
	}
}
