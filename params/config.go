package params

import (
	"encoding/json"
	"fmt"
	"os"
)

// Validate checks the model shape. A failure here is a configuration error:
// nothing can be built from this config.
func (c ModelConfig) Validate() error {
	switch {
	case c.VocabSize < 2:
		return fmt.Errorf("%w: vocab_size must hold <pad> and <unk>, got %d", ErrInvalidConfig, c.VocabSize)
	case c.DModel <= 0:
		return fmt.Errorf("%w: d_model must be positive, got %d", ErrInvalidConfig, c.DModel)
	case c.NumHeads <= 0:
		return fmt.Errorf("%w: num_heads must be positive, got %d", ErrInvalidConfig, c.NumHeads)
	case c.NumLayers <= 0:
		return fmt.Errorf("%w: num_layers must be positive, got %d", ErrInvalidConfig, c.NumLayers)
	case c.DFF <= 0:
		return fmt.Errorf("%w: d_ff must be positive, got %d", ErrInvalidConfig, c.DFF)
	case c.MaxSeqLen <= 0:
		return fmt.Errorf("%w: max_seq_len must be positive, got %d", ErrInvalidConfig, c.MaxSeqLen)
	case c.Dropout < 0 || c.Dropout >= 1:
		return fmt.Errorf("%w: dropout must be in [0, 1), got %g", ErrInvalidConfig, c.Dropout)
	case c.Eps <= 0:
		return fmt.Errorf("%w: eps must be positive, got %g", ErrInvalidConfig, c.Eps)
	}
	if c.DModel%c.NumHeads != 0 {
		return fmt.Errorf("%w: d_model=%d num_heads=%d", ErrHeadsDivisibility, c.DModel, c.NumHeads)
	}
	if c.DModel%2 != 0 {
		return fmt.Errorf("%w: d_model=%d", ErrOddModelDim, c.DModel)
	}
	return nil
}

func (c TrainConfig) Validate() error {
	switch {
	case c.SeqLen < 2:
		return fmt.Errorf("%w: seq_len must be at least 2, got %d", ErrInvalidConfig, c.SeqLen)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch_size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	case c.Epochs <= 0:
		return fmt.Errorf("%w: epochs must be positive, got %d", ErrInvalidConfig, c.Epochs)
	case c.LR <= 0:
		return fmt.Errorf("%w: lr must be positive, got %g", ErrInvalidConfig, c.LR)
	case c.AdamBeta1 < 0 || c.AdamBeta1 >= 1 || c.AdamBeta2 < 0 || c.AdamBeta2 >= 1:
		return fmt.Errorf("%w: adam betas must be in [0, 1)", ErrInvalidConfig)
	}
	return nil
}

func (c SampleConfig) Validate() error {
	switch {
	case c.Temperature <= 0:
		return fmt.Errorf("%w: temperature must be positive, got %g", ErrInvalidConfig, c.Temperature)
	case c.MaxNewTokens < 0:
		return fmt.Errorf("%w: max_new_tokens must not be negative, got %d", ErrInvalidConfig, c.MaxNewTokens)
	}
	return nil
}

// Validate checks every section. The chunk length may not exceed the
// positional table: the model would be asked for positions it never built.
func (c Config) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if err := c.Train.Validate(); err != nil {
		return fmt.Errorf("train: %w", err)
	}
	if err := c.Sample.Validate(); err != nil {
		return fmt.Errorf("sample: %w", err)
	}
	if c.Train.SeqLen > c.Model.MaxSeqLen {
		return fmt.Errorf("%w: seq_len %d exceeds max_seq_len %d", ErrInvalidConfig, c.Train.SeqLen, c.Model.MaxSeqLen)
	}
	return nil
}

// Load reads a JSON config on top of Default, so a file only needs the keys
// it changes.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	// until a vocabulary is built the model is sized to the cap
	cfg.Model.VocabSize = cfg.Data.VocabSize
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
