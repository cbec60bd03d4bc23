package transformer

import (
	"fmt"
	"math/rand/v2"

	"github.com/rhapsodic-legacy/neural-networks-from-scratch/params"
)

type State int

const (
	StateCollectingPrompt State = iota
	StateGenerating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCollectingPrompt:
		return "collecting-prompt"
	case StateGenerating:
		return "generating"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type GenerateConfig struct {
	Policy       Policy
	Temperature  float64
	MaxNewTokens int
	Rand         *rand.Rand // nil seeds a fresh PCG from Seed
	Seed         uint64
}

// GenerateConfigFrom builds a generator config from the sampling section.
func GenerateConfigFrom(c params.SampleConfig) (GenerateConfig, error) {
	if err := c.Validate(); err != nil {
		return GenerateConfig{}, err
	}
	p, err := ParsePolicy(c.Policy, c.TopK, c.TopP)
	if err != nil {
		return GenerateConfig{}, err
	}
	return GenerateConfig{
		Policy:       p,
		Temperature:  c.Temperature,
		MaxNewTokens: c.MaxNewTokens,
		Seed:         c.Seed,
	}, nil
}

// Generator extends a prompt one token at a time. It runs the full forward
// pass over the window each step; there is no key/value cache.
type Generator struct {
	model *Model
	cfg   GenerateConfig
	rng   *rand.Rand
	state State
}

func NewGenerator(model *Model, cfg GenerateConfig) (*Generator, error) {
	if cfg.Temperature <= 0 {
		return nil, fmt.Errorf("%w: temperature must be positive, got %g", params.ErrInvalidConfig, cfg.Temperature)
	}
	if cfg.MaxNewTokens < 0 {
		return nil, fmt.Errorf("%w: max_new_tokens must not be negative", params.ErrInvalidConfig)
	}
	if cfg.Policy == nil {
		cfg.Policy = Greedy{}
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
	}
	return &Generator{model: model, cfg: cfg, rng: rng, state: StateCollectingPrompt}, nil
}

func (g *Generator) State() State { return g.state }

// Generate returns the prompt (truncated to its last max_seq_len tokens)
// followed by the generated suffix. Generation stops after MaxNewTokens new
// tokens or right after a <pad> is produced; the <pad> is kept.
func (g *Generator) Generate(prompt []int) ([]int, error) {
	g.state = StateCollectingPrompt
	if len(prompt) == 0 {
		return nil, fmt.Errorf("generate: %w", params.ErrEmptySequence)
	}
	maxLen := g.model.Config.MaxSeqLen
	if len(prompt) > maxLen {
		prompt = prompt[len(prompt)-maxLen:]
	}
	seq := append(make([]int, 0, len(prompt)+g.cfg.MaxNewTokens), prompt...)

	g.state = StateGenerating
	for n := 0; n < g.cfg.MaxNewTokens; n++ {
		next, err := g.Next(seq)
		if err != nil {
			g.state = StateTerminated
			return seq, err
		}
		seq = append(seq, next)
		if next == params.PadID {
			break
		}
	}
	g.state = StateTerminated
	return seq, nil
}

// Next scores the last max_seq_len tokens of seq and picks one token.
func (g *Generator) Next(seq []int) (int, error) {
	window := seq
	if maxLen := g.model.Config.MaxSeqLen; len(window) > maxLen {
		window = window[len(window)-maxLen:]
	}
	// the model sees a copy; seq keeps growing underneath
	window = append([]int(nil), window...)

	logits, err := g.model.Forward([][]int{window})
	if err != nil {
		return 0, fmt.Errorf("generate: %w", err)
	}
	T, _ := logits[0].Dims()
	last, err := ApplyTemperature(logits[0].RawRowView(T-1), g.cfg.Temperature)
	if err != nil {
		return 0, err
	}
	return g.cfg.Policy.Choose(last, g.rng), nil
}
