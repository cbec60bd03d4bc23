package params

// Reserved token ids. Every vocabulary places <pad> and <unk> first.
const (
	PadID = 0
	UnkID = 1

	PadToken = "<pad>"
	UnkToken = "<unk>"
)

// ModelConfig fixes the shape of the network. It is immutable once a model
// has been built from it.
type ModelConfig struct {
	VocabSize int     `json:"-"`          // derived: the size of the built vocabulary
	DModel    int     `json:"d_model"`     // model width
	NumHeads  int     `json:"num_heads"`   // dHead = DModel/NumHeads
	NumLayers int     `json:"num_layers"`  // how many times attn --> mlp happens
	DFF       int     `json:"d_ff"`        // MLP hidden
	MaxSeqLen int     `json:"max_seq_len"` // rows of the positional table
	Dropout   float64 `json:"dropout"`     // train-time only
	Eps       float64 `json:"eps"`         // LayerNorm epsilon
}

type TrainConfig struct {
	SeqLen    int     `json:"seq_len"`    // chunk length fed to the model
	BatchSize int     `json:"batch_size"` // sequences per optimizer step
	Epochs    int     `json:"epochs"`
	Patience  int     `json:"patience"` // early stopping on validation loss, 0 disables
	LR        float64 `json:"lr"`

	AdamBeta1   float64 `json:"adam_beta1"`
	AdamBeta2   float64 `json:"adam_beta2"`
	AdamEps     float64 `json:"adam_eps"`
	WeightDecay float64 `json:"weight_decay"` // AdamW-style, 0 disables
	GradClip    float64 `json:"grad_clip"`    // <=0 disables

	Seed       uint64 `json:"seed"`
	LogEvery   int    `json:"log_every"` // optimizer steps between progress lines
	Checkpoint string `json:"checkpoint"`
}

type SampleConfig struct {
	Policy       string  `json:"policy"` // greedy, top-k, top-p
	TopK         int     `json:"top_k"`
	TopP         float64 `json:"top_p"`
	Temperature  float64 `json:"temperature"`
	MaxNewTokens int     `json:"max_new_tokens"`
	Seed         uint64  `json:"seed"`
}

type DataConfig struct {
	Dir       string `json:"dir"`       // holds train.txt, valid.txt, test.txt
	VocabSize int    `json:"vocab_size"` // cap, including <pad> and <unk>
}

// Config bundles everything one run needs. It is passed by value; nothing in
// this module keeps a process-wide copy.
type Config struct {
	Model  ModelConfig  `json:"model"`
	Train  TrainConfig  `json:"train"`
	Sample SampleConfig `json:"sample"`
	Data   DataConfig   `json:"data"`
}

// Reasonable defaults for small experiments
func Default() Config {
	return Config{
		Model: ModelConfig{
			VocabSize: 10_000,
			DModel:    128,
			NumHeads:  4,
			NumLayers: 2,
			DFF:       512,
			MaxSeqLen: 128,
			Dropout:   0.1,
			Eps:       1e-5,
		},
		Train: TrainConfig{
			SeqLen:      128,
			BatchSize:   16,
			Epochs:      3,
			Patience:    2,
			LR:          3e-4,
			AdamBeta1:   0.9,
			AdamBeta2:   0.999,
			AdamEps:     1e-8,
			WeightDecay: 0.0,
			GradClip:    1.0,
			Seed:        42,
			LogEvery:    50,
			Checkpoint:  "models/transformer.gob",
		},
		Sample: SampleConfig{
			Policy:       "top-k",
			TopK:         50,
			TopP:         0.9,
			Temperature:  1.0,
			MaxNewTokens: 50,
			Seed:         42,
		},
		Data: DataConfig{
			Dir:       "data/wikitext-2",
			VocabSize: 10_000,
		},
	}
}
