package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/rhapsodic-legacy/neural-networks-from-scratch/IO"
	"github.com/rhapsodic-legacy/neural-networks-from-scratch/params"
	"github.com/rhapsodic-legacy/neural-networks-from-scratch/transformer"
)

// cliFlags are the overrides shared by every command.
type cliFlags struct {
	ConfigPath string
	Checkpoint string
	DataDir    string

	// train
	Epochs    int
	BatchSize int
	LR        float64

	// generate
	Prompt      string
	Interactive bool
	Policy      string
	TopK        int
	TopP        float64
	Temperature float64
	MaxNew      int
	Seed        uint64

	// eval
	Split string

	// vocab
	Out string
}

func main() {
	var f cliFlags

	rootCmd := &cobra.Command{
		Use:           "gpt",
		Short:         "Train and sample a small decoder-only Transformer language model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&f.ConfigPath, "config", "", "JSON config file (defaults are used for missing fields)")
	pf.StringVar(&f.Checkpoint, "checkpoint", "", "checkpoint path or s3://bucket/key (overrides config)")
	pf.StringVar(&f.DataDir, "data", "", "directory with train.txt, valid.txt, test.txt (overrides config)")

	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Build the vocabulary, train, and checkpoint the best model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, &f)
			if err != nil {
				return err
			}
			return runTrain(cmd.Context(), cfg)
		},
	}
	trainCmd.Flags().IntVar(&f.Epochs, "epochs", 0, "training epochs")
	trainCmd.Flags().IntVar(&f.BatchSize, "batch-size", 0, "sequences per optimizer step")
	trainCmd.Flags().Float64Var(&f.LR, "lr", 0, "learning rate")

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Continue a prompt with a trained model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, &f)
			if err != nil {
				return err
			}
			model, vocab, err := loadCheckpoint(cmd.Context(), cfg.Train.Checkpoint)
			if err != nil {
				return err
			}
			gc, err := transformer.GenerateConfigFrom(cfg.Sample)
			if err != nil {
				return err
			}
			if f.Interactive {
				return ChatCLI(os.Stdin, os.Stdout, model, vocab, gc)
			}
			text, err := Predict(model, vocab, gc, f.Prompt)
			if err != nil {
				return err
			}
			fmt.Println(text)
			return nil
		},
	}
	gf := generateCmd.Flags()
	gf.StringVar(&f.Prompt, "prompt", "the", "prompt text")
	gf.BoolVar(&f.Interactive, "interactive", false, "read prompts from stdin until 'exit'")
	gf.StringVar(&f.Policy, "policy", "", "greedy, top-k or top-p")
	gf.IntVar(&f.TopK, "top-k", 0, "candidates kept by top-k")
	gf.Float64Var(&f.TopP, "top-p", 0, "probability mass kept by top-p")
	gf.Float64Var(&f.Temperature, "temperature", 0, "logit temperature, must be > 0")
	gf.IntVar(&f.MaxNew, "max-new-tokens", 0, "generation budget")
	gf.Uint64Var(&f.Seed, "seed", 0, "sampling seed")

	evalCmd := &cobra.Command{
		Use:   "eval",
		Short: "Report loss and perplexity of a checkpoint on a split",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, &f)
			if err != nil {
				return err
			}
			return runEval(cmd.Context(), cfg, f.Split)
		},
	}
	evalCmd.Flags().StringVar(&f.Split, "split", "test", "train, valid or test")

	vocabCmd := &cobra.Command{
		Use:   "vocab",
		Short: "Build the vocabulary from the training split and write it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, &f)
			if err != nil {
				return err
			}
			return runVocab(cfg, f.Out)
		},
	}
	vocabCmd.Flags().StringVar(&f.Out, "out", "models/vocab.json", "output file")

	rootCmd.AddCommand(trainCmd, generateCmd, evalCmd, vocabCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		klog.Errorf("%v", err)
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

// loadConfig layers defaults, the optional JSON file and explicit flags.
func loadConfig(cmd *cobra.Command, f *cliFlags) (params.Config, error) {
	cfg := params.Default()
	if f.ConfigPath != "" {
		var err error
		if cfg, err = params.Load(f.ConfigPath); err != nil {
			return cfg, err
		}
	}
	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}
	if changed("checkpoint") {
		cfg.Train.Checkpoint = f.Checkpoint
	}
	if changed("data") {
		cfg.Data.Dir = f.DataDir
	}
	if changed("epochs") {
		cfg.Train.Epochs = f.Epochs
	}
	if changed("batch-size") {
		cfg.Train.BatchSize = f.BatchSize
	}
	if changed("lr") {
		cfg.Train.LR = f.LR
	}
	if changed("policy") {
		cfg.Sample.Policy = f.Policy
	}
	if changed("top-k") {
		cfg.Sample.TopK = f.TopK
	}
	if changed("top-p") {
		cfg.Sample.TopP = f.TopP
	}
	if changed("temperature") {
		cfg.Sample.Temperature = f.Temperature
	}
	if changed("max-new-tokens") {
		cfg.Sample.MaxNewTokens = f.MaxNew
	}
	if changed("seed") {
		cfg.Sample.Seed = f.Seed
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func loadCheckpoint(ctx context.Context, loc string) (*transformer.Model, IO.Vocabulary, error) {
	st, key, err := IO.OpenStore(loc)
	if err != nil {
		return nil, IO.Vocabulary{}, err
	}
	klog.Infof("loading checkpoint %s", loc)
	return transformer.LoadFromStore(ctx, st, key)
}

func runEval(ctx context.Context, cfg params.Config, split string) error {
	model, vocab, err := loadCheckpoint(ctx, cfg.Train.Checkpoint)
	if err != nil {
		return err
	}
	lines, err := IO.ReadLines(filepath.Join(cfg.Data.Dir, split+".txt"))
	if err != nil {
		return err
	}
	res, err := transformer.Evaluate(model, IO.ChunkLines(vocab, lines, cfg.Train.SeqLen))
	if err != nil {
		return err
	}
	report(split, res)
	return nil
}

func runVocab(cfg params.Config, out string) error {
	lines, err := IO.ReadLines(filepath.Join(cfg.Data.Dir, "train.txt"))
	if err != nil {
		return err
	}
	vocab, err := IO.BuildVocabulary(lines, cfg.Data.VocabSize)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	fh, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := vocab.ExportJSON(fh); err != nil {
		fh.Close()
		return err
	}
	klog.Infof("wrote %d tokens to %s", vocab.Size(), out)
	return fh.Close()
}

// report prints the evaluation line on stdout and logs it.
func report(split string, res transformer.EvalResult) {
	fmt.Println(res.String())
	klog.InfoS("evaluation", "split", split, "loss", res.Loss, "ppl", res.Perplexity,
		"accuracy", res.Accuracy, "tokens", res.Tokens)
}
