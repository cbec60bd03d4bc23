package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"k8s.io/klog/v2"

	"github.com/rhapsodic-legacy/neural-networks-from-scratch/IO"
	"github.com/rhapsodic-legacy/neural-networks-from-scratch/params"
	"github.com/rhapsodic-legacy/neural-networks-from-scratch/transformer"
)

// corpus is every split already cut into fixed-length chunks.
type corpus struct {
	Train, Valid, Test [][]int
}

func runTrain(ctx context.Context, cfg params.Config) error {
	splits, err := IO.LoadSplits(cfg.Data.Dir)
	if err != nil {
		return err
	}
	vocab, err := IO.BuildVocabulary(splits.Train, cfg.Data.VocabSize)
	if err != nil {
		return err
	}
	// the model is sized to the vocabulary actually built
	cfg.Model.VocabSize = vocab.Size()
	klog.Infof("vocabulary: %d tokens from %d training lines", vocab.Size(), len(splits.Train))

	model, err := transformer.NewModel(cfg.Model)
	if err != nil {
		return err
	}
	if err := model.CheckVocab(vocab.Size()); err != nil {
		return err
	}
	data := corpus{
		Train: IO.ChunkLines(vocab, splits.Train, cfg.Train.SeqLen),
		Valid: IO.ChunkLines(vocab, splits.Valid, cfg.Train.SeqLen),
		Test:  IO.ChunkLines(vocab, splits.Test, cfg.Train.SeqLen),
	}
	klog.Infof("chunks: train=%d valid=%d test=%d (seq_len=%d)", len(data.Train), len(data.Valid), len(data.Test), cfg.Train.SeqLen)

	st, key, err := IO.OpenStore(cfg.Train.Checkpoint)
	if err != nil {
		return err
	}
	history, err := TrainGPT(ctx, model, vocab, data, cfg.Train, st, key)
	if err != nil {
		return err
	}
	plotHistory(os.Stdout, history)

	best, _, err := transformer.LoadFromStore(ctx, st, key)
	if err != nil {
		return fmt.Errorf("reload best checkpoint: %w", err)
	}
	res, err := transformer.Evaluate(best, data.Test)
	if err != nil {
		return err
	}
	report("test", res)
	return nil
}

// TrainGPT runs epochs of shuffled mini-batches, evaluates on the validation
// chunks after each epoch and checkpoints whenever validation loss improves.
// It stops early after Patience epochs without improvement. The returned
// slice is the validation loss per completed epoch.
func TrainGPT(ctx context.Context, model *transformer.Model, vocab IO.Vocabulary, data corpus,
	cfg params.TrainConfig, st IO.Store, key string) ([]float64, error) {

	if len(data.Train) == 0 {
		return nil, fmt.Errorf("train: %w: no training chunks", params.ErrEmptySequence)
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
	tr := transformer.NewTrainer(model, cfg)

	var history []float64
	bestLoss := -1.0
	noImprovementCount := 0

	for e := 0; e < cfg.Epochs; e++ {
		start := time.Now()
		batches, err := IO.Batches(data.Train, cfg.BatchSize, rng)
		if err != nil {
			return history, err
		}
		totalLoss := 0.0
		for b, batch := range batches {
			if err := ctx.Err(); err != nil {
				return history, err
			}
			loss, err := tr.Step(batch)
			if err != nil {
				return history, fmt.Errorf("epoch %d batch %d: %w", e+1, b, err)
			}
			totalLoss += loss
			if cfg.LogEvery > 0 && tr.Steps%cfg.LogEvery == 0 {
				klog.Infof("epoch %d step %d batch %d/%d loss=%.4f", e+1, tr.Steps, b+1, len(batches), loss)
			}
		}

		val, err := transformer.Evaluate(model, data.Valid)
		if err != nil {
			return history, err
		}
		history = append(history, val.Loss)
		klog.Infof("epoch %d done in %s: train loss=%.4f valid loss=%.4f ppl=%.2f acc=%.2f%%",
			e+1, time.Since(start).Round(time.Millisecond), totalLoss/float64(len(batches)),
			val.Loss, val.Perplexity, 100*val.Accuracy)
		report("valid", val)

		if bestLoss < 0 || val.Loss < bestLoss {
			bestLoss = val.Loss
			noImprovementCount = 0
			if err := transformer.SaveToStore(ctx, st, key, model, vocab); err != nil {
				return history, err
			}
			klog.Infof("new best model saved (valid loss %.4f)", bestLoss)
			continue
		}
		noImprovementCount++
		if cfg.Patience > 0 && noImprovementCount >= cfg.Patience {
			klog.Infof("early stopping after %d epochs without improvement", noImprovementCount)
			break
		}
	}
	return history, nil
}
