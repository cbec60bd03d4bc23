package transformer

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"

	"github.com/rhapsodic-legacy/neural-networks-from-scratch/IO"
	"github.com/rhapsodic-legacy/neural-networks-from-scratch/params"
)

// modelData is the gob layout: the config to rebuild the shapes, every
// trainable matrix by name, and the vocabulary in id order. The positional
// table is recomputed, not stored.
type modelData struct {
	Config  params.ModelConfig
	Tensors []tensorData
	Vocab   []string
}

type tensorData struct {
	Name string
	R, C int
	Data []float64
}

func SaveModel(w io.Writer, m *Model, vocab IO.Vocabulary) error {
	if err := m.CheckVocab(vocab.Size()); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	data := modelData{
		Config: m.Config,
		Vocab:  append([]string(nil), vocab.IDToToken...),
	}
	for _, p := range m.Params() {
		r, c := p.W.Dims()
		raw := mat.DenseCopyOf(p.W).RawMatrix()
		data.Tensors = append(data.Tensors, tensorData{
			Name: p.Name,
			R:    r,
			C:    c,
			Data: append([]float64(nil), raw.Data...),
		})
	}
	if err := gob.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	return nil
}

// LoadModel rebuilds a model and its vocabulary from SaveModel output.
func LoadModel(r io.Reader) (*Model, IO.Vocabulary, error) {
	var data modelData
	if err := gob.NewDecoder(r).Decode(&data); err != nil {
		return nil, IO.Vocabulary{}, fmt.Errorf("load model: %w", err)
	}
	m, err := NewModel(data.Config)
	if err != nil {
		return nil, IO.Vocabulary{}, fmt.Errorf("load model: %w", err)
	}
	vocab, err := IO.NewVocabulary(data.Vocab)
	if err != nil {
		return nil, IO.Vocabulary{}, fmt.Errorf("load model: %w", err)
	}
	if err := m.CheckVocab(vocab.Size()); err != nil {
		return nil, IO.Vocabulary{}, fmt.Errorf("load model: %w", err)
	}

	byName := make(map[string]tensorData, len(data.Tensors))
	for _, t := range data.Tensors {
		byName[t.Name] = t
	}
	for _, p := range m.Params() {
		t, ok := byName[p.Name]
		if !ok {
			return nil, IO.Vocabulary{}, fmt.Errorf("load model: missing tensor %q", p.Name)
		}
		r, c := p.W.Dims()
		if t.R != r || t.C != c || len(t.Data) != r*c {
			return nil, IO.Vocabulary{}, fmt.Errorf("load model: tensor %q is %dx%d, want %dx%d", p.Name, t.R, t.C, r, c)
		}
		p.W.Copy(mat.NewDense(r, c, t.Data))
	}
	return m, vocab, nil
}

// SaveToStore writes a checkpoint under key.
func SaveToStore(ctx context.Context, st IO.Store, key string, m *Model, vocab IO.Vocabulary) error {
	var buf bytes.Buffer
	if err := SaveModel(&buf, m, vocab); err != nil {
		return err
	}
	return st.Put(ctx, key, buf.Bytes())
}

func LoadFromStore(ctx context.Context, st IO.Store, key string) (*Model, IO.Vocabulary, error) {
	raw, err := st.Get(ctx, key)
	if err != nil {
		return nil, IO.Vocabulary{}, fmt.Errorf("load model: %w", err)
	}
	return LoadModel(bytes.NewReader(raw))
}
