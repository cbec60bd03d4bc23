package IO

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model/wordlevel"
	"github.com/sugarme/tokenizer/pretokenizer"

	"github.com/rhapsodic-legacy/neural-networks-from-scratch/params"
)

// Special ids, fixed for every vocabulary.
const (
	PadID = params.PadID
	UnkID = params.UnkID
)

// Vocabulary maps whitespace-separated words to ids. <pad> is 0, <unk> is 1,
// then words by descending training frequency. Nothing mutates it after
// construction. Text goes through a word-level tokenizer built over
// TokenToID, split on whitespace.
type Vocabulary struct {
	TokenToID map[string]int
	IDToToken []string

	tk *tokenizer.Tokenizer
}

// BuildVocabulary counts words over lines and keeps the maxSize-2 most
// frequent. Equal counts keep the order in which the words first appeared.
func BuildVocabulary(lines []string, maxSize int) (Vocabulary, error) {
	if maxSize < 2 {
		return Vocabulary{}, fmt.Errorf("%w: vocabulary cap %d leaves no room for <pad> and <unk>", params.ErrInvalidConfig, maxSize)
	}
	counts := make(map[string]int, 1<<12)
	var order []string // first-seen
	for _, line := range lines {
		for _, w := range strings.Fields(line) {
			if w == params.PadToken || w == params.UnkToken {
				continue
			}
			if counts[w] == 0 {
				order = append(order, w)
			}
			counts[w]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if keep := maxSize - 2; len(order) > keep {
		order = order[:keep]
	}
	return NewVocabulary(append([]string{params.PadToken, params.UnkToken}, order...))
}

// NewVocabulary rebuilds a vocabulary from its id order, e.g. from a checkpoint.
func NewVocabulary(idToToken []string) (Vocabulary, error) {
	if len(idToToken) < 2 || idToToken[PadID] != params.PadToken || idToToken[UnkID] != params.UnkToken {
		return Vocabulary{}, fmt.Errorf("%w: vocabulary must start with %s %s", params.ErrInvalidConfig, params.PadToken, params.UnkToken)
	}
	v := Vocabulary{
		TokenToID: make(map[string]int, len(idToToken)),
		IDToToken: append([]string(nil), idToToken...),
	}
	for i, tok := range v.IDToToken {
		if _, dup := v.TokenToID[tok]; dup {
			return Vocabulary{}, fmt.Errorf("%w: duplicate token %q", params.ErrInvalidConfig, tok)
		}
		v.TokenToID[tok] = i
	}
	model, err := wordlevel.New(v.TokenToID, params.UnkToken)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("word-level tokenizer: %w", err)
	}
	v.tk = tokenizer.NewTokenizer(model)
	v.tk.WithPreTokenizer(pretokenizer.NewWhitespaceSplit())
	return v, nil
}

func (v Vocabulary) Size() int { return len(v.IDToToken) }

func (v Vocabulary) Lookup(tok string) int {
	if id, ok := v.tk.TokenToId(tok); ok {
		return id
	}
	return UnkID
}

// Encode splits on whitespace. Unknown words become <unk>; it never fails.
func (v Vocabulary) Encode(text string) []int {
	if strings.TrimSpace(text) == "" {
		return []int{}
	}
	en, err := v.tk.EncodeSingle(text)
	if err != nil {
		// only possible when <unk> is missing, which NewVocabulary rules out
		panic(fmt.Sprintf("Vocabulary.Encode: %v", err))
	}
	return en.GetIds()
}

// Decode joins the words for ids with single spaces, dropping <pad>.
func (v Vocabulary) Decode(ids []int) (string, error) {
	kept := make([]int, 0, len(ids))
	for _, id := range ids {
		if id < 0 || id >= len(v.IDToToken) {
			return "", fmt.Errorf("%w: id %d, vocabulary size %d", params.ErrTokenOutOfRange, id, len(v.IDToToken))
		}
		if id != PadID {
			kept = append(kept, id)
		}
	}
	return v.tk.Decode(kept, false), nil
}

// ExportJSON writes TokenToID/IDToToken as indented JSON, leaving <pad> and
// <unk> unescaped.
func (v Vocabulary) ExportJSON(w io.Writer) error {
	data := map[string]any{
		"TokenToID": v.TokenToID,
		"IDToToken": v.IDToToken,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(data)
}
