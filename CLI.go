package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/rhapsodic-legacy/neural-networks-from-scratch/IO"
	"github.com/rhapsodic-legacy/neural-networks-from-scratch/params"
	"github.com/rhapsodic-legacy/neural-networks-from-scratch/transformer"
)

// ChatCLI reads one prompt per line and prints its continuation. It stops at
// "exit" or end of input.
func ChatCLI(in io.Reader, out io.Writer, model *transformer.Model, vocab IO.Vocabulary, gc transformer.GenerateConfig) error {
	sc := bufio.NewScanner(in)
	fmt.Fprintln(out, "Type a prompt, 'exit' to quit.")
	for {
		fmt.Fprint(out, "You: ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		input := strings.TrimSpace(sc.Text())
		if input == "exit" {
			return nil
		}
		if input == "" {
			continue
		}
		text, err := Predict(model, vocab, gc, input)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			continue
		}
		fmt.Fprintln(out, "Bot:", text)
	}
}

// Predict encodes input, generates with gc and decodes the whole sequence.
func Predict(model *transformer.Model, vocab IO.Vocabulary, gc transformer.GenerateConfig, input string) (string, error) {
	ids := vocab.Encode(input)
	if len(ids) == 0 {
		return "", fmt.Errorf("prompt %q: %w", input, params.ErrEmptySequence)
	}
	g, err := transformer.NewGenerator(model, gc)
	if err != nil {
		return "", err
	}
	out, err := g.Generate(ids)
	if err != nil {
		return "", err
	}
	return vocab.Decode(out)
}
