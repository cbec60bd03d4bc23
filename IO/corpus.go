package IO

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Splits holds the raw text lines of a WikiText-style corpus directory.
type Splits struct {
	Train, Valid, Test []string
}

var splitFiles = [...]string{"train.txt", "valid.txt", "test.txt"}

// LoadSplits reads train.txt, valid.txt and test.txt from dir.
func LoadSplits(dir string) (Splits, error) {
	var out [len(splitFiles)][]string
	for i, name := range splitFiles {
		lines, err := ReadLines(filepath.Join(dir, name))
		if err != nil {
			return Splits{}, err
		}
		out[i] = lines
	}
	return Splits{Train: out[0], Valid: out[1], Test: out[2]}, nil
}

// ReadLines returns the non-blank lines of a text file.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20) // 1MB lines
	for sc.Scan() {
		if line := sc.Text(); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}

// EncodeLines tokenizes every line and concatenates the ids into one stream.
func EncodeLines(v Vocabulary, lines []string) []int {
	var ids []int
	for _, line := range lines {
		ids = append(ids, v.Encode(line)...)
	}
	return ids
}

// ChunkLines is EncodeLines followed by Chunk.
func ChunkLines(v Vocabulary, lines []string, seqLen int) [][]int {
	return Chunk(EncodeLines(v, lines), seqLen)
}
