package main

import (
	"fmt"
	"io"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// plotHistory draws a crude vertical bar chart of per-epoch values, scaled
// to the largest one.
func plotHistory(w io.Writer, values []float64) {
	const height = 10 // number of text rows
	n := len(values)
	if n == 0 {
		fmt.Fprintln(w, "no data to plot")
		return
	}
	top := floats.Max(values)
	if top <= 0 {
		top = 1
	}
	for row := height; row >= 1; row-- {
		threshold := top * float64(row) / float64(height)
		var sb strings.Builder
		for _, v := range values {
			if v >= threshold {
				sb.WriteString("██")
			} else {
				sb.WriteString("  ")
			}
		}
		fmt.Fprintf(w, "%8.3f │%s\n", threshold, sb.String())
	}
	// x-axis, epochs are 1-based
	fmt.Fprintf(w, "%8s └%s\n", "", strings.Repeat("──", n))
	var sb strings.Builder
	for i := range values {
		fmt.Fprintf(&sb, "%-2d", (i+1)%100)
	}
	fmt.Fprintf(w, "%8s  %s\n", "epoch", sb.String())
}
