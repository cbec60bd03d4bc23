//go:build accelerate

package main

import (
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/netlib/blas/netlib"
)

// Building with -tags accelerate routes gonum's matrix products through the
// system CBLAS (Accelerate on macOS, OpenBLAS elsewhere, picked by CGO_LDFLAGS).
func init() {
	blas64.Use(netlib.Implementation{})
}
