// Package vector projects raw backbone features to the fixed-length form stored and compared
// across the system.
package vector

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/kailas-cloud/evidex/internal/domain"
)

// DefaultTargetDim is the stored vector length.
const DefaultTargetDim = 16000

// Options controls Normalize.
type Options struct {
	TargetDim int  // 0 means DefaultTargetDim
	L2        bool // scale to unit length after resizing
}

// Normalize resizes v to opts.TargetDim and optionally L2-normalizes it.
//
// Shorter inputs are zero-padded at the end, longer inputs are compressed with adaptive
// average pooling, equal lengths pass through. Empty or all-zero input returns
// domain.ErrDegenerateVectorInput.
func Normalize(v []float32, opts Options) ([]float32, error) {
	dim := opts.TargetDim
	if dim == 0 {
		dim = DefaultTargetDim
	}
	if dim < 0 {
		return nil, fmt.Errorf("%w: target dim must be positive, got %d", domain.ErrInvalidParameter, dim)
	}
	if isDegenerate(v) {
		return nil, fmt.Errorf("%w: length %d", domain.ErrDegenerateVectorInput, len(v))
	}

	if len(v) == dim && !opts.L2 {
		out := make([]float32, dim)
		copy(out, v)
		return out, nil
	}

	x := Resize(toFloat64(v), dim)

	if opts.L2 {
		n := floats.Norm(x, 2)
		if n == 0 {
			return nil, fmt.Errorf("%w: zero norm after resize", domain.ErrDegenerateVectorInput)
		}
		floats.Scale(1/n, x)
	}

	return toFloat32(x), nil
}

// Resize pads or pools x to exactly dim elements. The input is never modified.
func Resize(x []float64, dim int) []float64 {
	switch {
	case len(x) == dim:
		out := make([]float64, dim)
		copy(out, x)
		return out
	case len(x) < dim:
		out := make([]float64, dim)
		copy(out, x)
		return out
	default:
		return AdaptiveAvgPool(x, dim)
	}
}

// AdaptiveAvgPool compresses x to dim outputs. Output i averages
// x[floor(i*L/dim) : ceil((i+1)*L/dim)], so windows may overlap and every input contributes.
func AdaptiveAvgPool(x []float64, dim int) []float64 {
	l := len(x)
	out := make([]float64, dim)
	if l == 0 || dim <= 0 {
		return out
	}
	for i := 0; i < dim; i++ {
		start := i * l / dim
		end := ((i+1)*l + dim - 1) / dim
		out[i] = floats.Sum(x[start:end]) / float64(end-start)
	}
	return out
}

// L2Norm returns the Euclidean norm of v, accumulated in float64.
func L2Norm(v []float32) float64 {
	return floats.Norm(toFloat64(v), 2)
}

func isDegenerate(v []float32) bool {
	for _, f := range v {
		if f != 0 {
			return false
		}
	}
	return true
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
