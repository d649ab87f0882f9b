// Package similarity scores and ranks feature vectors by cosine similarity.
package similarity

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/kailas-cloud/evidex/internal/domain"
)

// Candidate is one stored vector considered by Rank.
type Candidate struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// Result is a ranked candidate.
type Result struct {
	ID         string            `json:"id"`
	Similarity float64           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Cosine returns the cosine similarity of a and b. A zero vector scores 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", domain.ErrVectorDimMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}

	x, y := widen(a), widen(b)
	na, nb := floats.Norm(x, 2), floats.Norm(y, 2)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return floats.Dot(x, y) / (na * nb), nil
}

// Rank scores every candidate against query and returns those strictly above threshold,
// highest first, at most topK. Equal scores keep candidate order. Candidates whose length
// differs from the query are skipped.
func Rank(query []float32, candidates []Candidate, topK int, threshold float64) []Result {
	if query == nil || len(candidates) == 0 || topK <= 0 || math.IsNaN(threshold) {
		return []Result{}
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		s, err := Cosine(query, c.Vector)
		if err != nil {
			continue
		}
		if s <= threshold {
			continue
		}
		results = append(results, Result{ID: c.ID, Similarity: s, Metadata: c.Metadata})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
