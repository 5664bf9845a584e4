package catalog

import "math/rand/v2"

// Rand is the subset of *rand.Rand used for sampling.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Sample returns min(k, len(items)) items picked uniformly at random without
// replacement, in the order they were picked. A nil rng uses the global source.
func Sample[T any](items []T, k int, rng Rand) []T {
	n := len(items)
	if k > n {
		k = n
	}
	if k <= 0 {
		return []T{}
	}
	if rng == nil {
		rng = globalRand{}
	}

	// Partial Fisher-Yates over an index permutation: step i fixes position i
	// from the not-yet-picked tail, so every step makes progress.
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	out := make([]T, 0, k)
	for i := 0; i < k; i++ {
		j := i + rng.IntN(n-i)
		indices[i], indices[j] = indices[j], indices[i]
		out = append(out, items[indices[i]])
	}
	return out
}
