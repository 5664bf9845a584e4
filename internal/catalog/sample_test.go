package catalog

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSampleSizeAndDistinctness(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	for seed := uint64(0); seed < 20; seed++ {
		got := Sample(items, SampleSize, rand.New(rand.NewPCG(seed, seed+1)))
		require.Len(t, got, SampleSize)

		seen := map[int]bool{}
		for _, v := range got {
			require.False(t, seen[v])
			seen[v] = true
		}
	}
}

func TestSampleTerminatesWhenFewerItemsThanK(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}

	got := Sample(items, SampleSize, rand.New(rand.NewPCG(7, 7)))
	require.ElementsMatch(t, items, got)
}

func TestSampleEdgeCases(t *testing.T) {
	require.Empty(t, Sample([]int{}, SampleSize, nil))
	require.Empty(t, Sample([]int{1, 2, 3}, 0, nil))
	require.Len(t, Sample([]int{1, 2, 3}, 2, nil), 2)
}

type scriptedRand struct {
	picks []int
	calls []int
}

func (s *scriptedRand) IntN(n int) int {
	s.calls = append(s.calls, n)
	pick := s.picks[0]
	s.picks = s.picks[1:]
	return pick
}

func TestSampleReturnsItemsInPickOrder(t *testing.T) {
	rng := &scriptedRand{picks: []int{3, 0, 1}}

	got := Sample([]string{"a", "b", "c", "d"}, 3, rng)

	// step 0 picks index 3 (d), swapping a to the end; step 1 picks offset 0
	// of [b c a] (b); step 2 picks offset 1 of [c a] (a).
	require.Equal(t, []string{"d", "b", "a"}, got)
	require.Equal(t, []int{4, 3, 2}, rng.calls)
}
