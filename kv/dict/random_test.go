package dict

import (
	"math"
	"math/rand"
	"testing"

	"github.com/montanaflynn/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomEntryEmpty(t *testing.T) {
	d := New(intType())
	assert.Nil(t, d.RandomEntry())
}

func TestRandomEntryUniformOverSkewedBuckets(t *testing.T) {
	// Keys below 10 share bucket 0, the rest get a bucket each.
	typ := &Type[int]{Hash: func(k int) uint64 {
		if k < 10 {
			return 0
		}
		return uint64(k)
	}}
	d := New(typ, WithRandSource(rand.NewSource(1)))
	require.NoError(t, d.Expand(32))
	const keys = 30
	for i := 0; i < keys; i++ {
		require.NoError(t, d.Add(i, nil))
	}
	require.False(t, d.IsRehashing())

	const trials = 300000
	counts := make([]float64, keys)
	for i := 0; i < trials; i++ {
		e := d.RandomEntry()
		require.NotNil(t, e)
		counts[e.Key()]++
	}

	expected := float64(trials) / keys
	mean, err := stats.Mean(counts)
	require.NoError(t, err)
	assert.InDelta(t, expected, mean, 1e-9)

	sd, err := stats.StandardDeviation(counts)
	require.NoError(t, err)
	binomial := math.Sqrt(expected * (1 - 1.0/keys))
	assert.True(t, sd < 2*binomial, "stddev %.1f, binomial %.1f", sd, binomial)

	for k, c := range counts {
		assert.InDelta(t, expected, c, 6*binomial, "key %d", k)
	}
}

func TestRandomEntryWhileRehashing(t *testing.T) {
	d := New(intType(), WithRandSource(rand.NewSource(7)))
	fill(t, d, 100)
	require.NoError(t, d.Expand(1024))
	d.Rehash(30)
	require.True(t, d.IsRehashing())

	seen := make(map[int]bool)
	for i := 0; i < 20000; i++ {
		e := d.RandomEntry()
		require.NotNil(t, e)
		seen[e.Key()] = true
	}
	assert.Len(t, seen, 100)
}

func TestRandomEntryBoundFollowsDeletes(t *testing.T) {
	// Keys below 50 share bucket 0.
	typ := &Type[int]{Hash: func(k int) uint64 {
		if k < 50 {
			return 0
		}
		return uint64(k)
	}}
	d := New(typ, WithRandSource(rand.NewSource(3)))
	require.NoError(t, d.Expand(256))
	for i := 0; i < 50; i++ {
		require.NoError(t, d.Add(i, nil))
	}
	for i := 100; i < 150; i++ {
		require.NoError(t, d.Add(i, nil))
	}
	require.False(t, d.IsRehashing())
	assert.Equal(t, 50, d.longest)

	for i := 1; i < 50; i++ {
		require.True(t, d.Delete(i))
	}
	require.False(t, d.IsRehashing())
	assert.Equal(t, 1, d.longest)
	assert.Equal(t, longestChain(d), d.longest)

	seen := make(map[int]bool)
	for i := 0; i < 5000; i++ {
		seen[d.RandomEntry().Key()] = true
	}
	assert.Len(t, seen, 51)
}
