package dict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(t *testing.T, d *Dict[int], n int) {
	for i := 0; i < n; i++ {
		require.NoError(t, d.Add(i, i))
	}
	finishRehash(d)
}

func TestIteratorVisitsEverything(t *testing.T) {
	d := New(intType())
	fill(t, d, 100)

	seen := make(map[int]int)
	it := d.Iterator()
	for e := it.Next(); e != nil; e = it.Next() {
		seen[e.Key()]++
		assert.NotNil(t, d.Find(e.Key()))
	}
	assert.NotPanics(t, it.Release)
	assert.Len(t, seen, 100)
	for k, n := range seen {
		assert.Equal(t, 1, n, "key %d", k)
	}
}

func TestUnsafeIteratorDetectsMutation(t *testing.T) {
	d := New(intType())
	fill(t, d, 10)

	it := d.Iterator()
	require.NotNil(t, it.Next())
	require.NoError(t, d.Add(100, nil))
	assert.Panics(t, it.Release)
}

func TestUnsafeIteratorDetectsRehashStep(t *testing.T) {
	d := New(intType())
	fill(t, d, 10)
	require.NoError(t, d.Expand(64))

	it := d.Iterator()
	require.NotNil(t, it.Next())
	d.Rehash(1)
	assert.Panics(t, it.Release)
}

func TestSafeIteratorSuppressesResize(t *testing.T) {
	d := New(intType())
	fill(t, d, 16)
	slots := d.Slots()

	it := d.SafeIterator()
	require.NotNil(t, it.Next())
	for i := 100; i < 140; i++ {
		require.NoError(t, d.Add(i, nil))
	}
	assert.False(t, d.IsRehashing())
	assert.Equal(t, slots, d.Slots())
	assert.Equal(t, ErrExpandRejected, d.Expand(1024))
	it.Release()

	require.NoError(t, d.Add(200, nil))
	assert.True(t, d.IsRehashing())
}

func TestSafeIteratorDuringRehash(t *testing.T) {
	d := New(intType())
	fill(t, d, 64)
	require.NoError(t, d.Expand(256))
	require.True(t, d.IsRehashing())

	seen := make(map[int]int)
	deleted := make(map[int]bool)
	it := d.SafeIterator()
	for e := it.Next(); e != nil; e = it.Next() {
		k := e.Key()
		seen[k]++
		assert.False(t, deleted[k], "deleted key %d returned", k)
		if k < 64 && k%2 == 0 {
			require.NoError(t, d.Add(1000+k, nil))
			if d.Delete(k + 1) {
				deleted[k+1] = true
			}
		}
	}
	it.Release()

	assert.False(t, d.IsRehashing())
	for k, n := range seen {
		assert.Equal(t, 1, n, "key %d returned %d times", k, n)
	}
	for k := 0; k < 64; k += 2 {
		assert.Equal(t, 1, seen[k], "key %d", k)
	}
	assert.Equal(t, 0, d.iterators)
}

func TestSafeIteratorDeleteCurrent(t *testing.T) {
	d := New(StringType(testSeed))
	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, k := range keys {
		require.NoError(t, d.Add(k, nil))
	}
	var visited []string
	it := d.SafeIterator()
	for e := it.Next(); e != nil; e = it.Next() {
		visited = append(visited, e.Key())
		assert.True(t, d.Delete(e.Key()))
	}
	it.Release()
	assert.ElementsMatch(t, keys, visited)
	assert.Equal(t, uint64(0), d.Len())
}

func TestReleaseWithoutNext(t *testing.T) {
	d := New(intType())
	fill(t, d, 4)
	it := d.SafeIterator()
	it.Release()
	assert.Equal(t, 0, d.iterators)
	assert.NotPanics(t, d.Iterator().Release)
}
