package dataloader

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whitebrush/go-cartoon/tensor"
)

// sliceDataset serves pre-built tensors so loader behavior can be tested
// without touching the filesystem.
type sliceDataset struct {
	items []*tensor.Tensor
}

func (d *sliceDataset) Len() int { return len(d.items) }

func (d *sliceDataset) Get(i int) (*tensor.Tensor, error) { return d.items[i], nil }

func makeDataset(t *testing.T, n int) *sliceDataset {
	t.Helper()
	ds := &sliceDataset{}
	for i := 0; i < n; i++ {
		item, err := tensor.Full([]int{3, 4, 4}, float32(i))
		require.NoError(t, err)
		ds.items = append(ds.items, item)
	}
	return ds
}

func TestDataLoaderDropsPartialBatch(t *testing.T) {
	dl, err := NewDataLoader(makeDataset(t, 7), 2, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.Equal(t, 3, dl.Len())

	var batches int
	for {
		batch, err := dl.Next()
		require.NoError(t, err)
		if batch == nil {
			break
		}
		require.Equal(t, []int{2, 3, 4, 4}, batch.Shape)
		batches++
	}
	require.Equal(t, 3, batches)
}

func TestDataLoaderCoversEveryItemOnce(t *testing.T) {
	dl, err := NewDataLoader(makeDataset(t, 6), 3, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	seen := map[float32]bool{}
	for {
		batch, err := dl.Next()
		require.NoError(t, err)
		if batch == nil {
			break
		}
		itemLen := 3 * 4 * 4
		for i := 0; i < batch.Shape[0]; i++ {
			seen[batch.Data[i*itemLen]] = true
		}
	}
	require.Len(t, seen, 6)
}

func TestDataLoaderResetReshuffles(t *testing.T) {
	dl, err := NewDataLoader(makeDataset(t, 8), 2, rand.New(rand.NewSource(3)))
	require.NoError(t, err)

	firstEpoch := drainFirstValues(t, dl)
	dl.Reset()
	secondEpoch := drainFirstValues(t, dl)

	require.Len(t, secondEpoch, len(firstEpoch))

	// Both epochs cover the same items even if the order changes.
	count := func(vals []float32) map[float32]int {
		m := map[float32]int{}
		for _, v := range vals {
			m[v]++
		}
		return m
	}
	require.Equal(t, count(firstEpoch), count(secondEpoch))
}

func drainFirstValues(t *testing.T, dl *DataLoader) []float32 {
	t.Helper()
	var vals []float32
	itemLen := 3 * 4 * 4
	for {
		batch, err := dl.Next()
		require.NoError(t, err)
		if batch == nil {
			return vals
		}
		for i := 0; i < batch.Shape[0]; i++ {
			vals = append(vals, batch.Data[i*itemLen])
		}
	}
}

func TestDataLoaderRejectsTinyDataset(t *testing.T) {
	_, err := NewDataLoader(makeDataset(t, 1), 2, rand.New(rand.NewSource(1)))
	require.Error(t, err)
}
