// Package dataloader batches dataset items for the training loop.
package dataloader

import (
	"fmt"
	"math/rand"

	"github.com/whitebrush/go-cartoon/tensor"
)

// Dataset is the minimal item source a loader iterates over.
type Dataset interface {
	Len() int
	Get(i int) (*tensor.Tensor, error)
}

// DataLoader draws shuffled batches from a dataset and stacks them into a
// single (N, C, H, W) tensor. Trailing items that do not fill a whole batch
// are dropped, so every batch the trainer sees has the same leading
// dimension.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	rng       *rand.Rand
	order     []int
	cursor    int
}

// NewDataLoader wraps dataset with batch size batchSize, shuffled by rng.
func NewDataLoader(dataset Dataset, batchSize int, rng *rand.Rand) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if dataset.Len() < batchSize {
		return nil, fmt.Errorf("dataset has %d items, fewer than batch size %d", dataset.Len(), batchSize)
	}

	dl := &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		rng:       rng,
		order:     make([]int, dataset.Len()),
	}
	for i := range dl.order {
		dl.order[i] = i
	}
	dl.Reset()
	return dl, nil
}

// Len returns the number of full batches per epoch.
func (dl *DataLoader) Len() int {
	return dl.dataset.Len() / dl.batchSize
}

// Reset reshuffles the sample order and rewinds to the first batch.
func (dl *DataLoader) Reset() {
	dl.rng.Shuffle(len(dl.order), func(i, j int) {
		dl.order[i], dl.order[j] = dl.order[j], dl.order[i]
	})
	dl.cursor = 0
}

// Next returns the next full batch, or (nil, nil) once the epoch is
// exhausted. Items that would form a final partial batch are skipped.
func (dl *DataLoader) Next() (*tensor.Tensor, error) {
	if dl.cursor+dl.batchSize > len(dl.order) {
		return nil, nil
	}

	first, err := dl.dataset.Get(dl.order[dl.cursor])
	if err != nil {
		return nil, err
	}
	if len(first.Shape) != 3 {
		return nil, fmt.Errorf("%w: dataset items must be 3D (C,H,W), got %v", tensor.ErrShapeMismatch, first.Shape)
	}

	shape := []int{dl.batchSize, first.Shape[0], first.Shape[1], first.Shape[2]}
	batch, err := tensor.Zeros(shape)
	if err != nil {
		return nil, err
	}

	itemLen := first.NumElems
	copy(batch.Data[:itemLen], first.Data)
	for i := 1; i < dl.batchSize; i++ {
		item, err := dl.dataset.Get(dl.order[dl.cursor+i])
		if err != nil {
			return nil, err
		}
		if !item.ShapeEquals(first) {
			return nil, fmt.Errorf("%w: item shape %v differs from %v within batch", tensor.ErrShapeMismatch, item.Shape, first.Shape)
		}
		copy(batch.Data[i*itemLen:(i+1)*itemLen], item.Data)
	}

	dl.cursor += dl.batchSize
	return batch, nil
}
