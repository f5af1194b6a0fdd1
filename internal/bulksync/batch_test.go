package bulksync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		ids       []int64
		batchSize int
		want      [][]int64
	}{
		{"empty", nil, 5, nil},
		{"exact", []int64{1, 2, 3, 4}, 2, [][]int64{{1, 2}, {3, 4}}},
		{"remainder", []int64{1, 2, 3, 4, 5, 6, 7}, 5, [][]int64{{1, 2, 3, 4, 5}, {6, 7}}},
		{"single batch", []int64{9, 3}, 10, [][]int64{{9, 3}}},
		{"zero size treated as one", []int64{4, 5}, 0, [][]int64{{4}, {5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Split(tt.ids, tt.batchSize))
		})
	}
}

func TestSplitReassemblesInput(t *testing.T) {
	ids := make([]int64, 0, 103)
	for i := int64(103); i > 0; i-- {
		ids = append(ids, i*7)
	}
	for size := 1; size <= 20; size++ {
		batches := Split(ids, size)
		assert.Len(t, batches, TotalBatches(len(ids), size))

		var joined []int64
		for _, b := range batches {
			assert.NotEmpty(t, b)
			assert.LessOrEqual(t, len(b), size)
			joined = append(joined, b...)
		}
		assert.Equal(t, ids, joined)
	}
}

func TestSplitBatchesDoNotAlias(t *testing.T) {
	ids := []int64{1, 2, 3, 4}
	batches := Split(ids, 2)
	_ = append(batches[0], 99)
	assert.Equal(t, []int64{3, 4}, batches[1])
}

func TestTotalBatches(t *testing.T) {
	assert.Equal(t, 0, TotalBatches(0, 5))
	assert.Equal(t, 1, TotalBatches(5, 5))
	assert.Equal(t, 2, TotalBatches(7, 5))
	assert.Equal(t, 7, TotalBatches(7, 1))
}
