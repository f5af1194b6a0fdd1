package bulksync

// Split cuts ids into consecutive batches of at most batchSize, keeping
// the original order. A batchSize below 1 is treated as 1.
func Split(ids []int64, batchSize int) [][]int64 {
	if len(ids) == 0 {
		return nil
	}
	if batchSize < 1 {
		batchSize = 1
	}
	batches := make([][]int64, 0, (len(ids)+batchSize-1)/batchSize)
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		batches = append(batches, ids[start:end:end])
	}
	return batches
}

// TotalBatches is ceil(total / batchSize).
func TotalBatches(total, batchSize int) int {
	if total <= 0 || batchSize < 1 {
		return 0
	}
	return (total + batchSize - 1) / batchSize
}
