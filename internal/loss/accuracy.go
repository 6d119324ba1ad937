package loss

import "sort"

// TopK returns, for each k, the percentage of rows whose target is among the
// k highest logits. k is clipped to numClasses. Ties keep the lower class id
// first.
func TopK(logits []float32, numClasses int, targets []int, ks ...int) []float64 {
	out := make([]float64, len(ks))
	if len(targets) == 0 {
		return out
	}
	maxK := 0
	for _, k := range ks {
		if k > maxK {
			maxK = k
		}
	}
	if maxK > numClasses {
		maxK = numClasses
	}

	order := make([]int, numClasses)
	for b, y := range targets {
		row := logits[b*numClasses : (b+1)*numClasses]
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(i, j int) bool { return row[order[i]] > row[order[j]] })
		rank := -1
		for r := 0; r < maxK; r++ {
			if order[r] == y {
				rank = r
				break
			}
		}
		if rank < 0 {
			continue
		}
		for i, k := range ks {
			if rank < k {
				out[i]++
			}
		}
	}
	for i := range out {
		out[i] = out[i] * 100 / float64(len(targets))
	}
	return out
}
