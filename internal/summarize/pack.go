package summarize

// Pack groups item indices into batches whose summed cost stays within
// capacity, scanning left to right and closing a batch when the next item
// would overflow it. An item costing more than capacity gets a batch of its
// own. The result depends only on the inputs.
func Pack(costs []int, capacity int) [][]int {
	var batches [][]int
	var cur []int
	used := 0
	for i, c := range costs {
		if len(cur) > 0 && used+c > capacity {
			batches = append(batches, cur)
			cur, used = nil, 0
		}
		cur = append(cur, i)
		used += c
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}
