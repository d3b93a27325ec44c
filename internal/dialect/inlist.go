package dialect

// InListPolicy decides how a dynamic in-list of k values is spread over
// placeholders. Groups returns one slice per rendered "in (...)" clause;
// each entry is the index of the value bound to that placeholder. An empty
// result means the list is empty.
//
// capacity is the dialect's cap (0 for none) and padding reports whether
// placeholder counts should be rounded up for plan reuse.
type InListPolicy interface {
	Groups(k, capacity int, padding bool) [][]int
}

// PaddedInList rounds each list up to the next power of two, capped at the
// dialect's limit, and splits longer lists into groups of that size.
// Padding positions repeat the group's last value.
type PaddedInList struct{}

func (PaddedInList) Groups(k, capacity int, padding bool) [][]int {
	if k <= 0 {
		return nil
	}
	if capacity <= 0 || k <= capacity {
		size := k
		if padding {
			size = nextPowerOfTwo(k)
			if capacity > 0 && size > capacity {
				size = capacity
			}
		}
		return [][]int{span(0, k, size)}
	}
	var groups [][]int
	for start := 0; start < k; start += capacity {
		end := min(start+capacity, k)
		size := end - start
		if padding {
			size = capacity
		}
		groups = append(groups, span(start, end, size))
	}
	return groups
}

// ChunkedInList never pads and only splits at the cap. Use it for back ends
// whose statement cache does not benefit from stable placeholder counts.
type ChunkedInList struct{}

func (ChunkedInList) Groups(k, capacity int, _ bool) [][]int {
	return PaddedInList{}.Groups(k, capacity, false)
}

// span returns size indexes counting from start, repeating end-1 once the
// values run out.
func span(start, end, size int) []int {
	out := make([]int, size)
	for i := range out {
		out[i] = min(start+i, end-1)
	}
	return out
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
