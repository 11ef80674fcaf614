package logquery

import "sort"

// counter counts values and remembers first-seen order for tie-breaking.
type counter struct {
	counts map[string]int
	order  []string
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(v string) {
	if _, ok := c.counts[v]; !ok {
		c.order = append(c.order, v)
	}
	c.counts[v]++
}

// top returns up to k buckets, highest count first. Equal counts keep
// first-seen order (stable sort over the insertion list).
func (c *counter) top(k int) []Bucket {
	buckets := make([]Bucket, len(c.order))
	for i, v := range c.order {
		buckets[i] = Bucket{Value: v, Count: c.counts[v]}
	}
	sort.SliceStable(buckets, func(i, j int) bool {
		return buckets[i].Count > buckets[j].Count
	})
	if k < len(buckets) {
		buckets = buckets[:k]
	}
	return buckets
}
