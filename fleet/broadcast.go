package fleet

import (
	"sync"

	"repe/client"
)

// Broadcast calls method on every node whose tags are a superset of tags
// (an empty filter matches every node), concurrently, and returns a
// name→result map (spec.md §4.9).
func (f *Fleet) Broadcast(method string, params any, tags []string, opts ...client.RequestOption) map[string]CallResult {
	nodes := f.snapshot(tags)

	results := make(map[string]CallResult, len(nodes))
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(len(nodes))
	for _, n := range nodes {
		go func(n *Node) {
			defer wg.Done()
			res := f.callWithRetry(n, method, params, opts...)
			mu.Lock()
			defer mu.Unlock()
			results[n.Name] = res
		}(n)
	}
	wg.Wait()
	return results
}

// MapReduce broadcasts method, then applies fn to the collection of
// per-node results (spec.md §4.9: "broadcast then apply fn to the values
// collection").
func (f *Fleet) MapReduce(method string, params any, tags []string, fn func(map[string]CallResult) any, opts ...client.RequestOption) any {
	results := f.Broadcast(method, params, tags, opts...)
	return fn(results)
}
