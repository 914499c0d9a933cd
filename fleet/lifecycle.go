package fleet

import "sync"

// LifecycleResult reports which nodes succeeded and which failed a
// connect/disconnect/reconnect pass.
type LifecycleResult struct {
	Connected []string
	Failed    map[string]error
}

func newLifecycleResult() *LifecycleResult {
	return &LifecycleResult{Failed: make(map[string]error)}
}

// Connect dials every node in parallel (spec.md §4.9: "apply per-node in
// parallel"), returning which nodes succeeded and which failed.
func (f *Fleet) Connect() *LifecycleResult {
	return f.forEachNode(func(n *Node) error { return n.Client.Connect() })
}

// Disconnect closes every node's connection in parallel.
func (f *Fleet) Disconnect() *LifecycleResult {
	return f.forEachNode(func(n *Node) error { return n.Client.Close() })
}

// Reconnect disconnects and reconnects every node in parallel.
func (f *Fleet) Reconnect() *LifecycleResult {
	return f.forEachNode(func(n *Node) error {
		n.Client.Close()
		return n.Client.Connect()
	})
}

func (f *Fleet) forEachNode(op func(*Node) error) *LifecycleResult {
	nodes := f.snapshot(nil)
	result := newLifecycleResult()

	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(len(nodes))
	for _, n := range nodes {
		go func(n *Node) {
			defer wg.Done()
			err := op(n)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[n.Name] = err
			} else {
				result.Connected = append(result.Connected, n.Name)
			}
		}(n)
	}
	wg.Wait()
	return result
}
