package fleet

import (
	"sync"
	"time"

	"repe/client"
)

// HealthStatus is one node's health-check outcome.
type HealthStatus struct {
	Healthy bool
	Latency time.Duration
	Error   error
}

// HealthCheck calls the fleet's health endpoint (default "/status") on
// every node in parallel with a 5-second timeout, per spec.md §4.9.
func (f *Fleet) HealthCheck() map[string]HealthStatus {
	nodes := f.snapshot(nil)

	results := make(map[string]HealthStatus, len(nodes))
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(len(nodes))
	for _, n := range nodes {
		go func(n *Node) {
			defer wg.Done()
			start := time.Now()
			if !n.Client.Connected() {
				if err := n.Client.Connect(); err != nil {
					mu.Lock()
					results[n.Name] = HealthStatus{Error: err, Latency: time.Since(start)}
					mu.Unlock()
					return
				}
			}
			_, err := n.Client.SendRequest(f.healthEndpoint, nil, client.WithRequestTimeout(5*time.Second))
			status := HealthStatus{Healthy: err == nil, Latency: time.Since(start), Error: err}
			mu.Lock()
			defer mu.Unlock()
			results[n.Name] = status
		}(n)
	}
	wg.Wait()
	return results
}
