package uniudp

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// FleetNodeSpec describes one UniUDP fan-out destination.
type FleetNodeSpec struct {
	Name string
	Addr net.Addr
	Tags []string
}

type fleetNode struct {
	name   string
	client *Client
	tags   []string
}

// Fleet fans a fire-and-forget UniUDP send out to every configured node
// matching a tag filter, in parallel, mirroring fleet.Fleet's broadcast
// shape (fleet/broadcast.go) but over uniudp.Client sends instead of TCP
// request/response calls.
type Fleet struct {
	mu    sync.RWMutex
	nodes map[string]*fleetNode
}

// NewFleet builds a Fleet, one Client per spec sharing conn, rejecting
// duplicate names pre-flight exactly as fleet.New does (spec.md §4.9).
func NewFleet(conn net.PacketConn, specs []FleetNodeSpec, opts ...ClientOption) (*Fleet, error) {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if seen[s.Name] {
			return nil, fmt.Errorf("uniudp: duplicate node name %q", s.Name)
		}
		seen[s.Name] = true
	}

	f := &Fleet{nodes: make(map[string]*fleetNode, len(specs))}
	for _, s := range specs {
		f.nodes[s.Name] = &fleetNode{
			name:   s.Name,
			client: NewClient(conn, s.Addr, opts...),
			tags:   s.Tags,
		}
	}
	return f, nil
}

func (f *Fleet) snapshot(tags []string) []*fleetNode {
	f.mu.RLock()
	defer f.mu.RUnlock()
	matched := make([]*fleetNode, 0, len(f.nodes))
	for _, n := range f.nodes {
		if hasAllTags(n.tags, tags) {
			matched = append(matched, n)
		}
	}
	return matched
}

func hasAllTags(nodeTags, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]bool, len(nodeTags))
	for _, t := range nodeTags {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

// SendResult is the per-node outcome of a Fleet send. A nil Error means
// the send syscall returned, not that the message was delivered or
// processed (spec.md §4.10).
type SendResult struct {
	Node      string
	MessageID uint64
	Error     error
	Elapsed   time.Duration
}

// Broadcast sends method/params to every node whose tags are a superset of
// tags, concurrently, as notify or request depending on notify.
func (f *Fleet) Broadcast(method string, params any, tags []string, notify bool) map[string]SendResult {
	nodes := f.snapshot(tags)

	results := make(map[string]SendResult, len(nodes))
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(len(nodes))
	for _, n := range nodes {
		go func(n *fleetNode) {
			defer wg.Done()
			start := time.Now()
			var id uint64
			var err error
			if notify {
				id, err = n.client.SendNotify(method, params)
			} else {
				id, err = n.client.SendRequest(method, params)
			}
			mu.Lock()
			defer mu.Unlock()
			results[n.name] = SendResult{Node: n.name, MessageID: id, Error: err, Elapsed: time.Since(start)}
		}(n)
	}
	wg.Wait()
	return results
}
