// Package fleet implements named-node TCP fan-out (component C9): a
// map of named REPE clients, parallel connection lifecycle operations,
// tag-filtered broadcast, and a fixed-delay retry policy.
//
// Grounded in the teacher's client.Client (client/client.go):
// transports map[string][]*transport.ClientTransport protected by a mutex,
// generalized here from "round-robin pool per address" to "one
// client.Client per named node" — Fleet addresses nodes by name, not by
// load-balanced address selection, so there is no balancer concept here.
package fleet

import (
	"fmt"
	"sync"
	"time"

	"repe/client"
)

// RetryPolicy bounds Call's retry loop. Unlike the teacher's
// middleware.RetryMiddleware (exponential backoff via a 1<<i multiplier),
// this is a flat fixed delay between attempts, matching spec.md §4.9
// exactly ("sleep retry_policy.delay" with no backoff multiplier).
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy is used when a Fleet is constructed without one.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Delay: 200 * time.Millisecond}

// Node is one fleet member: a named REPE client plus the tags broadcast
// filters against and an optional per-node timeout override.
type Node struct {
	Name    string
	Client  *client.Client
	Tags    []string
	Timeout time.Duration
}

// Fleet is a named collection of REPE clients operated on together.
type Fleet struct {
	mu             sync.RWMutex
	nodes          map[string]*Node
	defaultTimeout time.Duration
	retryPolicy    RetryPolicy
	healthEndpoint string
}

// Option configures a Fleet at construction time.
type Option func(*Fleet)

// WithDefaultTimeout sets the fallback per-call timeout for nodes whose
// own Timeout is zero.
func WithDefaultTimeout(d time.Duration) Option {
	return func(f *Fleet) { f.defaultTimeout = d }
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(f *Fleet) { f.retryPolicy = p }
}

// WithHealthEndpoint overrides the method HealthCheck calls (default "/status").
func WithHealthEndpoint(method string) Option {
	return func(f *Fleet) { f.healthEndpoint = method }
}

// NodeSpec describes one node to add at construction time.
type NodeSpec struct {
	Name string
	Host string
	Port int
	Tags []string
}

// New builds a Fleet from specs, rejecting duplicate names before any
// client is constructed (spec.md §4.9: "deduplicate names pre-flight;
// reject duplicates; then materialize Clients").
func New(specs []NodeSpec, opts ...Option) (*Fleet, error) {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if seen[s.Name] {
			return nil, fmt.Errorf("fleet: duplicate node name %q", s.Name)
		}
		seen[s.Name] = true
	}

	f := &Fleet{
		nodes:          make(map[string]*Node, len(specs)),
		defaultTimeout: 5 * time.Second,
		retryPolicy:    DefaultRetryPolicy,
		healthEndpoint: "/status",
	}
	for _, opt := range opts {
		opt(f)
	}

	for _, s := range specs {
		f.nodes[s.Name] = &Node{
			Name:   s.Name,
			Client: client.New(s.Host, s.Port),
			Tags:   s.Tags,
		}
	}
	return f, nil
}

// snapshot returns the nodes matching every tag in tags (tags ⊆ node.tags),
// taken under the read lock. An empty tags filter matches every node.
func (f *Fleet) snapshot(tags []string) []*Node {
	f.mu.RLock()
	defer f.mu.RUnlock()

	matched := make([]*Node, 0, len(f.nodes))
	for _, n := range f.nodes {
		if hasAllTags(n.Tags, tags) {
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

func (f *Fleet) node(name string) (*Node, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n, ok := f.nodes[name]
	return n, ok
}
