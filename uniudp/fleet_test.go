package uniudp

import (
	"net"
	"testing"
)

func TestFleetRejectsDuplicateNames(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()

	specs := []FleetNodeSpec{
		{Name: "a", Addr: conn.LocalAddr()},
		{Name: "a", Addr: conn.LocalAddr()},
	}
	if _, err := NewFleet(conn, specs); err == nil {
		t.Fatal("expected error for duplicate node name")
	}
}

// TestFleetBroadcastTagFilter mirrors spec.md §8 boundary scenario 6
// (originally specified for the TCP fleet, same tag-filter contract
// applies to the UniUDP fleet): nodes {A:[compute], B:[compute,primary],
// C:[storage]}; tags=[primary] reaches only B, tags=[compute] reaches A
// and B, a tag no node carries (tags=[nonexistent]) reaches none.
func TestFleetBroadcastTagFilter(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer conn.Close()
	dest := conn.LocalAddr()

	specs := []FleetNodeSpec{
		{Name: "A", Addr: dest, Tags: []string{"compute"}},
		{Name: "B", Addr: dest, Tags: []string{"compute", "primary"}},
		{Name: "C", Addr: dest, Tags: []string{"storage"}},
	}
	f, err := NewFleet(conn, specs)
	if err != nil {
		t.Fatalf("NewFleet: %v", err)
	}

	results := f.Broadcast("/ping", nil, []string{"primary"}, true)
	if _, ok := results["B"]; !ok || len(results) != 1 {
		t.Errorf("tags=[primary]: got %v, want only B", keysOf(results))
	}

	results = f.Broadcast("/ping", nil, []string{"compute"}, true)
	if _, ok := results["A"]; !ok {
		t.Errorf("tags=[compute]: missing A, got %v", keysOf(results))
	}
	if _, ok := results["B"]; !ok {
		t.Errorf("tags=[compute]: missing B, got %v", keysOf(results))
	}
	if len(results) != 2 {
		t.Errorf("tags=[compute]: got %d nodes, want 2", len(results))
	}

	results = f.Broadcast("/ping", nil, []string{"nonexistent"}, true)
	if len(results) != 0 {
		t.Errorf("tags=[nonexistent]: got %v, want none", keysOf(results))
	}
}

func keysOf(m map[string]SendResult) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
