// Package registry implements the JSON-Pointer addressed value tree
// (component C8): RFC 6901 pointer parsing, read/write/call resolution
// over a nested Go value, and REPE server integration via a prefix-aware
// middleware.
//
// This replaces the teacher's registry package outright — that package
// implemented etcd-backed service discovery, an explicit spec.md §1
// Non-goal (see DESIGN.md). The reflection-navigation technique the
// teacher used for dispatch (server/service.go: reflect.New + field/method
// lookup) is adapted here for the CALL path instead.
package registry

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePointer parses a JSON Pointer per RFC 6901 as spec.md §4.8
// describes: empty string or "/" yields an empty segment list; any other
// value must start with "/"; segments are split on "/" and unescaped
// (~1 → / before ~0 → ~).
func ParsePointer(ptr string) ([]string, error) {
	if ptr == "" || ptr == "/" {
		return []string{}, nil
	}
	if !strings.HasPrefix(ptr, "/") {
		return nil, fmt.Errorf("registry: pointer %q must start with '/'", ptr)
	}
	raw := strings.Split(ptr[1:], "/")
	segments := make([]string, len(raw))
	for i, seg := range raw {
		segments[i] = unescapeSegment(seg)
	}
	return segments, nil
}

func unescapeSegment(seg string) string {
	seg = strings.ReplaceAll(seg, "~1", "/")
	seg = strings.ReplaceAll(seg, "~0", "~")
	return seg
}

// segmentIndex parses a pointer segment as a base-10 non-negative integer
// sequence index.
func segmentIndex(seg string) (int, error) {
	n, err := strconv.Atoi(seg)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("registry: %q is not a valid sequence index", seg)
	}
	return n, nil
}
