package grpcdispatch

import (
	"maps"
	"slices"
)

// Node is one entry in a loaded descriptor namespace tree: either a nested
// [Namespace] or a [ServiceDefinition] leaf.
type Node interface {
	node()
}

// Namespace is a level of a descriptor namespace tree, keyed by the bare
// (undotted) name of each entry.
type Namespace map[string]Node

func (Namespace) node() {}

func (ServiceDefinition) node() {}

// DiscoverServices walks root recursively and returns every service it
// contains, each with its fully dotted name derived from the path of map
// keys leading to it. Entries are visited in sorted key order at each level,
// so the result is deterministic.
func DiscoverServices(root Namespace) []ServiceDefinition {
	var defs []ServiceDefinition
	discoverServices("", root, &defs)
	return defs
}

func discoverServices(prefix string, ns Namespace, out *[]ServiceDefinition) {
	for _, name := range slices.Sorted(maps.Keys(ns)) {
		full := name
		if prefix != "" {
			full = prefix + "." + name
		}
		switch n := ns[name].(type) {
		case Namespace:
			discoverServices(full, n, out)
		case ServiceDefinition:
			n.Name = full
			*out = append(*out, n)
		}
	}
}
