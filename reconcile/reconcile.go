// Package reconcile matches the live roster against a registry snapshot.
package reconcile

import (
	"golang.org/x/exp/slices"

	"github.com/fancoin/rostermint/names"
	"github.com/fancoin/rostermint/registry"
)

// Reconcile canonicalizes the raw roster names and returns the ones that
// are registered in snap. It has no side effects; the order of raw does
// not matter.
func Reconcile(raw []string, snap *registry.Snapshot) names.Set {
	matched := make(names.Set)
	if snap == nil || snap.Len() == 0 {
		return matched
	}
	for _, r := range raw {
		name := names.Canonical(r)
		if name == "" {
			continue
		}
		if _, ok := snap.Lookup(name); ok {
			matched[name] = struct{}{}
		}
	}
	return matched
}

// Order returns the matched names by ascending sequence index, so that the
// same input always yields the same batches. Names unknown to snap sort
// last, by name.
func Order(matched names.Set, snap *registry.Snapshot) []string {
	ordered := matched.Sorted()
	slices.SortStableFunc(ordered, func(a, b string) bool {
		ia, okA := snap.Lookup(a)
		ib, okB := snap.Lookup(b)
		switch {
		case okA && okB:
			return ia.SequenceIndex < ib.SequenceIndex
		default:
			return okA && !okB
		}
	})
	return ordered
}
