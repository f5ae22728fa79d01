// Package matcher pairs merge candidates with destination events.
package matcher

import (
	"fmt"

	"calmerge/internal/models"
)

// Match decides which candidates must be added to the destination and which
// destination events no longer correspond to any candidate.
//
// candidates and originals are order-aligned: originals[i] carries the
// pre-redaction identity of candidates[i]. Destination events are visited in
// order; each consumes the first unconsumed pair whose redacted or original
// key equals its own. Matching is one-to-one. A destination event that
// consumes nothing is returned in toRemove, and every pair left unconsumed
// is returned in toAdd as its (redacted) candidate, in candidate order.
func Match(candidates, originals, destination []models.Event) (toAdd, toRemove []models.Event) {
	if len(candidates) != len(originals) {
		panic(fmt.Sprintf("matcher: %d candidates but %d originals", len(candidates), len(originals)))
	}

	idx := newIndex(candidates, originals)
	consumed := make([]bool, len(candidates))

	for _, d := range destination {
		i, ok := idx.first(d.Key(), consumed)
		if !ok {
			toRemove = append(toRemove, d)
			continue
		}
		consumed[i] = true
	}

	for i, c := range candidates {
		if !consumed[i] {
			toAdd = append(toAdd, c)
		}
	}
	return toAdd, toRemove
}

// index maps an identity key to the ascending positions of the pairs that
// carry it, either as redacted or as original key.
type index map[models.Key][]int

func newIndex(candidates, originals []models.Event) index {
	idx := make(index, len(candidates))
	for i := range candidates {
		ck := candidates[i].Key()
		ok := originals[i].Key()
		idx[ck] = append(idx[ck], i)
		if ok != ck {
			idx[ok] = append(idx[ok], i)
		}
	}
	return idx
}

// first returns the lowest unconsumed position recorded under k.
// Consumed positions at the head of the list are dropped as they are found.
func (idx index) first(k models.Key, consumed []bool) (int, bool) {
	positions := idx[k]
	for len(positions) > 0 && consumed[positions[0]] {
		positions = positions[1:]
	}
	idx[k] = positions
	if len(positions) == 0 {
		return 0, false
	}
	return positions[0], true
}
