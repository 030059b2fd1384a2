package script

import (
	"fmt"
	"sort"
)

// Sort returns a new slice of scripts sorted by ID in lexicographic order.
// Identifiers are authored so that lexical order is chronological order;
// no other key is ever consulted.
func Sort(scripts []Script) []Script {
	sorted := make([]Script, len(scripts))
	copy(sorted, scripts)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})

	return sorted
}

// CheckUnique returns ErrDuplicateID if two adjacent scripts of a sorted
// slice share an identifier.
func CheckUnique(sorted []Script) error {
	for i := 1; i < len(sorted); i++ {
		if sorted[i].ID == sorted[i-1].ID {
			return fmt.Errorf("%w: %s (%s, %s)", ErrDuplicateID, sorted[i].ID, sorted[i-1].FilePath, sorted[i].FilePath)
		}
	}

	return nil
}
